package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/extract"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

const testDocID = "1b4e28ba-2fa1-41d2-883f-0016d3cca427"

func para(text string) extract.Block {
	return extract.Block{Kind: extract.BlockParagraph, Text: text}
}

func heading(level int, text string) extract.Block {
	return extract.Block{Kind: extract.BlockHeading, Level: level, Text: text}
}

func TestSplitEmptyDocument(t *testing.T) {
	c := New(Config{})

	chunks, err := c.Split(testDocID, []extract.Block{para("")})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Empty(t, chunks[0].Text)
	assert.Zero(t, chunks[0].TokenEstimate)

	wantID, err := knowledge.NewChunkID(testDocID, 0)
	require.NoError(t, err)
	assert.Equal(t, wantID, chunks[0].ID)
}

func TestSplitSingleParagraph(t *testing.T) {
	c := New(Config{})

	chunks, err := c.Split(testDocID, []extract.Block{para("hello world")})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world", chunks[0].Text)
	assert.Equal(t, 0, chunks[0].StartOffset)
	assert.Equal(t, 11, chunks[0].EndOffset)
	assert.Equal(t, knowledge.ChunkKindProse, chunks[0].Kind)
	assert.Equal(t, testDocID, chunks[0].DocumentID)
}

func TestSplitDeterministicIDs(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{para("alpha"), heading(1, "B"), para("beta")}

	first, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	second, err := c.Split(testDocID, blocks)
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID)
	}

	other, err := c.Split("9e107d9d-372b-4285-b1e5-1f0a3f5b7a10", blocks)
	require.NoError(t, err)
	assert.NotEqual(t, first[0].ID, other[0].ID)
}

func TestSplitRejectsBadDocumentID(t *testing.T) {
	c := New(Config{})
	_, err := c.Split("not-a-uuid", []extract.Block{para("x")})
	require.Error(t, err)
}

func TestSplitSections(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{
		heading(1, "Guide"),
		para("alpha section body."),
		heading(2, "Install"),
		para("beta section body."),
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Guide\n\nalpha section body.", chunks[0].Text)
	assert.Equal(t, []string{"Guide"}, chunks[0].HeadingPath)

	assert.Equal(t, "Guide > Install\n\nbeta section body.", chunks[1].Text)
	assert.Equal(t, []string{"Guide", "Install"}, chunks[1].HeadingPath)

	// Offsets point into the canonical text, not the prefixed chunk text.
	canonical := Render(blocks)
	assert.Equal(t, strings.Index(canonical, "alpha"), chunks[0].StartOffset)
	assert.Equal(t, strings.Index(canonical, "beta"), chunks[1].StartOffset)
	assert.Equal(t, len(canonical), chunks[1].EndOffset)
}

func TestSplitHeadingPrefixCapsAtTwoLevels(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{
		heading(1, "Top"),
		heading(2, "Middle"),
		heading(3, "Leaf"),
		para("content under three levels."),
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	require.Len(t, chunks, 1)

	assert.True(t, strings.HasPrefix(chunks[0].Text, "Middle > Leaf\n\n"))
	assert.Equal(t, []string{"Top", "Middle", "Leaf"}, chunks[0].HeadingPath)
}

func TestSplitSiblingHeadingReplacesDeeperLevels(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{
		heading(1, "Top"),
		heading(2, "First"),
		para("under first."),
		heading(2, "Second"),
		para("under second."),
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, []string{"Top", "First"}, chunks[0].HeadingPath)
	assert.Equal(t, []string{"Top", "Second"}, chunks[1].HeadingPath)
}

func TestSplitNeverCoalescesAcrossHeadings(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{
		heading(2, "One"),
		para("tiny."),
		heading(2, "Two"),
		para("also tiny."),
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	assert.Len(t, chunks, 2)
}

func TestSplitPacksAdjacentParagraphs(t *testing.T) {
	c := New(Config{})
	// Three ~300-token paragraphs: two fit under the 800 target, the third
	// starts a new chunk.
	p := strings.TrimSpace(strings.Repeat("filler words go here ", 57)) // ~300 tokens
	blocks := []extract.Block{para(p), para(p), para(p)}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)

	require.Len(t, chunks, 2)
	assert.Equal(t, p+"\n\n"+p, chunks[0].Text)
	assert.Equal(t, p, chunks[1].Text)
	assert.Equal(t, 0, chunks[0].Ordinal)
	assert.Equal(t, 1, chunks[1].Ordinal)
}

func TestSplitMergesUndersizedTrailingChunk(t *testing.T) {
	c := New(Config{})
	big1 := strings.TrimSpace(strings.Repeat("orbit ", 520))  // ~780 tokens
	big2 := strings.TrimSpace(strings.Repeat("comet ", 527))  // ~790 tokens
	small := strings.TrimSpace(strings.Repeat("tail ", 80))   // ~100 tokens

	chunks, err := c.Split(testDocID, []extract.Block{para(big1), para(big2), para(small)})
	require.NoError(t, err)

	// Greedy packing yields three chunks; the undersized trailer merges
	// back into its predecessor.
	require.Len(t, chunks, 2)
	assert.Contains(t, chunks[1].Text, "comet")
	assert.Contains(t, chunks[1].Text, "tail")
	assert.Greater(t, chunks[1].TokenEstimate, 800)
	assert.LessOrEqual(t, chunks[1].TokenEstimate, 1200)
}

func TestSplitLongParagraphOnSentences(t *testing.T) {
	c := New(Config{})
	var sb strings.Builder
	for i := 0; i < 120; i++ {
		sb.WriteString("The quick brown fox jumps over the lazy dog once more. ")
	}
	text := strings.TrimSpace(sb.String())
	require.Greater(t, EstimateTokens(text), 1200)

	chunks, err := c.Split(testDocID, []extract.Block{para(text)})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(chunks), 2)
	canonical := Render([]extract.Block{para(text)})
	runes := []rune(canonical)
	for i, ch := range chunks {
		assert.LessOrEqual(t, ch.TokenEstimate, 1200, "chunk %d over ceiling", i)
		assert.True(t, strings.HasSuffix(ch.Text, "."), "chunk %d cuts mid-sentence", i)
		// Sentence runs are verbatim substrings of the canonical text.
		assert.Equal(t, string(runes[ch.StartOffset:ch.EndOffset]), ch.Text)
		if i > 0 {
			assert.GreaterOrEqual(t, ch.StartOffset, chunks[i-1].StartOffset)
		}
	}
}

func TestSplitWindowsTextWithoutSentenceBreaks(t *testing.T) {
	c := New(Config{})
	text := strings.TrimSpace(strings.Repeat("token ", 1400)) // ~2100 tokens, no punctuation
	chunks, err := c.Split(testDocID, []extract.Block{para(text)})
	require.NoError(t, err)

	require.GreaterOrEqual(t, len(chunks), 2)
	for i := 1; i < len(chunks); i++ {
		// Overlap: each window starts before the previous one ended.
		assert.Less(t, chunks[i].StartOffset, chunks[i-1].EndOffset)
		assert.Greater(t, chunks[i].StartOffset, chunks[i-1].StartOffset)
	}
}

func TestSplitKeepsTableRowsWhole(t *testing.T) {
	c := New(Config{})
	row := "region-with-a-rather-long-name | 1234567 | 89.5 | active | 2024-01-01"
	blocks := make([]extract.Block, 0, 120)
	for i := 0; i < 120; i++ {
		blocks = append(blocks, extract.Block{Kind: extract.BlockTableRow, Text: row})
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(chunks), 2)

	for _, ch := range chunks {
		assert.Equal(t, knowledge.ChunkKindTable, ch.Kind)
		for _, line := range strings.Split(ch.Text, "\n\n") {
			assert.Equal(t, row, line)
		}
	}
}

func TestSplitTranscriptSegments(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{
		{Kind: extract.BlockTranscript, Text: "welcome to the meeting", StartSec: 0, EndSec: 4},
		{Kind: extract.BlockTranscript, Text: "first agenda item", StartSec: 4, EndSec: 9},
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, knowledge.ChunkKindTranscript, chunks[0].Kind)
	assert.Equal(t, "welcome to the meeting\n\nfirst agenda item", chunks[0].Text)
}

func TestSplitHeadingOnlyDocument(t *testing.T) {
	c := New(Config{})
	chunks, err := c.Split(testDocID, []extract.Block{heading(1, "Title Only")})
	require.NoError(t, err)

	require.Len(t, chunks, 1)
	assert.Equal(t, "Title Only", chunks[0].Text)
	assert.Equal(t, knowledge.ChunkKindProse, chunks[0].Kind)
}

func TestSplitMixedProseAndCodeSection(t *testing.T) {
	c := New(Config{})
	blocks := []extract.Block{
		heading(1, "Usage"),
		para("Run the daemon like this:"),
		{Kind: extract.BlockCode, Text: "keeperd --config /etc/keeperd.yaml", Language: "shell"},
	}

	chunks, err := c.Split(testDocID, blocks)
	require.NoError(t, err)

	// Prose and an inline snippet under one heading coalesce.
	require.Len(t, chunks, 1)
	assert.Equal(t, knowledge.ChunkKindProse, chunks[0].Kind)
	assert.Contains(t, chunks[0].Text, "Run the daemon")
	assert.Contains(t, chunks[0].Text, "keeperd --config")
}

func TestRender(t *testing.T) {
	blocks := []extract.Block{para("a"), heading(1, "B"), para("c")}
	assert.Equal(t, "a\n\nB\n\nc", Render(blocks))
	assert.Equal(t, "", Render(nil))
}
