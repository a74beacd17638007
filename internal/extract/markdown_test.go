package extract

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func TestMarkdownExtractor(t *testing.T) {
	src := `# Release Notes

First paragraph spans
two lines.

## Changes

` + "```go\nfunc main() {}\n```" + `

| name | version |
|------|---------|
| keeperd | 2.0 |
`

	e := &markdownExtractor{}
	doc, err := e.Extract(context.Background(), &Item{
		Data:   []byte(src),
		Format: knowledge.FormatMarkdown,
	})
	require.NoError(t, err)

	assert.Equal(t, "Release Notes", doc.Title)
	require.Len(t, doc.Blocks, 6)

	assert.Equal(t, BlockHeading, doc.Blocks[0].Kind)
	assert.Equal(t, 1, doc.Blocks[0].Level)

	assert.Equal(t, BlockParagraph, doc.Blocks[1].Kind)
	assert.Equal(t, "First paragraph spans\ntwo lines.", doc.Blocks[1].Text)

	assert.Equal(t, BlockHeading, doc.Blocks[2].Kind)
	assert.Equal(t, 2, doc.Blocks[2].Level)
	assert.Equal(t, "Changes", doc.Blocks[2].Text)

	assert.Equal(t, BlockCode, doc.Blocks[3].Kind)
	assert.Equal(t, "go", doc.Blocks[3].Language)
	assert.Equal(t, "func main() {}", doc.Blocks[3].Text)

	assert.Equal(t, BlockTableRow, doc.Blocks[4].Kind)
	assert.Equal(t, []string{"name", "version"}, doc.Blocks[4].Cells)

	assert.Equal(t, BlockTableRow, doc.Blocks[5].Kind)
	assert.Equal(t, []string{"keeperd", "2.0"}, doc.Blocks[5].Cells)
}

func TestParseMarkdownFences(t *testing.T) {
	t.Run("unterminated fence runs to end", func(t *testing.T) {
		doc := parseMarkdown("```python\nprint(1)\nprint(2)")
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockCode, doc.Blocks[0].Kind)
		assert.Equal(t, "python", doc.Blocks[0].Language)
		assert.Equal(t, "print(1)\nprint(2)", doc.Blocks[0].Text)
	})

	t.Run("tilde fence", func(t *testing.T) {
		doc := parseMarkdown("~~~\nraw\n~~~")
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockCode, doc.Blocks[0].Kind)
		assert.Empty(t, doc.Blocks[0].Language)
	})

	t.Run("fence never reclassifies the document", func(t *testing.T) {
		doc := parseMarkdown("intro\n\n```go\ncode\n```\n\noutro")
		require.Len(t, doc.Blocks, 3)
		assert.Equal(t, BlockParagraph, doc.Blocks[0].Kind)
		assert.Equal(t, BlockCode, doc.Blocks[1].Kind)
		assert.Equal(t, BlockParagraph, doc.Blocks[2].Kind)
	})
}

func TestParseMarkdownHeadings(t *testing.T) {
	t.Run("hash without space is a paragraph", func(t *testing.T) {
		doc := parseMarkdown("#hashtag")
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockParagraph, doc.Blocks[0].Kind)
	})

	t.Run("seven hashes is a paragraph", func(t *testing.T) {
		doc := parseMarkdown("####### too deep")
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockParagraph, doc.Blocks[0].Kind)
	})

	t.Run("closing hashes stripped", func(t *testing.T) {
		doc := parseMarkdown("## Section ##")
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, "Section", doc.Blocks[0].Text)
	})

	t.Run("title is first h1 only", func(t *testing.T) {
		doc := parseMarkdown("## sub\n\n# First\n\n# Second")
		assert.Equal(t, "First", doc.Title)
	})
}

func TestParseMarkdownTableSeparator(t *testing.T) {
	doc := parseMarkdown("| a | b |\n|:--|--:|\n| 1 | 2 |")
	require.Len(t, doc.Blocks, 2)
	assert.Equal(t, []string{"a", "b"}, doc.Blocks[0].Cells)
	assert.Equal(t, []string{"1", "2"}, doc.Blocks[1].Cells)
	assert.Equal(t, "1 | 2", doc.Blocks[1].Text)
}

func TestParseMarkdownEmpty(t *testing.T) {
	doc := parseMarkdown("")
	require.Len(t, doc.Blocks, 1)
	assert.Equal(t, BlockParagraph, doc.Blocks[0].Kind)
	assert.Empty(t, doc.Blocks[0].Text)
}
