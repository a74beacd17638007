package chunk

import (
	"strings"
	"unicode/utf8"

	"github.com/finderskeepers/keeperd/internal/extract"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// Config bounds chunk sizes in estimated tokens.
type Config struct {
	// TargetTokens is the packing threshold; chunks aim for this size.
	TargetTokens int

	// MaxTokens is the hard ceiling. Divisible content is split below it;
	// only indivisible units (a single table row, one transcript segment)
	// may exceed it.
	MaxTokens int

	// MinTokens is the soft floor. A trailing chunk below it merges into
	// its predecessor when the merge stays under MaxTokens.
	MinTokens int

	// OverlapTokens is carried between consecutive fixed-window pieces so
	// no sentence context is lost at a forced cut.
	OverlapTokens int
}

func (c Config) withDefaults() Config {
	if c.TargetTokens <= 0 {
		c.TargetTokens = 800
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 1200
	}
	if c.MinTokens <= 0 {
		c.MinTokens = 200
	}
	if c.OverlapTokens <= 0 {
		c.OverlapTokens = 100
	}
	return c
}

// Chunker turns extracted blocks into ordered chunks.
type Chunker struct {
	cfg Config
}

func New(cfg Config) *Chunker {
	return &Chunker{cfg: cfg.withDefaults()}
}

// Render produces the canonical text layout of the blocks: block texts
// joined by blank lines. Offsets in chunks index into this string (by
// rune), and the content hash is computed over it, so this is the single
// definition of "the normalized text" of a document.
func Render(blocks []extract.Block) string {
	texts := make([]string, len(blocks))
	for i, b := range blocks {
		texts[i] = b.Text
	}
	return strings.Join(texts, "\n\n")
}

// unit is an indivisible piece of one block after structural splitting.
type unit struct {
	text  string
	start int // rune offset into the canonical text
	end   int
	code  bool
}

// group is a run of units sharing heading ancestry and structural class.
// Chunks never span groups.
type group struct {
	path  []string
	class knowledge.ChunkKind
	units []unit
}

// Split cuts the blocks into chunks with deterministic ids. Blocks are
// assumed normalized; offsets refer to Render(blocks).
func (c *Chunker) Split(documentID string, blocks []extract.Block) ([]knowledge.Chunk, error) {
	canonical := Render(blocks)
	if strings.TrimSpace(canonical) == "" {
		return c.emptyDocument(documentID)
	}

	groups := c.buildGroups(blocks)
	if len(groups) == 0 {
		// Headings with no body under them: fall back to one prose chunk
		// covering the whole canonical text.
		groups = []group{{
			class: knowledge.ChunkKindProse,
			units: []unit{{text: canonical, start: 0, end: utf8.RuneCountInString(canonical)}},
		}}
	}

	runes := []rune(canonical)
	var chunks []knowledge.Chunk
	for _, g := range groups {
		chunks = c.packGroup(chunks, g, runes)
	}

	for i := range chunks {
		id, err := knowledge.NewChunkID(documentID, i)
		if err != nil {
			return nil, err
		}
		chunks[i].ID = id
		chunks[i].DocumentID = documentID
		chunks[i].Ordinal = i
	}
	return chunks, nil
}

func (c *Chunker) emptyDocument(documentID string) ([]knowledge.Chunk, error) {
	id, err := knowledge.NewChunkID(documentID, 0)
	if err != nil {
		return nil, err
	}
	return []knowledge.Chunk{{
		ID:         id,
		DocumentID: documentID,
		Ordinal:    0,
		Kind:       knowledge.ChunkKindProse,
	}}, nil
}

// buildGroups walks the blocks, tracking heading ancestry and splitting
// each block into units. Headings open a new group and are not units
// themselves; their text reappears as the heading-path prefix.
func (c *Chunker) buildGroups(blocks []extract.Block) []group {
	type headingFrame struct {
		level int
		text  string
	}

	var (
		stack  []headingFrame
		groups []group
	)

	path := func() []string {
		p := make([]string, len(stack))
		for i, f := range stack {
			p[i] = f.text
		}
		return p
	}

	appendUnits := func(class knowledge.ChunkKind, units []unit) {
		if len(units) == 0 {
			return
		}
		p := path()
		if n := len(groups); n > 0 && groups[n-1].class == class && samePath(groups[n-1].path, p) {
			groups[n-1].units = append(groups[n-1].units, units...)
			return
		}
		groups = append(groups, group{path: p, class: class, units: units})
	}

	offset := 0
	for i, b := range blocks {
		start := offset
		runes := utf8.RuneCountInString(b.Text)
		offset += runes
		if i < len(blocks)-1 {
			offset += 2 // the "\n\n" joiner in Render
		}

		switch b.Kind {
		case extract.BlockHeading:
			level := b.Level
			if level <= 0 {
				level = 1
			}
			for len(stack) > 0 && stack[len(stack)-1].level >= level {
				stack = stack[:len(stack)-1]
			}
			stack = append(stack, headingFrame{level: level, text: b.Text})

		case extract.BlockTableRow:
			appendUnits(knowledge.ChunkKindTable, []unit{{text: b.Text, start: start, end: start + runes}})

		case extract.BlockTranscript:
			appendUnits(knowledge.ChunkKindTranscript, []unit{{text: b.Text, start: start, end: start + runes}})

		case extract.BlockCode:
			appendUnits(knowledge.ChunkKindProse, c.codeUnits(b.Text, start))

		default: // paragraphs and captions
			appendUnits(knowledge.ChunkKindProse, c.proseUnits(b.Text, start))
		}
	}
	return groups
}

// proseUnits keeps a paragraph whole when it fits, otherwise splits it into
// sentences and re-packs them into contiguous runs near the target size,
// windowing any sentence that alone exceeds the ceiling. Runs are verbatim
// substrings of the paragraph, so original spacing survives.
func (c *Chunker) proseUnits(text string, base int) []unit {
	if EstimateTokens(text) <= c.cfg.MaxTokens {
		return []unit{{text: text, start: base, end: base + utf8.RuneCountInString(text)}}
	}

	runes := []rune(text)
	var spans []span
	for _, s := range splitSentences(text) {
		if EstimateTokens(s.text) <= c.cfg.MaxTokens {
			spans = append(spans, s)
			continue
		}
		for _, w := range windowWords(s.text, c.cfg.TargetTokens, c.cfg.OverlapTokens) {
			spans = append(spans, span{text: w.text, start: s.start + w.start, end: s.start + w.end})
		}
	}

	var units []unit
	for _, p := range packSpans(runes, spans, c.cfg.TargetTokens) {
		units = append(units, unit{text: p.text, start: base + p.start, end: base + p.end})
	}
	return units
}

// codeUnits keeps a code block whole when it fits, otherwise splits it at
// top-level declaration boundaries.
func (c *Chunker) codeUnits(text string, base int) []unit {
	if EstimateTokens(text) <= c.cfg.MaxTokens {
		return []unit{{text: text, start: base, end: base + utf8.RuneCountInString(text), code: true}}
	}

	var units []unit
	for _, p := range splitCode(text, c.cfg.TargetTokens, c.cfg.MaxTokens, c.cfg.OverlapTokens) {
		units = append(units, unit{text: p.text, start: base + p.start, end: base + p.end, code: true})
	}
	return units
}

// packGroup greedily packs a group's units into chunks around the target
// size, then merges an undersized trailing chunk into its predecessor.
func (c *Chunker) packGroup(chunks []knowledge.Chunk, g group, canonical []rune) []knowledge.Chunk {
	prefix := headingPrefix(g.path)
	firstOfGroup := len(chunks)

	var (
		cur       []unit
		curTokens int
	)
	flush := func() {
		if len(cur) == 0 {
			return
		}
		chunks = append(chunks, c.materialize(g, prefix, cur))
		cur = nil
		curTokens = 0
	}

	for _, u := range g.units {
		t := EstimateTokens(u.text)
		if len(cur) > 0 && curTokens+t > c.cfg.TargetTokens {
			flush()
		}
		cur = append(cur, u)
		curTokens += t
	}
	flush()

	// Soft minimum: a small trailing chunk joins its predecessor when the
	// pair still fits under the hard ceiling. The merged body is rebuilt
	// from the canonical text so original spacing between the pieces is
	// kept.
	if n := len(chunks); n-firstOfGroup >= 2 {
		last, prev := chunks[n-1], chunks[n-2]
		if last.TokenEstimate < c.cfg.MinTokens && prev.TokenEstimate+last.TokenEstimate <= c.cfg.MaxTokens {
			prev.Text = prefix + string(canonical[prev.StartOffset:last.EndOffset])
			prev.EndOffset = last.EndOffset
			prev.TokenEstimate = EstimateTokens(prev.Text)
			chunks[n-2] = prev
			chunks = chunks[:n-1]
		}
	}
	return chunks
}

func (c *Chunker) materialize(g group, prefix string, units []unit) knowledge.Chunk {
	parts := make([]string, len(units))
	allCode := true
	for i, u := range units {
		parts[i] = u.text
		allCode = allCode && u.code
	}

	text := prefix + strings.Join(parts, "\n\n")
	kind := g.class
	if kind == knowledge.ChunkKindProse && allCode {
		kind = knowledge.ChunkKindCode
	}

	return knowledge.Chunk{
		Text:          text,
		StartOffset:   units[0].start,
		EndOffset:     units[len(units)-1].end,
		TokenEstimate: EstimateTokens(text),
		HeadingPath:   append([]string(nil), g.path...),
		Kind:          kind,
	}
}

// headingPrefix renders at most the last two heading levels as context that
// repeats at the top of every chunk in the section.
func headingPrefix(path []string) string {
	if len(path) == 0 {
		return ""
	}
	tail := path
	if len(tail) > 2 {
		tail = tail[len(tail)-2:]
	}
	return strings.Join(tail, " > ") + "\n\n"
}

func samePath(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
