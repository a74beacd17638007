package extract

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// textExtractor handles plain text: paragraphs split on blank lines.
type textExtractor struct{}

func (*textExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatText
}

func (*textExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	doc := &RawDocument{}
	for _, para := range splitParagraphs(string(item.Data)) {
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: para})
	}
	if len(doc.Blocks) == 0 {
		doc.Blocks = []Block{{Kind: BlockParagraph}}
	}
	return doc, nil
}

// codeExtractor keeps source files verbatim: one code block, no re-flowing.
type codeExtractor struct{}

func (*codeExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag.IsCode()
}

func (*codeExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	return &RawDocument{
		Title: filepath.Base(item.Filename),
		Blocks: []Block{{
			Kind:     BlockCode,
			Text:     string(item.Data),
			Language: item.Format.Qualifier(),
		}},
	}, nil
}

// splitParagraphs splits text on runs of blank lines. Whitespace-only lines
// count as blank. CRLF input is normalized first.
func splitParagraphs(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var paras []string
	var current []string
	flush := func() {
		if len(current) > 0 {
			paras = append(paras, strings.Join(current, "\n"))
			current = current[:0]
		}
	}

	for _, line := range strings.Split(text, "\n") {
		if strings.TrimSpace(line) == "" {
			flush()
			continue
		}
		current = append(current, line)
	}
	flush()
	return paras
}
