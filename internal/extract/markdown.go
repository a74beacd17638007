package extract

import (
	"context"
	"strings"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// markdownExtractor parses ATX headings, fenced code, pipe tables, and
// paragraphs. Fenced code stays a code block inside the document; it never
// reclassifies the document itself.
type markdownExtractor struct{}

func (*markdownExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatMarkdown
}

func (*markdownExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	return parseMarkdown(string(item.Data)), nil
}

// parseMarkdown splits markdown source into blocks. The HTML extractor
// reuses it after converting pages to markdown.
func parseMarkdown(src string) *RawDocument {
	lines := strings.Split(strings.ReplaceAll(src, "\r\n", "\n"), "\n")
	doc := &RawDocument{}

	var para []string
	flushPara := func() {
		if len(para) > 0 {
			doc.Blocks = append(doc.Blocks, Block{
				Kind: BlockParagraph,
				Text: strings.Join(para, "\n"),
			})
			para = para[:0]
		}
	}

	i := 0
	for i < len(lines) {
		trimmed := strings.TrimSpace(lines[i])

		if marker, lang := fenceOpen(trimmed); marker != "" {
			flushPara()
			var code []string
			i++
			for i < len(lines) {
				if strings.HasPrefix(strings.TrimSpace(lines[i]), marker) {
					i++
					break
				}
				code = append(code, lines[i])
				i++
			}
			doc.Blocks = append(doc.Blocks, Block{
				Kind:     BlockCode,
				Text:     strings.Join(code, "\n"),
				Language: lang,
			})
			continue
		}

		if level, text := headingLine(trimmed); level > 0 {
			flushPara()
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Level: level, Text: text})
			if doc.Title == "" && level == 1 {
				doc.Title = text
			}
			i++
			continue
		}

		if cells, ok := tableRow(trimmed); ok {
			flushPara()
			if !tableSeparator(cells) {
				doc.Blocks = append(doc.Blocks, Block{
					Kind:  BlockTableRow,
					Cells: cells,
					Text:  strings.Join(cells, " | "),
				})
			}
			i++
			continue
		}

		if trimmed == "" {
			flushPara()
			i++
			continue
		}

		para = append(para, lines[i])
		i++
	}
	flushPara()

	if len(doc.Blocks) == 0 {
		doc.Blocks = []Block{{Kind: BlockParagraph}}
	}
	return doc
}

// fenceOpen reports whether line opens a fenced code block, returning the
// fence marker and the info-string language.
func fenceOpen(line string) (marker, lang string) {
	for _, m := range []string{"```", "~~~"} {
		if strings.HasPrefix(line, m) {
			info := strings.TrimSpace(strings.TrimLeft(line, string(m[0])))
			if fields := strings.Fields(info); len(fields) > 0 {
				lang = fields[0]
			}
			return m, lang
		}
	}
	return "", ""
}

// headingLine parses an ATX heading, returning level 0 when line is not one.
func headingLine(line string) (level int, text string) {
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 6 {
		return 0, ""
	}
	rest := line[level:]
	if rest != "" && rest[0] != ' ' && rest[0] != '\t' {
		return 0, ""
	}
	// Strip optional closing hashes.
	return level, strings.TrimSpace(strings.TrimRight(strings.TrimSpace(rest), "#"))
}

// tableRow parses a pipe-table line into cells.
func tableRow(line string) ([]string, bool) {
	if !strings.HasPrefix(line, "|") || !strings.HasSuffix(line, "|") || strings.Count(line, "|") < 2 {
		return nil, false
	}
	inner := strings.TrimSuffix(strings.TrimPrefix(line, "|"), "|")
	parts := strings.Split(inner, "|")
	cells := make([]string, 0, len(parts))
	for _, p := range parts {
		cells = append(cells, strings.TrimSpace(p))
	}
	return cells, true
}

// tableSeparator reports whether cells form the |---|:--| delimiter row.
func tableSeparator(cells []string) bool {
	if len(cells) == 0 {
		return false
	}
	for _, c := range cells {
		c = strings.TrimSpace(c)
		if c == "" {
			return false
		}
		for i, r := range c {
			switch {
			case r == '-':
			case r == ':' && (i == 0 || i == len(c)-1):
			default:
				return false
			}
		}
		if !strings.Contains(c, "-") {
			return false
		}
	}
	return true
}
