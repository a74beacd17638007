package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// maxOOXMLPartBytes caps a single decompressed OOXML part. Guards against
// zip bombs inside otherwise size-checked uploads.
const maxOOXMLPartBytes = 64 << 20

// officeExtractor walks OOXML containers: docx paragraphs and tables, xlsx
// sheet rows, pptx slide text, all in document order.
type officeExtractor struct{}

func (*officeExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag.Family() == "office"
}

func (e *officeExtractor) Extract(_ context.Context, item *Item) (*RawDocument, error) {
	zr, err := zip.NewReader(bytes.NewReader(item.Data), int64(len(item.Data)))
	if err != nil {
		return nil, knowledge.Extractionf("opening %s container: %v", item.Format.Qualifier(), err)
	}

	switch item.Format.Qualifier() {
	case "docx":
		return extractDocx(zr)
	case "xlsx":
		return extractXlsx(zr)
	case "pptx":
		return extractPptx(zr)
	}
	return nil, fmt.Errorf("%w: office kind %q", knowledge.ErrUnsupportedFormat, item.Format.Qualifier())
}

func extractDocx(zr *zip.Reader) (*RawDocument, error) {
	data, err := readZipPart(zr, "word/document.xml")
	if err != nil {
		return nil, knowledge.Extractionf("docx: %v", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	doc := &RawDocument{}

	var (
		para     strings.Builder
		cell     strings.Builder
		rowCells []string
		style    string
		inPara   bool
		inTable  bool
		inCell   bool
		inText   bool
	)

	flushPara := func() {
		text := strings.TrimSpace(para.String())
		para.Reset()
		if text == "" {
			return
		}
		if level := headingStyleLevel(style); level > 0 {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Level: level, Text: text})
			if doc.Title == "" && level == 1 {
				doc.Title = text
			}
			return
		}
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: text})
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, knowledge.Extractionf("docx: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "tbl":
				inTable = true
			case "tr":
				rowCells = rowCells[:0]
			case "tc":
				inCell = true
				cell.Reset()
			case "p":
				if !inTable {
					inPara = true
					para.Reset()
					style = ""
				}
			case "pStyle":
				for _, a := range t.Attr {
					if a.Name.Local == "val" {
						style = a.Value
					}
				}
			case "t":
				inText = true
			case "tab":
				writeRun(&para, &cell, inPara, inCell, "\t")
			case "br":
				writeRun(&para, &cell, inPara, inCell, "\n")
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "tbl":
				inTable = false
			case "tr":
				if len(rowCells) > 0 {
					cells := append([]string(nil), rowCells...)
					doc.Blocks = append(doc.Blocks, Block{
						Kind:  BlockTableRow,
						Cells: cells,
						Text:  strings.Join(cells, " | "),
					})
				}
			case "tc":
				inCell = false
				rowCells = append(rowCells, strings.TrimSpace(cell.String()))
			case "p":
				if inPara && !inTable {
					inPara = false
					flushPara()
				}
			case "t":
				inText = false
			}
		case xml.CharData:
			if inText {
				writeRun(&para, &cell, inPara, inCell, string(t))
			}
		}
	}

	if len(doc.Blocks) == 0 {
		return nil, knowledge.Extractionf("docx: no text content")
	}
	return doc, nil
}

func writeRun(para, cell *strings.Builder, inPara, inCell bool, s string) {
	if inCell {
		cell.WriteString(s)
	} else if inPara {
		para.WriteString(s)
	}
}

// headingStyleLevel maps Word paragraph styles to heading levels.
func headingStyleLevel(style string) int {
	if style == "Title" {
		return 1
	}
	if rest, ok := strings.CutPrefix(style, "Heading"); ok {
		if n, err := strconv.Atoi(rest); err == nil && n >= 1 {
			if n > 6 {
				return 6
			}
			return n
		}
	}
	return 0
}

func extractXlsx(zr *zip.Reader) (*RawDocument, error) {
	shared := parseSharedStrings(zr)
	names := parseSheetNames(zr)

	sheetFiles := numberedParts(zr, regexp.MustCompile(`^xl/worksheets/sheet(\d+)\.xml$`))
	if len(sheetFiles) == 0 {
		return nil, knowledge.Extractionf("xlsx: no worksheets")
	}

	doc := &RawDocument{}
	for idx, f := range sheetFiles {
		name := fmt.Sprintf("Sheet %d", idx+1)
		if idx < len(names) && names[idx] != "" {
			name = names[idx]
		}
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockHeading, Level: 2, Text: name})

		if err := appendSheetRows(doc, f, shared); err != nil {
			return nil, err
		}
	}

	if len(doc.Blocks) == 0 {
		return nil, knowledge.Extractionf("xlsx: no text content")
	}
	return doc, nil
}

func appendSheetRows(doc *RawDocument, f *zip.File, shared []string) error {
	data, err := readOpenedPart(f)
	if err != nil {
		return knowledge.Extractionf("xlsx: %v", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))

	var (
		cells    []string
		value    strings.Builder
		cellType string
		inValue  bool
		inInline bool
	)

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return knowledge.Extractionf("xlsx: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "row":
				cells = cells[:0]
			case "c":
				cellType = ""
				for _, a := range t.Attr {
					if a.Name.Local == "t" {
						cellType = a.Value
					}
				}
			case "v":
				inValue = true
				value.Reset()
			case "is":
				inInline = true
			case "t":
				if inInline {
					inValue = true
					value.Reset()
				}
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "row":
				if row := trimTrailingEmpty(cells); len(row) > 0 {
					doc.Blocks = append(doc.Blocks, Block{
						Kind:  BlockTableRow,
						Cells: append([]string(nil), row...),
						Text:  strings.Join(row, " | "),
					})
				}
			case "v", "t":
				if !inValue {
					continue
				}
				inValue = false
				v := value.String()
				if cellType == "s" {
					if idx, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && idx >= 0 && idx < len(shared) {
						v = shared[idx]
					}
				}
				cells = append(cells, strings.TrimSpace(v))
			case "is":
				inInline = false
			}
		case xml.CharData:
			if inValue {
				value.Write(t)
			}
		}
	}
	return nil
}

// sharedStringItem collects the concatenated <t> runs of one <si>.
func parseSharedStrings(zr *zip.Reader) []string {
	data, err := readZipPart(zr, "xl/sharedStrings.xml")
	if err != nil {
		return nil
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		shared  []string
		current strings.Builder
		inItem  bool
		inText  bool
	)
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "si":
				inItem = true
				current.Reset()
			case "t":
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "si":
				inItem = false
				shared = append(shared, current.String())
			case "t":
				inText = false
			}
		case xml.CharData:
			if inItem && inText {
				current.Write(t)
			}
		}
	}
	return shared
}

func parseSheetNames(zr *zip.Reader) []string {
	data, err := readZipPart(zr, "xl/workbook.xml")
	if err != nil {
		return nil
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var names []string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		if t, ok := tok.(xml.StartElement); ok && t.Name.Local == "sheet" {
			for _, a := range t.Attr {
				if a.Name.Local == "name" {
					names = append(names, a.Value)
				}
			}
		}
	}
	return names
}

func extractPptx(zr *zip.Reader) (*RawDocument, error) {
	slideFiles := numberedParts(zr, regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`))
	if len(slideFiles) == 0 {
		return nil, knowledge.Extractionf("pptx: no slides")
	}

	doc := &RawDocument{}
	for idx, f := range slideFiles {
		doc.Blocks = append(doc.Blocks, Block{
			Kind:  BlockHeading,
			Level: 2,
			Text:  fmt.Sprintf("Slide %d", idx+1),
		})
		if err := appendSlideText(doc, f); err != nil {
			return nil, err
		}
	}
	return doc, nil
}

func appendSlideText(doc *RawDocument, f *zip.File) error {
	data, err := readOpenedPart(f)
	if err != nil {
		return knowledge.Extractionf("pptx: %v", err)
	}

	dec := xml.NewDecoder(bytes.NewReader(data))
	var (
		para   strings.Builder
		inText bool
	)
	flush := func() {
		if text := strings.TrimSpace(para.String()); text != "" {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: text})
		}
		para.Reset()
	}

	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return knowledge.Extractionf("pptx: %v", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "t" {
				inText = true
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				flush()
			}
		case xml.CharData:
			if inText {
				para.Write(t)
			}
		}
	}
	flush()
	return nil
}

// numberedParts returns archive entries matching pattern, sorted by their
// numeric capture group.
func numberedParts(zr *zip.Reader, pattern *regexp.Regexp) []*zip.File {
	type numbered struct {
		n int
		f *zip.File
	}
	var parts []numbered
	for _, f := range zr.File {
		m := pattern.FindStringSubmatch(f.Name)
		if m == nil {
			continue
		}
		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		parts = append(parts, numbered{n: n, f: f})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].n < parts[j].n })

	files := make([]*zip.File, len(parts))
	for i, p := range parts {
		files[i] = p.f
	}
	return files
}

func readZipPart(zr *zip.Reader, name string) ([]byte, error) {
	for _, f := range zr.File {
		if f.Name == name {
			return readOpenedPart(f)
		}
	}
	return nil, fmt.Errorf("missing part %s", name)
}

func readOpenedPart(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, fmt.Errorf("opening part %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, maxOOXMLPartBytes+1))
	if err != nil {
		return nil, fmt.Errorf("reading part %s: %w", f.Name, err)
	}
	if len(data) > maxOOXMLPartBytes {
		return nil, fmt.Errorf("part %s exceeds size limit", f.Name)
	}
	return data, nil
}

// trimTrailingEmpty drops empty trailing cells so sparse sheets don't emit
// rows of separators.
func trimTrailingEmpty(cells []string) []string {
	end := len(cells)
	for end > 0 && cells[end-1] == "" {
		end--
	}
	return cells[:end]
}
