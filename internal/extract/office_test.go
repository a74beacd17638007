package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// buildZip assembles an in-memory zip from part name to content.
func buildZip(t *testing.T, parts map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range parts {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestOfficeExtractorDocx(t *testing.T) {
	document := `<?xml version="1.0"?>
<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">
  <w:body>
    <w:p><w:pPr><w:pStyle w:val="Heading1"/></w:pPr><w:r><w:t>Quarterly Report</w:t></w:r></w:p>
    <w:p><w:r><w:t>Revenue grew by </w:t></w:r><w:r><w:t>12 percent.</w:t></w:r></w:p>
    <w:tbl>
      <w:tr>
        <w:tc><w:p><w:r><w:t>Region</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>Total</w:t></w:r></w:p></w:tc>
      </w:tr>
      <w:tr>
        <w:tc><w:p><w:r><w:t>EMEA</w:t></w:r></w:p></w:tc>
        <w:tc><w:p><w:r><w:t>48</w:t></w:r></w:p></w:tc>
      </w:tr>
    </w:tbl>
  </w:body>
</w:document>`

	data := buildZip(t, map[string]string{"word/document.xml": document})
	e := &officeExtractor{}

	doc, err := e.Extract(context.Background(), &Item{
		Data:   data,
		Format: knowledge.Office("docx"),
	})
	require.NoError(t, err)

	assert.Equal(t, "Quarterly Report", doc.Title)
	require.Len(t, doc.Blocks, 4)

	assert.Equal(t, BlockHeading, doc.Blocks[0].Kind)
	assert.Equal(t, 1, doc.Blocks[0].Level)

	assert.Equal(t, BlockParagraph, doc.Blocks[1].Kind)
	assert.Equal(t, "Revenue grew by 12 percent.", doc.Blocks[1].Text)

	assert.Equal(t, BlockTableRow, doc.Blocks[2].Kind)
	assert.Equal(t, []string{"Region", "Total"}, doc.Blocks[2].Cells)
	assert.Equal(t, []string{"EMEA", "48"}, doc.Blocks[3].Cells)
}

func TestOfficeExtractorDocxMissingPart(t *testing.T) {
	data := buildZip(t, map[string]string{"word/styles.xml": "<styles/>"})
	e := &officeExtractor{}

	_, err := e.Extract(context.Background(), &Item{Data: data, Format: knowledge.Office("docx")})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
}

func TestOfficeExtractorXlsx(t *testing.T) {
	sheet := `<worksheet><sheetData>
		<row><c t="s"><v>0</v></c><c><v>42</v></c></row>
		<row><c t="inlineStr"><is><t>inline</t></is></c><c t="s"><v>1</v></c></row>
	</sheetData></worksheet>`

	data := buildZip(t, map[string]string{
		"xl/workbook.xml":          `<workbook><sheets><sheet name="Metrics" sheetId="1"/></sheets></workbook>`,
		"xl/sharedStrings.xml":     `<sst><si><t>alpha</t></si><si><t>beta</t></si></sst>`,
		"xl/worksheets/sheet1.xml": sheet,
	})
	e := &officeExtractor{}

	doc, err := e.Extract(context.Background(), &Item{Data: data, Format: knowledge.Office("xlsx")})
	require.NoError(t, err)

	require.Len(t, doc.Blocks, 3)
	assert.Equal(t, BlockHeading, doc.Blocks[0].Kind)
	assert.Equal(t, 2, doc.Blocks[0].Level)
	assert.Equal(t, "Metrics", doc.Blocks[0].Text)

	assert.Equal(t, []string{"alpha", "42"}, doc.Blocks[1].Cells)
	assert.Equal(t, []string{"inline", "beta"}, doc.Blocks[2].Cells)
}

func TestOfficeExtractorPptx(t *testing.T) {
	slide := func(text string) string {
		return `<p:sld xmlns:p="http://schemas.openxmlformats.org/presentationml/2006/main"
			xmlns:a="http://schemas.openxmlformats.org/drawingml/2006/main">
			<a:p><a:r><a:t>` + text + `</a:t></a:r></a:p>
		</p:sld>`
	}
	// slide10 sorts after slide2 numerically, not lexically.
	data := buildZip(t, map[string]string{
		"ppt/slides/slide10.xml": slide("End"),
		"ppt/slides/slide1.xml":  slide("Welcome"),
		"ppt/slides/slide2.xml":  slide("Agenda"),
	})
	e := &officeExtractor{}

	doc, err := e.Extract(context.Background(), &Item{Data: data, Format: knowledge.Office("pptx")})
	require.NoError(t, err)

	var paras []string
	for _, b := range doc.Blocks {
		if b.Kind == BlockParagraph {
			paras = append(paras, b.Text)
		}
	}
	assert.Equal(t, []string{"Welcome", "Agenda", "End"}, paras)

	require.GreaterOrEqual(t, len(doc.Blocks), 6)
	assert.Equal(t, "Slide 1", doc.Blocks[0].Text)
}

func TestOfficeExtractorNotAZip(t *testing.T) {
	e := &officeExtractor{}
	_, err := e.Extract(context.Background(), &Item{
		Data:   []byte("plain text, not a container"),
		Format: knowledge.Office("docx"),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
}
