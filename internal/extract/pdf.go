package extract

import (
	"bytes"
	"context"
	"strings"

	"github.com/dslipak/pdf"

	"github.com/finderskeepers/keeperd/internal/extract/ocr"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// sparsePageChars is the text-layer threshold below which a page is treated
// as scanned and handed to OCR.
const sparsePageChars = 50

// pdfExtractor reads the embedded text layer per page, falling back to OCR
// for pages without one. Page boundaries become paragraph breaks.
type pdfExtractor struct {
	ocr ocr.Engine
}

func (*pdfExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatPDF
}

func (e *pdfExtractor) Extract(ctx context.Context, item *Item) (*RawDocument, error) {
	reader, err := pdf.NewReader(bytes.NewReader(item.Data), int64(len(item.Data)))
	if err != nil {
		return nil, knowledge.Extractionf("opening pdf: %v", err)
	}

	doc := &RawDocument{}
	var ocrPages []int

	numPages := reader.NumPage()
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}

		text := ""
		if got, err := page.GetPlainText(nil); err == nil {
			text = strings.TrimSpace(got)
		}

		if len(text) < sparsePageChars && e.ocr != nil {
			res, err := e.ocr.Recognize(ctx, ocr.Request{
				Data: item.Data,
				MIME: "application/pdf",
				Page: i,
			})
			// An OCR error leaves the page with its text layer.
			if err == nil {
				if t := strings.TrimSpace(res.Text); len(t) > len(text) {
					text = t
					ocrPages = append(ocrPages, i)
				}
			}
		}

		if text == "" {
			continue
		}
		for _, para := range splitParagraphs(text) {
			doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: para})
		}
	}

	if len(doc.Blocks) == 0 {
		return nil, knowledge.Extractionf("no extractable text")
	}

	doc.meta()["pages"] = numPages
	if len(ocrPages) > 0 {
		doc.meta()["ocr_pages"] = ocrPages
	}
	return doc, nil
}
