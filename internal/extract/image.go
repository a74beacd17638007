package extract

import (
	"context"
	"strings"

	"github.com/finderskeepers/keeperd/internal/extract/ocr"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// imageExtractor runs OCR over the image. Below the confidence threshold
// the document is recorded with text_recognized=false and an empty caption
// so nothing junk reaches the embedder.
type imageExtractor struct {
	ocr           ocr.Engine
	minConfidence float64
}

func (*imageExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatImage
}

func (e *imageExtractor) Extract(ctx context.Context, item *Item) (*RawDocument, error) {
	if e.ocr == nil {
		return nil, knowledge.Extractionf("ocr engine not configured")
	}

	res, err := e.ocr.Recognize(ctx, ocr.Request{Data: item.Data, MIME: "image/*"})
	if err != nil {
		return nil, knowledge.Extractionf("ocr: %v", err)
	}

	doc := &RawDocument{}
	doc.meta()["ocr_confidence"] = res.Confidence

	text := strings.TrimSpace(res.Text)
	if text == "" || res.Confidence < e.minConfidence {
		doc.meta()["text_recognized"] = false
		doc.Blocks = []Block{{Kind: BlockCaption, Text: ""}}
		return doc, nil
	}

	doc.meta()["text_recognized"] = true
	for _, para := range splitParagraphs(text) {
		doc.Blocks = append(doc.Blocks, Block{Kind: BlockParagraph, Text: para})
	}
	return doc, nil
}
