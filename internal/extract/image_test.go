package extract

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/extract/ocr"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

type stubOCR struct {
	res     *ocr.Result
	err     error
	lastReq ocr.Request
}

func (s *stubOCR) Recognize(_ context.Context, req ocr.Request) (*ocr.Result, error) {
	s.lastReq = req
	if s.err != nil {
		return nil, s.err
	}
	return s.res, nil
}

func TestImageExtractor(t *testing.T) {
	t.Run("recognized text becomes paragraphs", func(t *testing.T) {
		stub := &stubOCR{res: &ocr.Result{Text: "line one\n\nline two", Confidence: 0.92}}
		e := &imageExtractor{ocr: stub, minConfidence: 0.5}

		doc, err := e.Extract(context.Background(), &Item{
			Data:   []byte{0x89, 0x50, 0x4e, 0x47},
			Format: knowledge.FormatImage,
		})
		require.NoError(t, err)

		assert.Equal(t, true, doc.Metadata["text_recognized"])
		assert.Equal(t, 0.92, doc.Metadata["ocr_confidence"])
		require.Len(t, doc.Blocks, 2)
		assert.Equal(t, BlockParagraph, doc.Blocks[0].Kind)
		assert.Equal(t, "line one", doc.Blocks[0].Text)
	})

	t.Run("low confidence keeps empty caption", func(t *testing.T) {
		stub := &stubOCR{res: &ocr.Result{Text: "garbled", Confidence: 0.2}}
		e := &imageExtractor{ocr: stub, minConfidence: 0.5}

		doc, err := e.Extract(context.Background(), &Item{Format: knowledge.FormatImage})
		require.NoError(t, err)

		assert.Equal(t, false, doc.Metadata["text_recognized"])
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockCaption, doc.Blocks[0].Kind)
		assert.Empty(t, doc.Blocks[0].Text)
	})

	t.Run("empty text keeps empty caption", func(t *testing.T) {
		stub := &stubOCR{res: &ocr.Result{Text: "   ", Confidence: 0.99}}
		e := &imageExtractor{ocr: stub, minConfidence: 0.5}

		doc, err := e.Extract(context.Background(), &Item{Format: knowledge.FormatImage})
		require.NoError(t, err)
		assert.Equal(t, false, doc.Metadata["text_recognized"])
		require.Len(t, doc.Blocks, 1)
		assert.Equal(t, BlockCaption, doc.Blocks[0].Kind)
	})

	t.Run("engine failure fails the item", func(t *testing.T) {
		stub := &stubOCR{err: errors.New("service unavailable")}
		e := &imageExtractor{ocr: stub, minConfidence: 0.5}

		_, err := e.Extract(context.Background(), &Item{Format: knowledge.FormatImage})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
	})

	t.Run("no engine configured", func(t *testing.T) {
		e := &imageExtractor{minConfidence: 0.5}
		_, err := e.Extract(context.Background(), &Item{Format: knowledge.FormatImage})
		require.Error(t, err)
		assert.ErrorIs(t, err, knowledge.ErrExtractionFailed)
	})
}
