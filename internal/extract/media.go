package extract

import (
	"context"

	"github.com/finderskeepers/keeperd/internal/extract/transcribe"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// mediaExtractor transcribes audio and video into timed transcript blocks.
type mediaExtractor struct {
	transcriber transcribe.Transcriber
}

func (*mediaExtractor) Supports(tag knowledge.FormatTag) bool {
	return tag == knowledge.FormatAudio || tag == knowledge.FormatVideo
}

func (e *mediaExtractor) Extract(ctx context.Context, item *Item) (*RawDocument, error) {
	if e.transcriber == nil {
		return nil, knowledge.Extractionf("transcription engine not configured")
	}

	res, err := e.transcriber.Transcribe(ctx, item.Data, item.Filename)
	if err != nil {
		return nil, knowledge.Extractionf("transcription: %v", err)
	}
	if res.Text == "" {
		return nil, knowledge.Extractionf("transcription produced no text")
	}

	doc := &RawDocument{}
	if res.Language != "" {
		doc.meta()["language"] = res.Language
	}
	for _, seg := range res.Segments {
		doc.Blocks = append(doc.Blocks, Block{
			Kind:     BlockTranscript,
			Text:     seg.Text,
			StartSec: seg.Start,
			EndSec:   seg.End,
		})
	}
	if len(doc.Blocks) == 0 {
		doc.Blocks = []Block{{Kind: BlockTranscript, Text: res.Text}}
	}
	return doc, nil
}
