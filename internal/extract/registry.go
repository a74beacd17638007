package extract

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/finderskeepers/keeperd/internal/extract/ocr"
	"github.com/finderskeepers/keeperd/internal/extract/transcribe"
	"github.com/finderskeepers/keeperd/internal/knowledge"
)

var tracer = otel.Tracer("keeperd.extract")

// Extractor converts one format family into a RawDocument.
type Extractor interface {
	// Supports reports whether this extractor handles the tag.
	Supports(tag knowledge.FormatTag) bool

	// Extract produces the RawDocument or an extraction error. Partial
	// documents are never returned alongside an error.
	Extract(ctx context.Context, item *Item) (*RawDocument, error)
}

// Options wires the external engines extractors depend on. Nil engines
// disable the corresponding families at extraction time, not at startup.
type Options struct {
	OCR              ocr.Engine
	Transcriber      transcribe.Transcriber
	MinOCRConfidence float64
	MaxArchiveDepth  int
}

// Registry dispatches items to the extractor for their format tag.
type Registry struct {
	extractors []Extractor
}

// NewRegistry builds the full extractor set.
func NewRegistry(opts Options) *Registry {
	if opts.MinOCRConfidence <= 0 {
		opts.MinOCRConfidence = 0.5
	}
	if opts.MaxArchiveDepth <= 0 {
		opts.MaxArchiveDepth = 3
	}

	return &Registry{extractors: []Extractor{
		&markdownExtractor{},
		&textExtractor{},
		&codeExtractor{},
		&dataExtractor{},
		&csvExtractor{},
		&htmlExtractor{},
		&pdfExtractor{ocr: opts.OCR},
		&officeExtractor{},
		&imageExtractor{ocr: opts.OCR, minConfidence: opts.MinOCRConfidence},
		&mediaExtractor{transcriber: opts.Transcriber},
		&archiveExtractor{maxDepth: opts.MaxArchiveDepth},
	}}
}

// ForTag returns the extractor responsible for tag.
func (r *Registry) ForTag(tag knowledge.FormatTag) (Extractor, error) {
	for _, e := range r.extractors {
		if e.Supports(tag) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("%w: no extractor for %q", knowledge.ErrUnsupportedFormat, tag)
}

// Extract dispatches the item and validates the result.
func (r *Registry) Extract(ctx context.Context, item *Item) (*RawDocument, error) {
	ctx, span := tracer.Start(ctx, "extract")
	defer span.End()
	span.SetAttributes(
		attribute.String("format", string(item.Format)),
		attribute.Int("size_bytes", len(item.Data)),
	)

	extractor, err := r.ForTag(item.Format)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	doc, err := extractor.Extract(ctx, item)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	if len(doc.Blocks) == 0 {
		// Extractors must emit at least one block; an empty input still
		// yields one empty paragraph.
		doc.Blocks = []Block{{Kind: BlockParagraph}}
	}
	span.SetAttributes(attribute.Int("blocks", len(doc.Blocks)))
	return doc, nil
}
