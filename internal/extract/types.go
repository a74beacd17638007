package extract

import "github.com/finderskeepers/keeperd/internal/knowledge"

// BlockKind enumerates the structural kinds of extracted text.
type BlockKind string

const (
	BlockParagraph  BlockKind = "paragraph"
	BlockHeading    BlockKind = "heading"
	BlockCode       BlockKind = "code"
	BlockTableRow   BlockKind = "table-row"
	BlockCaption    BlockKind = "caption"
	BlockTranscript BlockKind = "transcript-segment"
)

// Block is one structural unit of extracted text, in document order.
type Block struct {
	Kind BlockKind
	Text string

	// Level is the heading level 1..6. Only set for BlockHeading.
	Level int

	// Language is the source language. Only set for BlockCode.
	Language string

	// Cells are the row's columns. Only set for BlockTableRow; Text holds
	// the joined rendering.
	Cells []string

	// StartSec and EndSec are transcript timestamps. Only set for
	// BlockTranscript; both zero means the engine produced no timing.
	StartSec float64
	EndSec   float64
}

// ChildItem is a nested input discovered during extraction, such as an
// archive entry. The orchestrator ingests children as separate documents
// linked by parent_document_id.
type ChildItem struct {
	Name string
	Data []byte
}

// RawDocument is the output of extraction: everything the chunker and the
// stores need, independent of the input format.
type RawDocument struct {
	// Title is the best available document title; empty means the caller
	// falls back to the filename or source URI.
	Title string

	// Blocks is the ordered, non-empty block list.
	Blocks []Block

	// Metadata carries extractor-specific fields (page counts, OCR
	// confidence, entry errors).
	Metadata map[string]any

	// Children are nested items to ingest separately. Only archives set
	// this.
	Children []ChildItem
}

// Item is the input handed to an extractor.
type Item struct {
	Data      []byte
	Filename  string
	SourceURI string
	Format    knowledge.FormatTag

	// Depth is the archive nesting depth of this item, zero for top-level
	// inputs.
	Depth int
}

// meta returns a non-nil metadata map, allocating on first use.
func (d *RawDocument) meta() map[string]any {
	if d.Metadata == nil {
		d.Metadata = make(map[string]any)
	}
	return d.Metadata
}
