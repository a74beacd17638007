package ocr

import "context"

// Request describes one recognition call.
type Request struct {
	// Data is the raw file content (image bytes or a whole PDF).
	Data []byte

	// MIME is the sniffed content type, forwarded to the service.
	MIME string

	// Page selects a 1-indexed page for multi-page inputs. Zero means the
	// whole input.
	Page int
}

// Result is the recognition outcome.
type Result struct {
	// Text is the recognized text, possibly empty.
	Text string `json:"text"`

	// Confidence is the engine's aggregate confidence in [0,1].
	Confidence float64 `json:"confidence"`
}

// Engine recognizes text in images and page rasters.
type Engine interface {
	Recognize(ctx context.Context, req Request) (*Result, error)
}
