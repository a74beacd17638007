package transcribe

import "context"

// Segment is one timed span of transcribed speech.
type Segment struct {
	// Start and End are offsets in seconds from the beginning of the media.
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is a full transcription.
type Result struct {
	// Text is the complete transcript.
	Text string `json:"text"`

	// Segments carry per-span timestamps. May hold a single untimed
	// segment (Start == End == 0) when the engine has no segment support.
	Segments []Segment `json:"segments"`

	// Language is the detected language code, when reported.
	Language string `json:"language"`
}

// Transcriber converts audio or video bytes into text.
type Transcriber interface {
	Transcribe(ctx context.Context, data []byte, filename string) (*Result, error)
}
