package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

// WhisperServer transcribes through a whisper-server /inference endpoint,
// requesting verbose output to recover per-segment timestamps.
type WhisperServer struct {
	endpoint string
	model    string
	client   *http.Client
}

var _ Transcriber = (*WhisperServer)(nil)

// NewWhisperServer creates a client for endpoint, e.g.
// http://whisper.internal:8885/inference.
func NewWhisperServer(endpoint, model string, timeout time.Duration) (*WhisperServer, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("whisper endpoint is required")
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &WhisperServer{
		endpoint: endpoint,
		model:    model,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// verboseResponse mirrors whisper-server's verbose_json shape.
type verboseResponse struct {
	Text     string `json:"text"`
	Language string `json:"language"`
	Segments []struct {
		Start float64 `json:"start"`
		End   float64 `json:"end"`
		Text  string  `json:"text"`
	} `json:"segments"`
}

// Transcribe uploads the media and returns the timed transcript.
func (w *WhisperServer) Transcribe(ctx context.Context, data []byte, filename string) (*Result, error) {
	if filename == "" {
		filename = "media"
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("building whisper request: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("building whisper request: %w", err)
	}
	if err := mw.WriteField("response_format", "verbose_json"); err != nil {
		return nil, fmt.Errorf("building whisper request: %w", err)
	}
	if w.model != "" {
		if err := mw.WriteField("model", w.model); err != nil {
			return nil, fmt.Errorf("building whisper request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building whisper request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, w.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("building whisper request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := w.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling whisper server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("whisper server returned %d: %s", resp.StatusCode, snippet)
	}

	var verbose verboseResponse
	if err := json.NewDecoder(resp.Body).Decode(&verbose); err != nil {
		return nil, fmt.Errorf("decoding whisper response: %w", err)
	}

	result := &Result{
		Text:     strings.TrimSpace(verbose.Text),
		Language: verbose.Language,
	}
	for _, seg := range verbose.Segments {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		result.Segments = append(result.Segments, Segment{
			Start: seg.Start,
			End:   seg.End,
			Text:  text,
		})
	}
	if len(result.Segments) == 0 && result.Text != "" {
		result.Segments = []Segment{{Text: result.Text}}
	}
	return result, nil
}
