package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"
)

// HTTPEngine calls an OCR HTTP service over multipart upload.
type HTTPEngine struct {
	endpoint string
	client   *http.Client
}

var _ Engine = (*HTTPEngine)(nil)

// NewHTTPEngine creates an engine for the given service endpoint, e.g.
// http://ocr.internal:8884/recognize.
func NewHTTPEngine(endpoint string, timeout time.Duration) (*HTTPEngine, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("ocr endpoint is required")
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &HTTPEngine{
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}, nil
}

// Recognize uploads the input and returns the recognized text.
func (e *HTTPEngine) Recognize(ctx context.Context, req Request) (*Result, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "input")
	if err != nil {
		return nil, fmt.Errorf("building ocr request: %w", err)
	}
	if _, err := part.Write(req.Data); err != nil {
		return nil, fmt.Errorf("building ocr request: %w", err)
	}
	if req.MIME != "" {
		if err := mw.WriteField("mime", req.MIME); err != nil {
			return nil, fmt.Errorf("building ocr request: %w", err)
		}
	}
	if req.Page > 0 {
		if err := mw.WriteField("page", strconv.Itoa(req.Page)); err != nil {
			return nil, fmt.Errorf("building ocr request: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("building ocr request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.endpoint, &body)
	if err != nil {
		return nil, fmt.Errorf("building ocr request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling ocr service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("ocr service returned %d: %s", resp.StatusCode, snippet)
	}

	var result Result
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding ocr response: %w", err)
	}
	if result.Confidence < 0 {
		result.Confidence = 0
	}
	if result.Confidence > 1 {
		result.Confidence = 1
	}
	return &result, nil
}
