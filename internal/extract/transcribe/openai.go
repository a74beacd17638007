package transcribe

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v2"
	"github.com/openai/openai-go/v2/option"
)

// OpenAI transcribes through an OpenAI-compatible audio API. The simple
// JSON response carries no timestamps, so results hold one untimed segment.
type OpenAI struct {
	client openai.Client
	model  string
}

var _ Transcriber = (*OpenAI)(nil)

// NewOpenAI creates a client. baseURL may be empty for api.openai.com, or
// point at any server speaking the same audio API.
func NewOpenAI(baseURL, apiKey, model string) *OpenAI {
	var opts []option.RequestOption
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	if model == "" {
		model = string(openai.AudioModelWhisper1)
	}
	return &OpenAI{client: openai.NewClient(opts...), model: model}
}

// Transcribe uploads the media and returns the transcript.
func (o *OpenAI) Transcribe(ctx context.Context, data []byte, filename string) (*Result, error) {
	if filename == "" {
		filename = "media"
	}

	resp, err := o.client.Audio.Transcriptions.New(ctx, openai.AudioTranscriptionNewParams{
		File:  openai.File(bytes.NewReader(data), filename, "application/octet-stream"),
		Model: openai.AudioModel(o.model),
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	text := strings.TrimSpace(resp.Text)
	return &Result{
		Text:     text,
		Segments: []Segment{{Text: text}},
	}, nil
}
