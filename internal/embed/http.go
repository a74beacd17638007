package embed

import (
	"context"
	"fmt"

	lcembeddings "github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// httpProvider speaks to any OpenAI-compatible embedding endpoint through
// langchaingo. That covers OpenAI itself as well as self-hosted TEI and
// LocalAI deployments.
type httpProvider struct {
	embedder *lcembeddings.EmbedderImpl
	dim      int
}

var _ Provider = (*httpProvider)(nil)

func newHTTPProvider(cfg ProviderConfig) (*httpProvider, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("%w: endpoint required for the http provider", ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("%w: model required", ErrInvalidConfig)
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("%w: dimension must be positive", ErrInvalidConfig)
	}

	// langchaingo insists on a token even for keyless TEI deployments.
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = "unused"
	}

	llm, err := openai.New(
		openai.WithBaseURL(cfg.Endpoint),
		openai.WithModel(cfg.Model),
		openai.WithEmbeddingModel(cfg.Model),
		openai.WithToken(apiKey),
	)
	if err != nil {
		return nil, fmt.Errorf("creating openai client: %w", err)
	}

	embedder, err := lcembeddings.NewEmbedder(llm)
	if err != nil {
		return nil, fmt.Errorf("creating embedder: %w", err)
	}

	return &httpProvider{embedder: embedder, dim: cfg.Dim}, nil
}

func (p *httpProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := p.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %v", knowledge.ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

func (p *httpProvider) Dimension() int { return p.dim }

func (p *httpProvider) Close() error { return nil }
