package embed

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig indicates an unusable provider configuration.
	ErrInvalidConfig = errors.New("embed: invalid configuration")

	// ErrProviderUnavailable indicates the selected provider cannot run in
	// this build or environment.
	ErrProviderUnavailable = errors.New("embed: provider unavailable")
)

// Provider turns text into fixed-dimension vectors.
type Provider interface {
	// EmbedBatch embeds every text in order. The result has one vector per
	// input and result[i] corresponds to texts[i].
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension reports the width of the vectors this provider produces.
	Dimension() int

	// Close releases provider resources.
	Close() error
}

// ProviderConfig selects and configures a Provider.
type ProviderConfig struct {
	// Provider is the backend name, http or fastembed.
	Provider string

	// Endpoint is the OpenAI-compatible base URL for the http provider,
	// e.g. http://localhost:8080/v1 for TEI or https://api.openai.com/v1.
	Endpoint string

	// Model names the embedding model.
	Model string

	// APIKey authenticates the http provider. Optional for TEI.
	APIKey string

	// Dim is the expected vector width. Required for http; for fastembed it
	// must match the model's native dimension when set.
	Dim int

	// CacheDir is where fastembed stores downloaded model files.
	CacheDir string
}

// NewProvider builds the provider cfg selects.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Provider {
	case "http":
		return newHTTPProvider(cfg)
	case "fastembed":
		return newFastEmbedProvider(cfg)
	default:
		return nil, fmt.Errorf("%w: unknown provider %q", ErrInvalidConfig, cfg.Provider)
	}
}
