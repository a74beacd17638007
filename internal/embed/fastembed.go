//go:build cgo

package embed

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	fastembed "github.com/anush008/fastembed-go"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// fastEmbedModels maps friendly model names to fastembed constants. The
// fastembed names themselves are accepted too.
var fastEmbedModels = map[string]fastembed.EmbeddingModel{
	"BAAI/bge-small-en-v1.5": fastembed.BGESmallENV15,
	"BAAI/bge-small-en":      fastembed.BGESmallEN,
	"BAAI/bge-base-en-v1.5":  fastembed.BGEBaseENV15,
	"BAAI/bge-base-en":       fastembed.BGEBaseEN,
	"BAAI/bge-small-zh-v1.5": fastembed.BGESmallZH,

	"sentence-transformers/all-MiniLM-L6-v2": fastembed.AllMiniLML6V2,
}

var fastEmbedDimensions = map[fastembed.EmbeddingModel]int{
	fastembed.BGESmallENV15: 384,
	fastembed.BGESmallEN:    384,
	fastembed.BGEBaseENV15:  768,
	fastembed.BGEBaseEN:     768,
	fastembed.BGESmallZH:    512,
	fastembed.AllMiniLML6V2: 384,
}

// fastEmbedProvider embeds locally with ONNX models. Requires cgo for the
// onnxruntime bindings.
type fastEmbedProvider struct {
	mu    sync.RWMutex
	model *fastembed.FlagEmbedding
	dim   int
}

var _ Provider = (*fastEmbedProvider)(nil)

func newFastEmbedProvider(cfg ProviderConfig) (Provider, error) {
	model, ok := fastEmbedModels[cfg.Model]
	if !ok {
		model = fastembed.EmbeddingModel(cfg.Model)
		if _, known := fastEmbedDimensions[model]; !known {
			return nil, fmt.Errorf("%w: unsupported fastembed model %q", ErrInvalidConfig, cfg.Model)
		}
	}
	dim := fastEmbedDimensions[model]
	if cfg.Dim != 0 && cfg.Dim != dim {
		return nil, fmt.Errorf("%w: model %q produces %d-dim vectors, config expects %d",
			ErrInvalidConfig, cfg.Model, dim, cfg.Dim)
	}

	cacheDir := cfg.CacheDir
	if cacheDir == "" {
		cacheDir = filepath.Join(".", "model_cache")
	}

	showProgress := false
	flag, err := fastembed.NewFlagEmbedding(&fastembed.InitOptions{
		Model:                model,
		CacheDir:             cacheDir,
		MaxLength:            512,
		ShowDownloadProgress: &showProgress,
	})
	if err != nil {
		return nil, fmt.Errorf("initializing fastembed: %w", err)
	}

	return &fastEmbedProvider{model: flag, dim: dim}, nil
}

func (p *fastEmbedProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.model == nil {
		return nil, fmt.Errorf("%w: provider closed", knowledge.ErrEmbeddingFailed)
	}

	// PassageEmbed adds the "passage: " prefix BGE models expect for
	// document text.
	vectors, err := p.model.PassageEmbed(texts, 256)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", knowledge.ErrEmbeddingFailed, err)
	}
	return vectors, nil
}

func (p *fastEmbedProvider) Dimension() int { return p.dim }

func (p *fastEmbedProvider) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.model == nil {
		return nil
	}
	err := p.model.Destroy()
	p.model = nil
	return err
}
