package embed

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

var tracer = otel.Tracer("keeperd.embed")

// Config tunes the client. Zero values take the documented defaults.
type Config struct {
	// Dim is the enforced vector width. Defaults to the provider's.
	Dim int

	// BatchMax is the largest number of texts per provider call.
	BatchMax int

	// Concurrency bounds in-flight provider calls.
	Concurrency int

	// Timeout applies to each provider call.
	Timeout time.Duration

	// RetryBase is the delay before the first retry. Each further retry
	// doubles it up to RetryMax, then applies 20% jitter either way.
	RetryBase   time.Duration
	RetryMax    time.Duration
	MaxAttempts int
}

func (c Config) withDefaults() Config {
	if c.BatchMax <= 0 {
		c.BatchMax = 32
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryBase <= 0 {
		c.RetryBase = 250 * time.Millisecond
	}
	if c.RetryMax <= 0 {
		c.RetryMax = 8 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 4
	}
	return c
}

// Client wraps a Provider with batching, retries, bounded concurrency, and
// dimension enforcement. Safe for concurrent use.
type Client struct {
	provider Provider
	cfg      Config
}

// NewClient wraps provider with the given policy.
func NewClient(provider Provider, cfg Config) *Client {
	cfg = cfg.withDefaults()
	if cfg.Dim <= 0 {
		cfg.Dim = provider.Dimension()
	}
	return &Client{provider: provider, cfg: cfg}
}

// Dimension reports the enforced vector width.
func (c *Client) Dimension() int { return c.cfg.Dim }

// Close releases the underlying provider.
func (c *Client) Close() error { return c.provider.Close() }

// EmbedTexts embeds every text, preserving order: result[i] corresponds to
// texts[i]. Blank texts become the zero-vector sentinel without a provider
// call. Any batch that still fails after retries fails the whole call.
func (c *Client) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	ctx, span := tracer.Start(ctx, "embed.texts")
	defer span.End()
	span.SetAttributes(attribute.Int("texts", len(texts)))

	result := make([][]float32, len(texts))

	var pending []int
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			result[i] = ZeroVector(c.cfg.Dim)
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 {
		return result, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.cfg.Concurrency)
	for start := 0; start < len(pending); start += c.cfg.BatchMax {
		end := min(start+c.cfg.BatchMax, len(pending))
		indices := pending[start:end]
		g.Go(func() error {
			batch := make([]string, len(indices))
			for j, i := range indices {
				batch[j] = texts[i]
			}
			vectors, err := c.embedBatch(gctx, batch)
			if err != nil {
				return err
			}
			for j, i := range indices {
				result[i] = vectors[j]
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return result, nil
}

// EmbedQuery embeds a single string.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vectors, err := c.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// embedBatch calls the provider with retries. Shape violations fail
// immediately; they are deterministic and retrying cannot fix them.
func (c *Client) embedBatch(ctx context.Context, batch []string) ([][]float32, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("embedding canceled: %w", ctx.Err())
			case <-time.After(c.backoff(attempt - 1)):
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
		vectors, err := c.provider.EmbedBatch(callCtx, batch)
		cancel()
		if err == nil {
			if err := c.checkShape(vectors, len(batch)); err != nil {
				return nil, err
			}
			return vectors, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("embedding canceled: %w", ctx.Err())
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w: %d attempts exhausted: %v", knowledge.ErrEmbeddingFailed, c.cfg.MaxAttempts, lastErr)
}

// backoff returns the delay before the given 1-based retry.
func (c *Client) backoff(retry int) time.Duration {
	d := c.cfg.RetryBase
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= c.cfg.RetryMax {
			break
		}
	}
	if d > c.cfg.RetryMax {
		d = c.cfg.RetryMax
	}
	jitter := 0.8 + 0.4*rand.Float64()
	return time.Duration(float64(d) * jitter)
}

func (c *Client) checkShape(vectors [][]float32, want int) error {
	if len(vectors) != want {
		return fmt.Errorf("%w: provider returned %d vectors for %d inputs",
			knowledge.ErrEmbeddingFailed, len(vectors), want)
	}
	for i, v := range vectors {
		if len(v) != c.cfg.Dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d",
				knowledge.ErrEmbeddingFailed, i, len(v), c.cfg.Dim)
		}
	}
	return nil
}

// ZeroVector returns the all-zero sentinel stored for blank chunk text.
func ZeroVector(dim int) []float32 {
	return make([]float32, dim)
}

// IsZeroVector reports whether vec is the blank-content sentinel.
func IsZeroVector(vec []float32) bool {
	if len(vec) == 0 {
		return false
	}
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}
