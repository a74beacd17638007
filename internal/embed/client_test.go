package embed

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// recordingProvider remembers every batch it receives.
type recordingProvider struct {
	*Stub
	mu      sync.Mutex
	batches [][]string
}

func (p *recordingProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.mu.Lock()
	p.batches = append(p.batches, append([]string(nil), texts...))
	p.mu.Unlock()
	return p.Stub.EmbedBatch(ctx, texts)
}

// flakyProvider fails the first n calls, then delegates to Stub.
type flakyProvider struct {
	*Stub
	remaining atomic.Int32
	calls     atomic.Int32
}

var errTransient = errors.New("connection reset by peer")

func (p *flakyProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	if p.remaining.Add(-1) >= 0 {
		return nil, errTransient
	}
	return p.Stub.EmbedBatch(ctx, texts)
}

// shapeProvider returns deliberately malformed results.
type shapeProvider struct {
	dim   int
	short bool
	calls atomic.Int32
}

func (p *shapeProvider) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	p.calls.Add(1)
	n := len(texts)
	if p.short && n > 0 {
		n--
	}
	out := make([][]float32, n)
	for i := range out {
		out[i] = make([]float32, p.dim)
	}
	return out, nil
}

func (p *shapeProvider) Dimension() int { return p.dim }
func (p *shapeProvider) Close() error   { return nil }

func TestClientPreservesOrderAcrossBatches(t *testing.T) {
	provider := &recordingProvider{Stub: NewStub(8)}
	client := NewClient(provider, Config{BatchMax: 3, Concurrency: 2})

	texts := make([]string, 10)
	for i := range texts {
		texts[i] = fmt.Sprintf("document %d", i)
	}

	got, err := client.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	require.Len(t, got, len(texts))

	for i, text := range texts {
		assert.Equal(t, provider.Stub.vector(text), got[i], "vector %d out of order", i)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Len(t, provider.batches, 4)
	var sent []string
	for _, b := range provider.batches {
		assert.LessOrEqual(t, len(b), 3)
		sent = append(sent, b...)
	}
	assert.ElementsMatch(t, texts, sent)
}

func TestClientBlankInputsSkipProvider(t *testing.T) {
	provider := &recordingProvider{Stub: NewStub(4)}
	client := NewClient(provider, Config{})

	got, err := client.EmbedTexts(context.Background(), []string{"hello", "", "   ", "world", "\n\t"})
	require.NoError(t, err)
	require.Len(t, got, 5)

	assert.Equal(t, provider.Stub.vector("hello"), got[0])
	assert.Equal(t, provider.Stub.vector("world"), got[3])
	for _, i := range []int{1, 2, 4} {
		assert.True(t, IsZeroVector(got[i]), "index %d should be the zero sentinel", i)
		assert.Len(t, got[i], 4)
	}

	provider.mu.Lock()
	defer provider.mu.Unlock()
	require.Len(t, provider.batches, 1)
	assert.Equal(t, []string{"hello", "world"}, provider.batches[0])
}

func TestClientAllBlankInputs(t *testing.T) {
	provider := &recordingProvider{Stub: NewStub(4)}
	client := NewClient(provider, Config{})

	got, err := client.EmbedTexts(context.Background(), []string{"", "  "})
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, IsZeroVector(got[0]))
	assert.True(t, IsZeroVector(got[1]))

	provider.mu.Lock()
	defer provider.mu.Unlock()
	assert.Empty(t, provider.batches)
}

func TestClientRetriesTransientFailures(t *testing.T) {
	provider := &flakyProvider{Stub: NewStub(4)}
	provider.remaining.Store(2)
	client := NewClient(provider, Config{RetryBase: time.Millisecond, MaxAttempts: 4})

	got, err := client.EmbedTexts(context.Background(), []string{"persist me"})
	require.NoError(t, err)
	assert.Equal(t, provider.Stub.vector("persist me"), got[0])
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestClientExhaustsRetries(t *testing.T) {
	provider := &flakyProvider{Stub: NewStub(4)}
	provider.remaining.Store(100)
	client := NewClient(provider, Config{RetryBase: time.Millisecond, MaxAttempts: 3})

	_, err := client.EmbedTexts(context.Background(), []string{"doomed"})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrEmbeddingFailed)
	assert.Equal(t, int32(3), provider.calls.Load())
}

func TestClientDimensionMismatchFailsFast(t *testing.T) {
	provider := &shapeProvider{dim: 5}
	client := NewClient(provider, Config{Dim: 4, RetryBase: time.Millisecond})

	_, err := client.EmbedTexts(context.Background(), []string{"text"})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrEmbeddingFailed)
	assert.Equal(t, int32(1), provider.calls.Load(), "shape mismatch must not retry")
}

func TestClientVectorCountMismatchFailsFast(t *testing.T) {
	provider := &shapeProvider{dim: 4, short: true}
	client := NewClient(provider, Config{Dim: 4, RetryBase: time.Millisecond})

	_, err := client.EmbedTexts(context.Background(), []string{"a", "b"})
	require.Error(t, err)
	assert.ErrorIs(t, err, knowledge.ErrEmbeddingFailed)
	assert.Equal(t, int32(1), provider.calls.Load())
}

// gaugeProvider tracks the peak number of concurrent calls.
type gaugeProvider struct {
	*Stub
	current atomic.Int32
	peak    atomic.Int32
}

func (p *gaugeProvider) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	cur := p.current.Add(1)
	for {
		peak := p.peak.Load()
		if cur <= peak || p.peak.CompareAndSwap(peak, cur) {
			break
		}
	}
	time.Sleep(5 * time.Millisecond)
	p.current.Add(-1)
	return p.Stub.EmbedBatch(ctx, texts)
}

func TestClientBoundsConcurrency(t *testing.T) {
	provider := &gaugeProvider{Stub: NewStub(4)}
	client := NewClient(provider, Config{BatchMax: 1, Concurrency: 3})

	texts := make([]string, 12)
	for i := range texts {
		texts[i] = fmt.Sprintf("text %d", i)
	}

	_, err := client.EmbedTexts(context.Background(), texts)
	require.NoError(t, err)
	assert.LessOrEqual(t, provider.peak.Load(), int32(3))
}

func TestClientCanceledContext(t *testing.T) {
	client := NewClient(NewStub(4), Config{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := client.EmbedTexts(ctx, []string{"never embedded"})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestClientBackoffSchedule(t *testing.T) {
	client := NewClient(NewStub(4), Config{})

	for retry := 1; retry <= 8; retry++ {
		want := 250 * time.Millisecond << uint(retry-1)
		if want > 8*time.Second {
			want = 8 * time.Second
		}
		d := client.backoff(retry)
		assert.GreaterOrEqual(t, d, time.Duration(float64(want)*0.8), "retry %d below jitter floor", retry)
		assert.LessOrEqual(t, d, time.Duration(float64(want)*1.2), "retry %d above jitter ceiling", retry)
	}
}

func TestEmbedQuery(t *testing.T) {
	stub := NewStub(6)
	client := NewClient(stub, Config{})

	vec, err := client.EmbedQuery(context.Background(), "how do I rotate credentials")
	require.NoError(t, err)
	assert.Equal(t, stub.vector("how do I rotate credentials"), vec)

	blank, err := client.EmbedQuery(context.Background(), "")
	require.NoError(t, err)
	assert.True(t, IsZeroVector(blank))
}

func TestZeroVectorHelpers(t *testing.T) {
	zero := ZeroVector(4)
	assert.Len(t, zero, 4)
	assert.True(t, IsZeroVector(zero))

	assert.False(t, IsZeroVector(nil))
	assert.False(t, IsZeroVector([]float32{0, 0.1, 0}))
}

func TestClientDimensionDefaultsToProvider(t *testing.T) {
	client := NewClient(NewStub(384), Config{})
	assert.Equal(t, 384, client.Dimension())
}
