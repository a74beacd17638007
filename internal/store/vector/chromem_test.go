package vector

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

func newTestChromem(t *testing.T) *ChromemStore {
	t.Helper()
	store, err := NewChromemStore(t.TempDir(), 4)
	require.NoError(t, err)
	return store
}

func chunkPoint(chunkID, docID string, ordinal int, tags []string, vec []float32) Point {
	return Point{
		ChunkID:    chunkID,
		DocumentID: docID,
		Ordinal:    ordinal,
		Title:      "Doc " + docID,
		DocType:    knowledge.DocTypeFile,
		Tags:       tags,
		Vector:     vec,
	}
}

func TestChromemUpsertAndSearch(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.EnsureCollection(ctx, "demo"))

	points := []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, []string{"go"}, []float32{1, 0, 0, 0}),
		chunkPoint("22222222-2222-4222-8222-222222222222", "doc-a", 1, []string{"go"}, []float32{0, 1, 0, 0}),
		chunkPoint("33333333-3333-4333-8333-333333333333", "doc-b", 0, []string{"rust"}, []float32{0, 0, 1, 0}),
	}
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))

	hits, err := store.Search(ctx, "demo", []float32{1, 0, 0, 0}, 2, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", hits[0].ChunkID)
	assert.Equal(t, "doc-a", hits[0].DocumentID)
	assert.Equal(t, 0, hits[0].Ordinal)
	assert.Equal(t, knowledge.DocTypeFile, hits[0].DocType)
	assert.Equal(t, []string{"go"}, hits[0].Tags)
	assert.Greater(t, hits[0].Score, hits[1].Score)
}

func TestChromemSearchFilters(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	points := []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, []string{"go"}, []float32{1, 0, 0, 0}),
		chunkPoint("33333333-3333-4333-8333-333333333333", "doc-b", 0, []string{"rust"}, []float32{0.9, 0.1, 0, 0}),
	}
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))

	hits, err := store.Search(ctx, "demo", []float32{1, 0, 0, 0}, 5, Filter{Tags: []string{"rust"}})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-b", hits[0].DocumentID)
}

func TestChromemSkipsZeroVectors(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	points := []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, nil, []float32{1, 0, 0, 0}),
		// Blank chunk sentinel: must never land in the index.
		chunkPoint("22222222-2222-4222-8222-222222222222", "doc-a", 1, nil, []float32{0, 0, 0, 0}),
	}
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))

	hits, err := store.Search(ctx, "demo", []float32{1, 0, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "11111111-1111-4111-8111-111111111111", hits[0].ChunkID)
}

func TestChromemSearchEmptyCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	require.NoError(t, store.EnsureCollection(ctx, "empty"))

	hits, err := store.Search(ctx, "empty", []float32{1, 0, 0, 0}, 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestChromemKLargerThanCollection(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	points := []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, nil, []float32{1, 0, 0, 0}),
	}
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))

	// k beyond the collection size must clamp, not error.
	hits, err := store.Search(ctx, "demo", []float32{1, 0, 0, 0}, 50, Filter{})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestChromemDeleteByDocument(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	points := []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, nil, []float32{1, 0, 0, 0}),
		chunkPoint("22222222-2222-4222-8222-222222222222", "doc-a", 1, nil, []float32{0, 1, 0, 0}),
		chunkPoint("33333333-3333-4333-8333-333333333333", "doc-b", 0, nil, []float32{0, 0, 1, 0}),
	}
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))

	require.NoError(t, store.DeleteByDocument(ctx, "demo", "doc-a"))

	hits, err := store.Search(ctx, "demo", []float32{1, 0, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "doc-b", hits[0].DocumentID)
}

func TestChromemDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	err := store.UpsertChunks(ctx, "demo", []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, nil, []float32{1, 0}),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.ErrorIs(t, err, knowledge.ErrStoreWrite)
	assert.Equal(t, "vi", knowledge.FailedStore(err))
}

func TestChromemUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	store := newTestChromem(t)

	points := []Point{
		chunkPoint("11111111-1111-4111-8111-111111111111", "doc-a", 0, nil, []float32{1, 0, 0, 0}),
	}
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))
	// Replay, as the repair worker does after a partial failure.
	require.NoError(t, store.UpsertChunks(ctx, "demo", points))

	hits, err := store.Search(ctx, "demo", []float32{1, 0, 0, 0}, 10, Filter{})
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}
