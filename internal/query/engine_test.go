package query

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/finderskeepers/keeperd/internal/knowledge"
	"github.com/finderskeepers/keeperd/internal/store/graph"
	"github.com/finderskeepers/keeperd/internal/store/relational"
	"github.com/finderskeepers/keeperd/internal/store/vector"
)

type fakeRelational struct {
	kwHits  []relational.SearchHit
	kwErr   error
	rvHits  []relational.SearchHit
	rvErr   error
	docs    map[string]*knowledge.Document
	chunks  map[string][]knowledge.Chunk
	kwCalls int
	rvCalls int
	lastKW  relational.Filters
	lastK   int
}

func (f *fakeRelational) KeywordSearch(_ context.Context, _, _ string, k int, filters relational.Filters) ([]relational.SearchHit, error) {
	f.kwCalls++
	f.lastKW = filters
	f.lastK = k
	return f.kwHits, f.kwErr
}

func (f *fakeRelational) VectorSearch(_ context.Context, _ string, _ []float32, _ int, _ relational.Filters) ([]relational.SearchHit, error) {
	f.rvCalls++
	return f.rvHits, f.rvErr
}

func (f *fakeRelational) GetDocument(_ context.Context, documentID string) (*knowledge.Document, error) {
	doc, ok := f.docs[documentID]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", documentID, knowledge.ErrNotFound)
	}
	return doc, nil
}

func (f *fakeRelational) ListChunks(_ context.Context, documentID string) ([]knowledge.Chunk, error) {
	return f.chunks[documentID], nil
}

type fakeVectorIndex struct {
	hits    []vector.Hit
	err     error
	calls   int
	lastK   int
	lastFlt vector.Filter
}

func (f *fakeVectorIndex) Search(_ context.Context, _ string, _ []float32, k int, filter vector.Filter) ([]vector.Hit, error) {
	f.calls++
	f.lastK = k
	f.lastFlt = filter
	return f.hits, f.err
}

type fakeGraph struct {
	neighbors []graph.Neighbor
	err       error
	calls     int
	lastSeeds []string
}

func (f *fakeGraph) NeighborsByRelatesTo(_ context.Context, _ string, seedIDs []string, _ int) ([]graph.Neighbor, error) {
	f.calls++
	f.lastSeeds = seedIDs
	return f.neighbors, f.err
}

type fakeQueryEmbedder struct {
	calls int
	err   error
}

func (f *fakeQueryEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return []float32{0.5, 0.5}, nil
}

type queryRig struct {
	rv     *fakeRelational
	vi     *fakeVectorIndex
	gr     *fakeGraph
	em     *fakeQueryEmbedder
	engine *Engine
}

func newQueryRig(t *testing.T) *queryRig {
	t.Helper()
	r := &queryRig{
		rv: &fakeRelational{
			docs:   map[string]*knowledge.Document{},
			chunks: map[string][]knowledge.Chunk{},
		},
		vi: &fakeVectorIndex{},
		gr: &fakeGraph{},
		em: &fakeQueryEmbedder{},
	}
	engine, err := New(Options{
		Relational: r.rv,
		Vector:     r.vi,
		Graph:      r.gr,
		Embedder:   r.em,
	})
	require.NoError(t, err)
	r.engine = engine
	return r
}

func vecHit(chunkID, docID string) vector.Hit {
	return vector.Hit{
		ChunkID:    chunkID,
		DocumentID: docID,
		Title:      "title " + docID,
		DocType:    knowledge.DocTypeFile,
		Score:      0.9,
	}
}

func kwHit(chunkID, docID, text string) relational.SearchHit {
	return relational.SearchHit{
		ChunkID:    chunkID,
		DocumentID: docID,
		Text:       text,
		Title:      "title " + docID,
		SourceURI:  "file:///" + docID,
		DocType:    knowledge.DocTypeFile,
		Score:      0.5,
	}
}

// rrf returns the reciprocal-rank-fusion contribution for a 0-based rank.
func rrf(rank int) float64 { return 1.0 / float64(rrfK+rank+1) }

func TestQueryValidatesRequest(t *testing.T) {
	r := newQueryRig(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  Request
	}{
		{"missing q", Request{Project: "demo"}},
		{"missing project", Request{Q: "hello"}},
		{"negative top_k", Request{Q: "hello", Project: "demo", TopK: -1}},
		{"unknown mode", Request{Q: "hello", Project: "demo", Mode: "psychic"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.engine.Query(ctx, &tt.req)
			require.ErrorIs(t, err, knowledge.ErrValidation)
		})
	}
}

func TestQueryHybridFusesBothLegs(t *testing.T) {
	r := newQueryRig(t)
	r.vi.hits = []vector.Hit{vecHit("c-a", "doc-a"), vecHit("c-b", "doc-b")}
	r.rv.kwHits = []relational.SearchHit{
		kwHit("c-b", "doc-b", "keyword text b"),
		kwHit("c-c", "doc-c", "keyword text c"),
	}
	r.rv.docs["doc-a"] = &knowledge.Document{ID: "doc-a", SourceURI: "file:///doc-a"}

	resp, err := r.engine.Query(context.Background(), &Request{Q: "hello", Project: "demo"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	// doc-b matched in both legs and outranks the single-leg docs.
	assert.Equal(t, "doc-b", resp.Results[0].DocumentID)
	assert.InDelta(t, rrf(1)+rrf(0), resp.Results[0].Score, 1e-9)
	assert.Equal(t, []string{"vector", "keyword"}, resp.Results[0].Provenance)

	assert.Equal(t, "doc-a", resp.Results[1].DocumentID)
	assert.InDelta(t, rrf(0), resp.Results[1].Score, 1e-9)
	assert.Equal(t, []string{"vector"}, resp.Results[1].Provenance)

	assert.Equal(t, "doc-c", resp.Results[2].DocumentID)
	assert.InDelta(t, rrf(1), resp.Results[2].Score, 1e-9)
	assert.Equal(t, []string{"keyword"}, resp.Results[2].Provenance)

	// The query was embedded exactly once.
	assert.Equal(t, 1, r.em.calls)
	// Both legs over-fetched 4x the requested page.
	assert.Equal(t, 4*DefaultTopK, r.vi.lastK)
	assert.Equal(t, 4*DefaultTopK, r.rv.lastK)
}

func TestQueryCollapsesChunksOfSameDocument(t *testing.T) {
	r := newQueryRig(t)
	r.rv.kwHits = []relational.SearchHit{
		kwHit("c-1", "doc-a", "best chunk"),
		kwHit("c-2", "doc-a", "second"),
		kwHit("c-3", "doc-a", "third"),
		kwHit("c-4", "doc-a", "fourth"),
		kwHit("c-5", "doc-a", "fifth"),
		kwHit("c-6", "doc-b", "other doc"),
	}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeKeyword,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)

	// doc-a keeps its best chunk and the multi-chunk bonus saturates at 3.
	top := resp.Results[0]
	assert.Equal(t, "doc-a", top.DocumentID)
	assert.Equal(t, "c-1", top.ChunkID)
	assert.Equal(t, "best chunk", top.Snippet)
	assert.InDelta(t, rrf(0)+3*collapseBonus, top.Score, 1e-9)

	assert.Equal(t, "doc-b", resp.Results[1].DocumentID)
	assert.InDelta(t, rrf(5), resp.Results[1].Score, 1e-9)
}

func TestQueryVectorModeSkipsKeywordLeg(t *testing.T) {
	r := newQueryRig(t)
	r.vi.hits = []vector.Hit{vecHit("c-a", "doc-a")}
	r.rv.docs["doc-a"] = &knowledge.Document{ID: "doc-a", SourceURI: "file:///doc-a"}
	r.rv.chunks["doc-a"] = []knowledge.Chunk{{ID: "c-a", DocumentID: "doc-a", Text: "vector text"}}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeVector,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0, r.rv.kwCalls)
	assert.Equal(t, []string{"vector"}, resp.Results[0].Provenance)
	assert.Equal(t, "vector text", resp.Results[0].Snippet)
	assert.Equal(t, "file:///doc-a", resp.Results[0].Source.SourceURI)
}

func TestQueryKeywordModeSkipsVectorLeg(t *testing.T) {
	r := newQueryRig(t)
	r.rv.kwHits = []relational.SearchHit{kwHit("c-a", "doc-a", "text")}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeKeyword,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 0, r.vi.calls)
	assert.Equal(t, 0, r.em.calls)
}

func TestQueryFallsBackToRelationalVectors(t *testing.T) {
	r := newQueryRig(t)
	r.vi.err = errors.New("qdrant unreachable")
	r.rv.rvHits = []relational.SearchHit{kwHit("c-a", "doc-a", "pgvector text")}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeVector,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, 1, r.vi.calls)
	assert.Equal(t, 1, r.rv.rvCalls)
	assert.Equal(t, []string{"vector"}, resp.Results[0].Provenance)
	assert.Equal(t, "pgvector text", resp.Results[0].Snippet)
}

func TestQueryFailsWhenBothVectorPathsFail(t *testing.T) {
	r := newQueryRig(t)
	r.vi.err = errors.New("qdrant unreachable")
	r.rv.rvErr = errors.New("pool exhausted")

	_, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeVector,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "qdrant unreachable")
}

func TestQueryGraphAugmentedAddsNeighbors(t *testing.T) {
	r := newQueryRig(t)
	r.rv.kwHits = []relational.SearchHit{kwHit("c-a", "doc-a", "seed text")}
	r.gr.neighbors = []graph.Neighbor{{DocumentID: "doc-n", SeedID: "doc-a", SharedTags: 2}}
	r.rv.docs["doc-n"] = &knowledge.Document{
		ID:        "doc-n",
		Title:     "neighbor",
		SourceURI: "file:///doc-n",
		DocType:   knowledge.DocTypeFile,
	}
	r.rv.chunks["doc-n"] = []knowledge.Chunk{{ID: "c-n", DocumentID: "doc-n", Text: "neighbor text"}}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeGraphAugmented,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.Equal(t, []string{"doc-a"}, r.gr.lastSeeds)

	seed := resp.Results[0]
	neighbor := resp.Results[1]
	assert.Equal(t, "doc-a", seed.DocumentID)
	assert.Equal(t, "doc-n", neighbor.DocumentID)
	assert.InDelta(t, DefaultGraphWeight*seed.Score, neighbor.Score, 1e-9)
	assert.Equal(t, []string{"graph"}, neighbor.Provenance)
	assert.Equal(t, "neighbor text", neighbor.Snippet)
	assert.Equal(t, "neighbor", neighbor.Title)
	assert.Equal(t, "file:///doc-n", neighbor.Source.SourceURI)
}

func TestQueryGraphNeighborAlreadyRetrieved(t *testing.T) {
	r := newQueryRig(t)
	r.rv.kwHits = []relational.SearchHit{
		kwHit("c-a", "doc-a", "seed"),
		kwHit("c-b", "doc-b", "also retrieved"),
	}
	r.gr.neighbors = []graph.Neighbor{{DocumentID: "doc-b", SeedID: "doc-a"}}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeGraphAugmented,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	// doc-b keeps its keyword score and provenance; the edge adds nothing.
	assert.Equal(t, "doc-b", resp.Results[1].DocumentID)
	assert.InDelta(t, rrf(1), resp.Results[1].Score, 1e-9)
	assert.Equal(t, []string{"keyword"}, resp.Results[1].Provenance)
}

func TestQueryGraphFailureDegradesToHybrid(t *testing.T) {
	r := newQueryRig(t)
	r.rv.kwHits = []relational.SearchHit{kwHit("c-a", "doc-a", "text")}
	r.gr.err = errors.New("neo4j session expired")

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeGraphAugmented,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-a", resp.Results[0].DocumentID)
}

func TestQuerySessionFilterDropsUncheckedVectorHits(t *testing.T) {
	r := newQueryRig(t)
	r.vi.hits = []vector.Hit{vecHit("c-a", "doc-a"), vecHit("c-b", "doc-b")}
	r.rv.docs["doc-a"] = &knowledge.Document{ID: "doc-a", SessionID: "sess-1"}
	r.rv.docs["doc-b"] = &knowledge.Document{ID: "doc-b", SessionID: "sess-2"}
	r.rv.chunks["doc-a"] = []knowledge.Chunk{{ID: "c-a", Text: "session text"}}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeVector,
		Filters: Filters{SessionID: "sess-1"},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-a", resp.Results[0].DocumentID)
}

func TestQueryDateFilterAppliesToVectorHits(t *testing.T) {
	r := newQueryRig(t)
	old := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	fresh := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	r.vi.hits = []vector.Hit{vecHit("c-a", "doc-old"), vecHit("c-b", "doc-new")}
	r.rv.docs["doc-old"] = &knowledge.Document{ID: "doc-old", CreatedAt: old}
	r.rv.docs["doc-new"] = &knowledge.Document{ID: "doc-new", CreatedAt: fresh}
	r.rv.chunks["doc-new"] = []knowledge.Chunk{{ID: "c-b", Text: "fresh text"}}

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeVector,
		Filters: Filters{DateFrom: &from},
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "doc-new", resp.Results[0].DocumentID)
}

func TestQueryMapsFiltersToStores(t *testing.T) {
	r := newQueryRig(t)
	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo",
		Filters: Filters{
			DocTypes:  []knowledge.DocType{knowledge.DocTypeURL},
			Tags:      []string{"infra"},
			SessionID: "sess-1",
			DateFrom:  &from,
			DateTo:    &to,
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []knowledge.DocType{knowledge.DocTypeURL}, r.rv.lastKW.DocTypes)
	assert.Equal(t, []string{"infra"}, r.rv.lastKW.Tags)
	assert.Equal(t, "sess-1", r.rv.lastKW.SessionID)
	require.NotNil(t, r.rv.lastKW.Since)
	assert.Equal(t, from, *r.rv.lastKW.Since)
	require.NotNil(t, r.rv.lastKW.Until)
	assert.Equal(t, to, *r.rv.lastKW.Until)

	// The vector index only understands doc types and tags.
	assert.Equal(t, []knowledge.DocType{knowledge.DocTypeURL}, r.vi.lastFlt.DocTypes)
	assert.Equal(t, []string{"infra"}, r.vi.lastFlt.Tags)
}

func TestQueryTieBreaksOnDocumentID(t *testing.T) {
	r := newQueryRig(t)
	r.vi.hits = []vector.Hit{vecHit("c-b", "doc-b")}
	r.rv.kwHits = []relational.SearchHit{kwHit("c-a", "doc-a", "text a")}
	r.rv.docs["doc-b"] = &knowledge.Document{ID: "doc-b"}
	r.rv.chunks["doc-b"] = []knowledge.Chunk{{ID: "c-b", Text: "text b"}}

	resp, err := r.engine.Query(context.Background(), &Request{Q: "hello", Project: "demo"})
	require.NoError(t, err)
	require.Len(t, resp.Results, 2)
	assert.InDelta(t, resp.Results[0].Score, resp.Results[1].Score, 1e-9)
	assert.Equal(t, "doc-a", resp.Results[0].DocumentID)
	assert.Equal(t, "doc-b", resp.Results[1].DocumentID)
}

func TestQueryTruncatesSnippets(t *testing.T) {
	r := newQueryRig(t)
	long := strings.Repeat("é", 450)
	r.rv.kwHits = []relational.SearchHit{kwHit("c-a", "doc-a", long)}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", Mode: ModeKeyword,
	})
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	got := resp.Results[0].Snippet
	assert.LessOrEqual(t, len([]rune(got)), snippetLimit)
	assert.True(t, strings.HasSuffix(got, "…"))
}

func TestQueryHonorsTopK(t *testing.T) {
	r := newQueryRig(t)
	for i := 0; i < 8; i++ {
		id := fmt.Sprintf("doc-%d", i)
		r.rv.kwHits = append(r.rv.kwHits, kwHit(fmt.Sprintf("c-%d", i), id, "text"))
	}

	resp, err := r.engine.Query(context.Background(), &Request{
		Q: "hello", Project: "demo", TopK: 3, Mode: ModeKeyword,
	})
	require.NoError(t, err)
	assert.Len(t, resp.Results, 3)
	assert.Equal(t, 12, r.rv.lastK)
}

func TestQueryEmptyStoresReturnEmptyResults(t *testing.T) {
	r := newQueryRig(t)
	resp, err := r.engine.Query(context.Background(), &Request{Q: "hello", Project: "demo"})
	require.NoError(t, err)
	assert.Empty(t, resp.Results)
	assert.GreaterOrEqual(t, resp.TookMS, int64(0))
}
