package vector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"

	"github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// ChromemStore is the embedded backend. It keeps the index in a local
// directory and needs no external service, which makes it the default for
// single-binary installs and for tests.
type ChromemStore struct {
	db  *chromem.DB
	dim int

	mu          sync.Mutex
	collections map[string]*chromem.Collection
}

// NewChromemStore opens (or creates) a persistent chromem database at path.
// A leading ~ expands to the user's home directory.
func NewChromemStore(path string, dim int) (*ChromemStore, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("dim must be positive, got %d", dim)
	}
	expanded, err := expandPath(path)
	if err != nil {
		return nil, fmt.Errorf("expanding path %q: %w", path, err)
	}
	db, err := chromem.NewPersistentDB(expanded, false)
	if err != nil {
		return nil, fmt.Errorf("opening chromem db at %s: %w", expanded, err)
	}
	return &ChromemStore{
		db:          db,
		dim:         dim,
		collections: make(map[string]*chromem.Collection),
	}, nil
}

// Embeddings always arrive precomputed; chromem must never embed on its own.
func precomputedOnly(context.Context, string) ([]float32, error) {
	return nil, errors.New("embeddings are precomputed, refusing to embed")
}

func (s *ChromemStore) collection(project string) (*chromem.Collection, error) {
	name, err := CollectionName(project)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if col, ok := s.collections[name]; ok {
		return col, nil
	}
	col, err := s.db.GetOrCreateCollection(name, nil, precomputedOnly)
	if err != nil {
		return nil, fmt.Errorf("collection %s: %w", name, err)
	}
	s.collections[name] = col
	return col, nil
}

// EnsureCollection creates the project's collection if missing.
func (s *ChromemStore) EnsureCollection(ctx context.Context, project string) error {
	if _, err := s.collection(project); err != nil {
		return knowledge.NewStoreWriteError("vi", err)
	}
	return nil
}

// UpsertChunks writes chunk embeddings. Zero vectors are skipped. Chromem
// upserts by document ID, so replays overwrite in place.
func (s *ChromemStore) UpsertChunks(ctx context.Context, project string, points []Point) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.UpsertChunks")
	defer span.End()
	span.SetAttributes(attribute.Int("points", len(points)))

	col, err := s.collection(project)
	if err != nil {
		return knowledge.NewStoreWriteError("vi", err)
	}

	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		if isZeroVector(p.Vector) {
			continue
		}
		if len(p.Vector) != s.dim {
			err := fmt.Errorf("%w: chunk %s has %d, collection wants %d",
				ErrDimensionMismatch, p.ChunkID, len(p.Vector), s.dim)
			span.RecordError(err)
			return knowledge.NewStoreWriteError("vi", err)
		}
		docs = append(docs, chromem.Document{
			ID:        p.ChunkID,
			Embedding: p.Vector,
			// Chromem wants non-empty content even with a precomputed
			// embedding; the ordinal tag keeps it truthful and tiny.
			Content:  "chunk " + strconv.Itoa(p.Ordinal),
			Metadata: chromemMetadata(p),
		})
	}
	if len(docs) == 0 {
		return nil
	}

	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		span.RecordError(err)
		return knowledge.NewStoreWriteError("vi", err)
	}
	return nil
}

// Search runs cosine kNN. Chromem cannot filter on multi-valued metadata
// server-side, so filtered searches over-fetch and narrow in Go.
func (s *ChromemStore) Search(ctx context.Context, project string, vector []float32, k int, filter Filter) ([]Hit, error) {
	ctx, span := tracer.Start(ctx, "ChromemStore.Search")
	defer span.End()
	span.SetAttributes(attribute.Int("k", k))

	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query has %d, collection wants %d",
			ErrDimensionMismatch, len(vector), s.dim)
	}

	col, err := s.collection(project)
	if err != nil {
		return nil, err
	}

	count := col.Count()
	if count == 0 {
		return nil, nil
	}
	fetch := k
	if !filter.empty() {
		fetch = k * 4
	}
	if fetch > count {
		fetch = count
	}

	results, err := col.QueryEmbedding(ctx, vector, fetch, nil, nil)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := resultToHit(r)
		if !matchesFilter(filter, h.DocType, h.Tags) {
			continue
		}
		hits = append(hits, h)
		if len(hits) == k {
			break
		}
	}
	return hits, nil
}

// DeleteByDocument removes every point whose metadata references the
// document.
func (s *ChromemStore) DeleteByDocument(ctx context.Context, project, documentID string) error {
	ctx, span := tracer.Start(ctx, "ChromemStore.DeleteByDocument")
	defer span.End()
	span.SetAttributes(attribute.String("document.id", documentID))

	col, err := s.collection(project)
	if err != nil {
		return knowledge.NewStoreWriteError("vi", err)
	}
	if col.Count() == 0 {
		return nil
	}
	if err := col.Delete(ctx, map[string]string{"document_id": documentID}, nil); err != nil {
		span.RecordError(err)
		return knowledge.NewStoreWriteError("vi", err)
	}
	return nil
}

// Healthz always succeeds for the embedded backend.
func (s *ChromemStore) Healthz(ctx context.Context) error { return nil }

// Close is a no-op; chromem persists on every write.
func (s *ChromemStore) Close() error { return nil }

func chromemMetadata(p Point) map[string]string {
	return map[string]string{
		"document_id": p.DocumentID,
		"chunk_id":    p.ChunkID,
		"ordinal":     strconv.Itoa(p.Ordinal),
		"title":       p.Title,
		"doc_type":    string(p.DocType),
		"tags":        strings.Join(p.Tags, ","),
	}
}

func resultToHit(r chromem.Result) Hit {
	h := Hit{
		ChunkID: r.ID,
		Score:   float64(r.Similarity),
	}
	h.DocumentID = r.Metadata["document_id"]
	h.Title = r.Metadata["title"]
	h.DocType = knowledge.DocType(r.Metadata["doc_type"])
	if v := r.Metadata["ordinal"]; v != "" {
		h.Ordinal, _ = strconv.Atoi(v)
	}
	if v := r.Metadata["tags"]; v != "" {
		h.Tags = strings.Split(v, ",")
	}
	return h
}

func expandPath(path string) (string, error) {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
	}
	return path, nil
}
