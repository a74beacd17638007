package vector

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// collectionSuffix distinguishes keeperd collections from anything else
// living in a shared Qdrant instance.
const collectionSuffix = "_documents"

// maxCollectionName is the longest name both backends accept.
const maxCollectionName = 64

var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// Point is one chunk embedding plus the payload the query engine needs to
// attribute a hit back to its document without consulting the relational
// store.
type Point struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Title      string
	DocType    knowledge.DocType
	Tags       []string
	Vector     []float32
}

// Hit is a scored chunk returned from a similarity search. Score is cosine
// similarity, higher is better.
type Hit struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Title      string
	DocType    knowledge.DocType
	Tags       []string
	Score      float64
}

// Filter narrows a search by payload fields. Empty slices match everything;
// within a slice values are OR-ed.
type Filter struct {
	DocTypes []knowledge.DocType
	Tags     []string
}

func (f Filter) empty() bool {
	return len(f.DocTypes) == 0 && len(f.Tags) == 0
}

// Store is the vector index port. Implementations must make UpsertChunks
// idempotent (points keyed by chunk id) so the repair worker can replay a
// partial write safely.
type Store interface {
	// EnsureCollection creates the project's collection if it does not
	// exist yet. Safe to call concurrently and repeatedly.
	EnsureCollection(ctx context.Context, project string) error

	// UpsertChunks writes chunk embeddings into the project's collection.
	// Points with a zero vector are skipped.
	UpsertChunks(ctx context.Context, project string, points []Point) error

	// Search runs kNN over the project's collection and returns up to k
	// hits best-first.
	Search(ctx context.Context, project string, vector []float32, k int, filter Filter) ([]Hit, error)

	// DeleteByDocument removes every point belonging to the document.
	DeleteByDocument(ctx context.Context, project, documentID string) error

	// Healthz reports whether the backend is reachable.
	Healthz(ctx context.Context) error

	Close() error
}

// CollectionName derives the per-project collection name. Project names are
// lowercased, runs of separator characters become underscores, and anything
// else outside [a-z0-9_] is dropped. Names that would exceed the backend
// limit are truncated with a content-hash tail so distinct projects never
// collide.
func CollectionName(project string) (string, error) {
	p := strings.ToLower(strings.TrimSpace(project))
	p = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			return r
		case r == '-', r == ' ', r == '.', r == '/':
			return '_'
		default:
			return -1
		}
	}, p)
	p = strings.Trim(p, "_")
	if p == "" {
		return "", knowledge.Validationf("project %q yields an empty collection name", project)
	}

	name := p + collectionSuffix
	if len(name) > maxCollectionName {
		sum := sha256.Sum256([]byte(p))
		keep := maxCollectionName - len(collectionSuffix) - 9 // "_" + 8 hex chars
		p = p[:keep] + "_" + hex.EncodeToString(sum[:4])
		name = p + collectionSuffix
	}
	if !collectionNamePattern.MatchString(name) {
		return "", knowledge.Validationf("collection name %q is invalid", name)
	}
	return name, nil
}

// isZeroVector reports whether every component is zero. Mirrors the sentinel
// the embedding client emits for blank chunk text.
func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// matchesFilter applies Filter in Go for backends without server-side
// payload filtering.
func matchesFilter(f Filter, docType knowledge.DocType, tags []string) bool {
	if len(f.DocTypes) > 0 {
		ok := false
		for _, dt := range f.DocTypes {
			if dt == docType {
				ok = true
				break
			}
		}
		if !ok {
			return false
		}
	}
	if len(f.Tags) > 0 {
		ok := false
		for _, want := range f.Tags {
			for _, have := range tags {
				if want == have {
					ok = true
					break
				}
			}
			if ok {
				break
			}
		}
		if !ok {
			return false
		}
	}
	return true
}
