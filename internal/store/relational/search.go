package relational

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

// Filters narrows search scope. Zero values mean no constraint.
type Filters struct {
	DocTypes  []knowledge.DocType
	Tags      []string
	SessionID string
	Since     *time.Time
	Until     *time.Time
}

// apply appends WHERE clauses for the set filters. Placeholders continue
// from len(args); documents must be aliased d in the enclosing query.
func (f Filters) apply(sb *strings.Builder, args []any) []any {
	if len(f.DocTypes) > 0 {
		types := make([]string, len(f.DocTypes))
		for i, t := range f.DocTypes {
			types[i] = string(t)
		}
		args = append(args, types)
		fmt.Fprintf(sb, " AND d.doc_type = ANY($%d)", len(args))
	}
	if len(f.Tags) > 0 {
		args = append(args, f.Tags)
		fmt.Fprintf(sb, " AND d.tags && $%d", len(args))
	}
	if f.SessionID != "" {
		args = append(args, f.SessionID)
		fmt.Fprintf(sb, " AND d.session_id = $%d", len(args))
	}
	if f.Since != nil {
		args = append(args, *f.Since)
		fmt.Fprintf(sb, " AND d.created_at >= $%d", len(args))
	}
	if f.Until != nil {
		args = append(args, *f.Until)
		fmt.Fprintf(sb, " AND d.created_at <= $%d", len(args))
	}
	return args
}

// SearchHit is one chunk-level retrieval result.
type SearchHit struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Title      string
	SourceURI  string
	DocType    knowledge.DocType
	Tags       []string
	Score      float64
}

// KeywordSearch runs full-text retrieval over chunk text, project-scoped.
// Scores are ts_rank_cd values; higher is better.
func (s *Store) KeywordSearch(ctx context.Context, project, query string, k int, filters Filters) ([]SearchHit, error) {
	ctx, span := tracer.Start(ctx, "rv.keyword_search")
	defer span.End()
	span.SetAttributes(attribute.String("project", project), attribute.Int("k", k))

	var sb strings.Builder
	sb.WriteString(`
		SELECT c.id, c.document_id, c.ordinal, c.text, d.title, d.source_uri, d.doc_type, d.tags,
			ts_rank_cd(to_tsvector('english', c.text), websearch_to_tsquery('english', $2)) AS score
		FROM chunks c
		JOIN documents d ON d.id = c.document_id
		WHERE d.project = $1
			AND to_tsvector('english', c.text) @@ websearch_to_tsquery('english', $2)`)
	args := []any{project, query}
	args = filters.apply(&sb, args)
	args = append(args, k)
	fmt.Fprintf(&sb, " ORDER BY score DESC LIMIT $%d", len(args))

	hits, err := s.queryHits(ctx, sb.String(), args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("keyword search: %w", err)
	}
	return hits, nil
}

// VectorSearch runs cosine kNN over stored embeddings, project-scoped.
// Scores are cosine similarities in [-1, 1]. Zero vectors (blank chunks)
// never match.
func (s *Store) VectorSearch(ctx context.Context, project string, vector []float32, k int, filters Filters) ([]SearchHit, error) {
	ctx, span := tracer.Start(ctx, "rv.vector_search")
	defer span.End()
	span.SetAttributes(attribute.String("project", project), attribute.Int("k", k))

	if len(vector) != s.dim {
		return nil, fmt.Errorf("%w: query vector has dimension %d, want %d",
			knowledge.ErrValidation, len(vector), s.dim)
	}

	var sb strings.Builder
	sb.WriteString(`
		SELECT c.id, c.document_id, c.ordinal, c.text, d.title, d.source_uri, d.doc_type, d.tags,
			1 - (e.vector <=> $2) AS score
		FROM embeddings e
		JOIN chunks c ON c.id = e.chunk_id
		JOIN documents d ON d.id = c.document_id
		WHERE d.project = $1
			AND e.vector <> $3`)
	args := []any{project, pgvector.NewVector(vector), pgvector.NewVector(make([]float32, s.dim))}
	args = filters.apply(&sb, args)
	args = append(args, k)
	fmt.Fprintf(&sb, " ORDER BY e.vector <=> $2 LIMIT $%d", len(args))

	hits, err := s.queryHits(ctx, sb.String(), args)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("vector search: %w", err)
	}
	return hits, nil
}

func (s *Store) queryHits(ctx context.Context, sql string, args []any) ([]SearchHit, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []SearchHit
	for rows.Next() {
		var h SearchHit
		if err := rows.Scan(&h.ChunkID, &h.DocumentID, &h.Ordinal, &h.Text,
			&h.Title, &h.SourceURI, &h.DocType, &h.Tags, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}
