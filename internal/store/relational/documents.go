package relational

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/attribute"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

const documentColumns = `id, project, title, doc_type, format, source_uri, content_hash,
	raw_hash, size_bytes, tags, metadata, index_state, parent_document_id,
	session_id, created_at, updated_at`

const chunkColumns = `id, document_id, ordinal, text, start_offset, end_offset,
	token_estimate, heading_path, kind`

// InsertDocumentWithChunks writes the document, its chunks, and their
// embeddings in one transaction. A concurrent insert of the same
// (project, content_hash) surfaces as ErrConflict; callers resolve it by
// re-reading the winner.
func (s *Store) InsertDocumentWithChunks(ctx context.Context, doc *knowledge.Document, chunks []knowledge.Chunk, vectors [][]float32) error {
	ctx, span := tracer.Start(ctx, "rv.insert_document")
	defer span.End()
	span.SetAttributes(
		attribute.String("document_id", doc.ID),
		attribute.Int("chunks", len(chunks)),
	)

	if len(chunks) != len(vectors) {
		return fmt.Errorf("%w: %d chunks but %d vectors", knowledge.ErrValidation, len(chunks), len(vectors))
	}
	for i, vec := range vectors {
		if len(vec) != s.dim {
			return fmt.Errorf("%w: vector %d has dimension %d, want %d",
				knowledge.ErrValidation, i, len(vec), s.dim)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return writeErr(fmt.Errorf("begin: %w", err))
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		INSERT INTO documents (id, project, title, doc_type, format, source_uri,
			content_hash, raw_hash, size_bytes, tags, metadata, index_state,
			parent_document_id, session_id, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		doc.ID, doc.Project, doc.Title, string(doc.DocType), string(doc.Format),
		doc.SourceURI, doc.ContentHash, doc.RawHash, doc.SizeBytes,
		orEmpty(doc.Tags), orEmptyMap(doc.Metadata), string(doc.IndexState),
		nullIfEmpty(doc.ParentDocumentID), nullIfEmpty(doc.SessionID),
		doc.CreatedAt, doc.UpdatedAt,
	); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: document already stored for this content", knowledge.ErrConflict)
		}
		return writeErr(fmt.Errorf("insert document: %w", err))
	}

	for i, ch := range chunks {
		if _, err := tx.Exec(ctx, `
			INSERT INTO chunks (id, document_id, ordinal, text, start_offset,
				end_offset, token_estimate, heading_path, kind)
			VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
			ch.ID, ch.DocumentID, ch.Ordinal, ch.Text, ch.StartOffset,
			ch.EndOffset, ch.TokenEstimate, orEmpty(ch.HeadingPath), string(ch.Kind),
		); err != nil {
			return writeErr(fmt.Errorf("insert chunk %d: %w", ch.Ordinal, err))
		}

		if _, err := tx.Exec(ctx, `
			INSERT INTO embeddings (chunk_id, vector, model_id, dim)
			VALUES ($1,$2,$3,$4)`,
			ch.ID, pgvector.NewVector(vectors[i]), s.modelID, s.dim,
		); err != nil {
			return writeErr(fmt.Errorf("insert embedding %d: %w", ch.Ordinal, err))
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return writeErr(fmt.Errorf("commit: %w", err))
	}
	return nil
}

// FindByContentHash looks up the dedup winner for normalized content.
func (s *Store) FindByContentHash(ctx context.Context, project, contentHash string) (*knowledge.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE project = $1 AND content_hash = $2`,
		project, contentHash)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: no document for content hash", knowledge.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("find by content hash: %w", err)
	}
	return doc, nil
}

// GetDocument fetches one document by id.
func (s *Store) GetDocument(ctx context.Context, documentID string) (*knowledge.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID)
	doc, err := scanDocument(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: document %s", knowledge.ErrNotFound, documentID)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return doc, nil
}

// UpdateIndexState moves a document between persistence states and bumps
// updated_at, which the repair worker uses as the staleness clock.
func (s *Store) UpdateIndexState(ctx context.Context, documentID string, state knowledge.IndexState) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE documents SET index_state = $2, updated_at = NOW() WHERE id = $1`,
		documentID, string(state))
	if err != nil {
		return writeErr(fmt.Errorf("update index state: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", knowledge.ErrNotFound, documentID)
	}
	return nil
}

// ListDocumentsByIndexState returns documents in any of the given states,
// oldest first, for the repair worker.
func (s *Store) ListDocumentsByIndexState(ctx context.Context, states []knowledge.IndexState, limit int) ([]knowledge.Document, error) {
	names := make([]string, len(states))
	for i, st := range states {
		names[i] = string(st)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+documentColumns+` FROM documents
		 WHERE index_state = ANY($1) ORDER BY updated_at ASC LIMIT $2`,
		names, limit)
	if err != nil {
		return nil, fmt.Errorf("list documents by index state: %w", err)
	}
	defer rows.Close()

	var docs []knowledge.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, *doc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}
	return docs, nil
}

// ListProjects returns the distinct projects that have documents, for
// maintenance jobs that run per project.
func (s *Store) ListProjects(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT project FROM documents ORDER BY project`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate projects: %w", err)
	}
	return projects, nil
}

// DeleteDocument removes a document; chunks and embeddings cascade.
func (s *Store) DeleteDocument(ctx context.Context, documentID string) error {
	ctx, span := tracer.Start(ctx, "rv.delete_document")
	defer span.End()
	span.SetAttributes(attribute.String("document_id", documentID))

	tag, err := s.pool.Exec(ctx, `DELETE FROM documents WHERE id = $1`, documentID)
	if err != nil {
		return writeErr(fmt.Errorf("delete document: %w", err))
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: document %s", knowledge.ErrNotFound, documentID)
	}
	return nil
}

// ListChunks returns a document's chunks in ordinal order.
func (s *Store) ListChunks(ctx context.Context, documentID string) ([]knowledge.Chunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = $1 ORDER BY ordinal`,
		documentID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var chunks []knowledge.Chunk
	for rows.Next() {
		ch, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		chunks = append(chunks, ch)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, nil
}

// ListChunksWithVectors returns chunks and their stored vectors so repair
// can replay the vector-index write without re-embedding. Vector bytes
// stay bit-identical across stores that way.
func (s *Store) ListChunksWithVectors(ctx context.Context, documentID string) ([]knowledge.Chunk, [][]float32, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT c.id, c.document_id, c.ordinal, c.text, c.start_offset, c.end_offset,
			c.token_estimate, c.heading_path, c.kind, e.vector
		 FROM chunks c
		 JOIN embeddings e ON e.chunk_id = c.id
		 WHERE c.document_id = $1 ORDER BY c.ordinal`,
		documentID)
	if err != nil {
		return nil, nil, fmt.Errorf("list chunks with vectors: %w", err)
	}
	defer rows.Close()

	var chunks []knowledge.Chunk
	var vectors [][]float32
	for rows.Next() {
		var ch knowledge.Chunk
		var vec pgvector.Vector
		if err := rows.Scan(&ch.ID, &ch.DocumentID, &ch.Ordinal, &ch.Text,
			&ch.StartOffset, &ch.EndOffset, &ch.TokenEstimate, &ch.HeadingPath,
			&ch.Kind, &vec); err != nil {
			return nil, nil, fmt.Errorf("scan chunk with vector: %w", err)
		}
		chunks = append(chunks, ch)
		vectors = append(vectors, vec.Slice())
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterate chunks: %w", err)
	}
	return chunks, vectors, nil
}

func scanDocument(row pgx.Row) (*knowledge.Document, error) {
	var doc knowledge.Document
	var parent, session *string
	err := row.Scan(&doc.ID, &doc.Project, &doc.Title, &doc.DocType, &doc.Format,
		&doc.SourceURI, &doc.ContentHash, &doc.RawHash, &doc.SizeBytes, &doc.Tags,
		&doc.Metadata, &doc.IndexState, &parent, &session, &doc.CreatedAt, &doc.UpdatedAt)
	if err != nil {
		return nil, err
	}
	doc.ParentDocumentID = deref(parent)
	doc.SessionID = deref(session)
	return &doc, nil
}

func scanChunk(row pgx.Row) (knowledge.Chunk, error) {
	var ch knowledge.Chunk
	err := row.Scan(&ch.ID, &ch.DocumentID, &ch.Ordinal, &ch.Text, &ch.StartOffset,
		&ch.EndOffset, &ch.TokenEstimate, &ch.HeadingPath, &ch.Kind)
	return ch, err
}
