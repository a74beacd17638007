package relational

import (
	"context"
	"fmt"
	"strings"
)

// schemaDDL is the base schema. %[1]d is the embedding dimension. The ANN
// index lives in annIndexDDL so its failure cannot roll back the tables:
// a multi-statement Exec runs as one implicit transaction.
const schemaDDL = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS documents (
	id UUID PRIMARY KEY,
	project TEXT NOT NULL,
	title TEXT NOT NULL DEFAULT '',
	doc_type TEXT NOT NULL,
	format TEXT NOT NULL DEFAULT '',
	source_uri TEXT NOT NULL DEFAULT '',
	content_hash TEXT NOT NULL,
	raw_hash TEXT NOT NULL DEFAULT '',
	size_bytes BIGINT NOT NULL DEFAULT 0,
	tags TEXT[] NOT NULL DEFAULT '{}',
	metadata JSONB NOT NULL DEFAULT '{}',
	index_state TEXT NOT NULL DEFAULT 'ok',
	parent_document_id UUID,
	session_id TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE UNIQUE INDEX IF NOT EXISTS documents_project_hash_idx
	ON documents (project, content_hash);

CREATE INDEX IF NOT EXISTS documents_project_idx ON documents (project);

CREATE INDEX IF NOT EXISTS documents_index_state_idx
	ON documents (index_state) WHERE index_state <> 'ok';

CREATE TABLE IF NOT EXISTS chunks (
	id UUID PRIMARY KEY,
	document_id UUID NOT NULL REFERENCES documents(id) ON DELETE CASCADE,
	ordinal INT NOT NULL,
	text TEXT NOT NULL,
	start_offset INT NOT NULL DEFAULT 0,
	end_offset INT NOT NULL DEFAULT 0,
	token_estimate INT NOT NULL DEFAULT 0,
	heading_path TEXT[] NOT NULL DEFAULT '{}',
	kind TEXT NOT NULL DEFAULT 'prose',
	UNIQUE (document_id, ordinal)
);

CREATE INDEX IF NOT EXISTS chunks_text_fts_idx
	ON chunks USING GIN (to_tsvector('english', text));

CREATE TABLE IF NOT EXISTS embeddings (
	chunk_id UUID PRIMARY KEY REFERENCES chunks(id) ON DELETE CASCADE,
	vector vector(%[1]d) NOT NULL,
	model_id TEXT NOT NULL DEFAULT '',
	dim INT NOT NULL
);

CREATE TABLE IF NOT EXISTS sessions (
	id TEXT PRIMARY KEY,
	agent_type TEXT NOT NULL DEFAULT '',
	user_id TEXT NOT NULL DEFAULT '',
	project TEXT NOT NULL DEFAULT '',
	status TEXT NOT NULL DEFAULT 'active',
	start_time TIMESTAMPTZ NOT NULL,
	end_time TIMESTAMPTZ,
	reason TEXT NOT NULL DEFAULT '',
	context JSONB NOT NULL DEFAULT '{}',
	placeholder BOOLEAN NOT NULL DEFAULT FALSE
);

CREATE INDEX IF NOT EXISTS sessions_status_idx ON sessions (status);

CREATE TABLE IF NOT EXISTS actions (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	action_type TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	details JSONB NOT NULL DEFAULT '{}',
	files_affected TEXT[] NOT NULL DEFAULT '{}',
	success BOOLEAN NOT NULL DEFAULT TRUE,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS actions_session_idx ON actions (session_id, created_at);

CREATE TABLE IF NOT EXISTS conversation_messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	action_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS conversation_messages_session_idx
	ON conversation_messages (session_id, created_at);

CREATE TABLE IF NOT EXISTS code_snippets (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL REFERENCES sessions(id) ON DELETE CASCADE,
	language TEXT NOT NULL DEFAULT 'text',
	code TEXT NOT NULL,
	source_message_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS code_snippets_session_idx ON code_snippets (session_id);
`

// annIndexDDL prefers hnsw and falls back to ivfflat inside the DO block.
const annIndexDDL = `
DO $$
BEGIN
	IF NOT EXISTS (
		SELECT 1 FROM pg_indexes
		WHERE schemaname = current_schema()
			AND indexname = 'embeddings_vector_idx'
	) THEN
		BEGIN
			EXECUTE 'CREATE INDEX embeddings_vector_idx ON embeddings USING hnsw (vector vector_cosine_ops)';
		EXCEPTION WHEN OTHERS THEN
			EXECUTE 'CREATE INDEX embeddings_vector_idx ON embeddings USING ivfflat (vector vector_cosine_ops) WITH (lists = 100)';
		END;
	END IF;
END
$$;
`

// EnsureSchema creates the extension, tables, and indexes. Idempotent.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, fmt.Sprintf(schemaDDL, s.dim)); err != nil {
		return writeErr(fmt.Errorf("ensuring schema: %w", err))
	}

	if err := s.checkDeclaredDim(ctx); err != nil {
		return err
	}

	// ANN index creation can fail on pgvector builds without an
	// approximate index type; sequential scan still works.
	if _, err := s.pool.Exec(ctx, annIndexDDL); err != nil {
		if !strings.Contains(err.Error(), "hnsw") && !strings.Contains(err.Error(), "ivfflat") {
			return writeErr(fmt.Errorf("creating vector index: %w", err))
		}
	}

	// Fresh connections pick up the vector codec now that the extension
	// exists.
	s.pool.Reset()
	return nil
}

// checkDeclaredDim verifies the embeddings column width matches the
// configured dimension. CREATE TABLE IF NOT EXISTS keeps an existing
// table's width, so a model change surfaces here instead of on insert.
// Re-embedding under a new model is not supported; the operator must
// migrate the table.
func (s *Store) checkDeclaredDim(ctx context.Context) error {
	var declared int
	err := s.pool.QueryRow(ctx,
		`SELECT atttypmod FROM pg_attribute
		 WHERE attrelid = 'embeddings'::regclass AND attname = 'vector'`).Scan(&declared)
	if err != nil {
		return writeErr(fmt.Errorf("checking embedding dimension: %w", err))
	}
	if declared != s.dim {
		return fmt.Errorf("embeddings table declares vector(%d) but configured dimension is %d: migrate or drop the table",
			declared, s.dim)
	}
	return nil
}
