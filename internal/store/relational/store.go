package relational

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.opentelemetry.io/otel"

	"github.com/finderskeepers/keeperd/internal/knowledge"
)

var tracer = otel.Tracer("keeperd.store.relational")

// Config holds connection settings.
type Config struct {
	// DSN is the Postgres connection string.
	DSN string

	// MaxConns caps the pool. Zero keeps the pgxpool default.
	MaxConns int

	// Dim is the embedding width used in the schema and enforced on insert.
	Dim int

	// ModelID labels embedding rows with the model that produced them.
	ModelID string
}

// Store is the Postgres-backed system of record.
type Store struct {
	pool    *pgxpool.Pool
	dim     int
	modelID string
}

// New connects to Postgres. It does not create the schema; call
// EnsureSchema once at startup.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("%w: relational DSN required", knowledge.ErrValidation)
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("%w: embedding dimension must be positive", knowledge.ErrValidation)
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	// Register the pgvector codec on every connection. Before EnsureSchema
	// installs the extension the type does not exist yet and registration
	// fails; those early connections only run DDL, so the error is dropped
	// and EnsureSchema resets the pool afterwards.
	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_ = pgxvector.RegisterTypes(ctx, conn)
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to Postgres: %w", err)
	}

	return &Store{pool: pool, dim: cfg.Dim, modelID: cfg.ModelID}, nil
}

// Close releases the connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Healthz verifies connectivity.
func (s *Store) Healthz(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// writeErr tags write failures with this store's name.
func writeErr(err error) error {
	return knowledge.NewStoreWriteError("rv", err)
}

// isUniqueViolation reports whether err is a Postgres duplicate-key error.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// nullIfEmpty maps "" to SQL NULL for nullable text columns.
func nullIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// orEmpty substitutes an empty slice for nil so NOT NULL array columns
// never see a SQL NULL.
func orEmpty(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func orEmptyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
