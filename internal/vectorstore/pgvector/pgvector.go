// Package pgvector stores index records in PostgreSQL using the pgvector extension.
package pgvector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"flightrag/internal/domain"
	"flightrag/internal/vectorstore"
)

var _ domain.VectorIndex = (*Storage)(nil)

type Config struct {
	DSN   string
	Table string
	// MaxConns bounds the connection pool. Zero keeps the pgxpool default.
	MaxConns int32
}

// Storage is a pgvector-backed index with one table per index name.
type Storage struct {
	pool  *pgxpool.Pool
	table string
	ident string
}

// Open connects to PostgreSQL. The table is created by Init.
func Open(ctx context.Context, cfg Config) (*Storage, error) {
	if cfg.DSN == "" {
		return nil, errors.New("pgvector: dsn is required")
	}
	pcfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("unable to parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		pcfg.MaxConns = cfg.MaxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, pcfg)
	if err != nil {
		return nil, wrap("connect", err)
	}
	return New(pool, cfg.Table), nil
}

// New uses an existing pool.
func New(pool *pgxpool.Pool, table string) *Storage {
	if table == "" {
		table = "flightaware_chunks"
	}
	return &Storage{pool: pool, table: table, ident: tableIdent(table)}
}

func tableIdent(table string) string { return pgx.Identifier{table}.Sanitize() }

func (s *Storage) Close() { s.pool.Close() }

// WithTable returns a Storage for another table on the same pool.
func (s *Storage) WithTable(table string) *Storage { return New(s.pool, table) }

// Init creates the extension, the table and its cosine index.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.InvalidArgument("invalid dimension %d", dimension)
	}
	for _, stmt := range schema(s.table, dimension) {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return wrap("init", err)
		}
	}
	return nil
}

func schema(table string, dimension int) []string {
	ident := tableIdent(table)
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
			id          TEXT PRIMARY KEY,
			source_type TEXT NOT NULL,
			url         TEXT NOT NULL,
			title       TEXT NOT NULL DEFAULT '',
			chunk_index INTEGER NOT NULL,
			text        TEXT NOT NULL,
			embedding   vector(%d) NOT NULL
		)`, ident, dimension),
		fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s (source_type)",
			pgx.Identifier{table + "_source_type_idx"}.Sanitize(), ident),
	}
	// HNSW indexes are capped at 2000 dimensions.
	if dimension <= 2000 {
		stmts = append(stmts, fmt.Sprintf("CREATE INDEX IF NOT EXISTS %s ON %s USING hnsw (embedding vector_cosine_ops)",
			pgx.Identifier{table + "_embedding_idx"}.Sanitize(), ident))
	}
	return stmts
}

func (s *Storage) Upsert(ctx context.Context, records []domain.IndexRecord) error {
	if len(records) == 0 {
		return nil
	}
	stmt := fmt.Sprintf(`INSERT INTO %s (id, source_type, url, title, chunk_index, text, embedding)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			source_type = EXCLUDED.source_type,
			url = EXCLUDED.url,
			title = EXCLUDED.title,
			chunk_index = EXCLUDED.chunk_index,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding`, s.ident)
	batch := &pgx.Batch{}
	for _, r := range records {
		md := r.Metadata
		batch.Queue(stmt, r.ID, string(md.SourceType), md.URL, md.Title, md.ChunkIndex, md.Text, pgvector.NewVector(r.Vector))
	}
	if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
		return wrap("upsert", err)
	}
	return nil
}

// searchSQL returns the nearest-neighbor statement and its arguments.
func (s *Storage) searchSQL(vector []float32, k int, filter domain.Filter) (string, []any) {
	var b strings.Builder
	args := []any{pgvector.NewVector(vector)}
	fmt.Fprintf(&b, "SELECT id, source_type, url, title, chunk_index, text, 1 - (embedding <=> $1) AS score FROM %s", s.ident)
	if !filter.IsZero() {
		args = append(args, string(filter.SourceType))
		fmt.Fprintf(&b, " WHERE source_type = $%d", len(args))
	}
	args = append(args, k)
	fmt.Fprintf(&b, " ORDER BY embedding <=> $1, url, chunk_index LIMIT $%d", len(args))
	return b.String(), args
}

func (s *Storage) Query(ctx context.Context, vector []float32, k int, filter domain.Filter) ([]domain.SearchResult, error) {
	if k <= 0 {
		k = 5
	}
	query, args := s.searchSQL(vector, k, filter)
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("query", err)
	}
	defer rows.Close()

	var results []domain.SearchResult
	for rows.Next() {
		var (
			r   domain.SearchResult
			src string
		)
		if err := rows.Scan(&r.ID, &src, &r.Metadata.URL, &r.Metadata.Title, &r.Metadata.ChunkIndex, &r.Metadata.Text, &r.Score); err != nil {
			return nil, wrap("query", err)
		}
		r.Metadata.SourceType = domain.SourceType(src)
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("query", err)
	}
	vectorstore.Rank(results)
	return results, nil
}

func (s *Storage) Count(ctx context.Context) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, "SELECT COUNT(*) FROM "+s.ident).Scan(&n)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return 0, nil
		}
		return 0, wrap("count", err)
	}
	return n, nil
}

func (s *Storage) deleteSQL() string {
	return "DELETE FROM " + s.ident + " WHERE url = $1 AND chunk_index >= $2"
}

// DeleteDocument removes the document's rows from keepBelow on. A missing
// table holds nothing to delete.
func (s *Storage) DeleteDocument(ctx context.Context, url string, keepBelow int) error {
	if _, err := s.pool.Exec(ctx, s.deleteSQL(), url, keepBelow); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
			return nil
		}
		return wrap("delete", err)
	}
	return nil
}

// Clear drops the table. Init must be called again before upserting.
func (s *Storage) Clear(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, "DROP TABLE IF EXISTS "+s.ident); err != nil {
		return wrap("clear", err)
	}
	return nil
}

func (s *Storage) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := s.pool.Ping(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func wrap(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exceptions, 53 is insufficient resources.
		retryable := strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "53")
		return &domain.ProviderError{Kind: domain.KindVectorIndex, Op: op, Retryable: retryable, Err: err}
	}
	if pgconn.SafeToRetry(err) || pgconn.Timeout(err) {
		return &domain.ProviderError{Kind: domain.KindVectorIndex, Op: op, Retryable: true, Err: err}
	}
	return domain.AsProviderError(domain.KindVectorIndex, op, err)
}
