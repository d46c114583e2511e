package vectorindex

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	pgxvec "github.com/pgvector/pgvector-go/pgx"

	"github.com/dstowell/margin/internal/embedding"
)

// Pgvector is an Index backed by Postgres with the pgvector extension.
// Schema creation follows the same lazy, memoized, retryable pattern as
// the Qdrant backend.
type Pgvector struct {
	pool     *pgxpool.Pool
	provider embedding.Provider
	logger   *slog.Logger

	initMu sync.Mutex
	ready  bool
}

// NewPgvector connects a pool to connString and registers the pgvector
// codec on every connection. The schema is created on first use.
func NewPgvector(ctx context.Context, connString string, provider embedding.Provider, logger *slog.Logger) (*Pgvector, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse postgres config: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create postgres pool: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pgvector{
		pool:     pool,
		provider: provider,
		logger:   logger,
	}, nil
}

// Close releases the connection pool.
func (p *Pgvector) Close() {
	p.pool.Close()
}

// ensureReady creates the extension, table and ANN index once. Failures
// are not memoized, the next caller retries.
func (p *Pgvector) ensureReady(ctx context.Context) error {
	p.initMu.Lock()
	defer p.initMu.Unlock()

	if p.ready {
		return nil
	}

	statements := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS chunks (
			document_id TEXT NOT NULL,
			chunk_index INT NOT NULL,
			filename    TEXT NOT NULL DEFAULT '',
			title       TEXT NOT NULL DEFAULT '',
			content     TEXT NOT NULL,
			embedding   vector(%d) NOT NULL,
			PRIMARY KEY (document_id, chunk_index)
		)`, p.provider.Dimension()),
		`CREATE INDEX IF NOT EXISTS chunks_embedding_idx
			ON chunks USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`,
	}
	for _, stmt := range statements {
		if _, err := p.pool.Exec(ctx, stmt); err != nil {
			return classifyPgError(err, "create schema")
		}
	}

	p.ready = true
	return nil
}

// classifyPgError maps Postgres failures onto the index error taxonomy.
// SQLSTATE class 53 covers disk-full and connection/resource limits.
func classifyPgError(err error, op string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && strings.HasPrefix(pgErr.Code, "53") {
		return fmt.Errorf("%w: %s: %v", ErrCapacityExceeded, op, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrIndexUnavailable, op, err)
}

// Upsert implements Index.
func (p *Pgvector) Upsert(ctx context.Context, doc DocumentChunks) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	embedded, err := embedChunks(ctx, p.provider, doc, p.logger)
	if err != nil {
		return err
	}
	if len(embedded) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, ec := range embedded {
		batch.Queue(`INSERT INTO chunks (document_id, chunk_index, filename, title, content, embedding)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (document_id, chunk_index)
			DO UPDATE SET filename = $3, title = $4, content = $5, embedding = $6`,
			doc.DocumentID, ec.Index, doc.Filename, doc.Title, ec.Text, pgvector.NewVector(ec.Vector))
	}

	results := p.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range embedded {
		if _, err := results.Exec(); err != nil {
			return classifyPgError(err, fmt.Sprintf("upsert document %s", doc.DocumentID))
		}
	}

	if len(embedded) < len(doc.Chunks) {
		p.logger.Warn("document partially indexed",
			"document_id", doc.DocumentID, "indexed", len(embedded), "total", len(doc.Chunks))
	}
	return nil
}

// Search implements Index. pgvector's <=> operator is cosine distance,
// so similarity is its complement.
func (p *Pgvector) Search(ctx context.Context, query string, k int) ([]SearchResult, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := p.ensureReady(ctx); err != nil {
		return nil, err
	}

	queryVec, err := embedQuery(ctx, p.provider, query)
	if err != nil {
		return nil, err
	}

	rows, err := p.pool.Query(ctx, `
		SELECT content, filename, title, document_id, 1 - (embedding <=> $1) AS similarity
		FROM chunks
		ORDER BY embedding <=> $1
		LIMIT $2`,
		pgvector.NewVector(queryVec), k)
	if err != nil {
		return nil, classifyPgError(err, "search")
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		if err := rows.Scan(&r.Content, &r.Filename, &r.Title, &r.DocumentID, &r.Similarity); err != nil {
			return nil, classifyPgError(err, "scan search row")
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, classifyPgError(err, "search rows")
	}
	return results, nil
}

// Remove implements Index.
func (p *Pgvector) Remove(ctx context.Context, documentID string) error {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := p.ensureReady(ctx); err != nil {
		return err
	}

	if _, err := p.pool.Exec(ctx, `DELETE FROM chunks WHERE document_id = $1`, documentID); err != nil {
		return classifyPgError(err, fmt.Sprintf("delete document %s", documentID))
	}
	return nil
}

// Count implements Index.
func (p *Pgvector) Count(ctx context.Context) (int, error) {
	ctx, cancel := context.WithTimeout(ctx, OpTimeout)
	defer cancel()

	if err := p.ensureReady(ctx); err != nil {
		return 0, err
	}

	var count int
	err := p.pool.QueryRow(ctx, `SELECT COUNT(DISTINCT document_id) FROM chunks`).Scan(&count)
	if err != nil {
		return 0, classifyPgError(err, "count documents")
	}
	return count, nil
}

// Ready implements Index via a pool ping.
func (p *Pgvector) Ready(ctx context.Context) bool {
	return p.pool.Ping(ctx) == nil
}
