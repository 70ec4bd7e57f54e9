// Package postgres provides Postgres-backed persistence for every
// component's storage layer: the page cache, the job queue, API keys,
// the event log, and agent-extract provenance.
//
// Grounded on the teacher's internal/storage/postgres/retrieval_store.go
// (pgxpool.ParseConfig + NewWithConfig shape, connection-limit knobs) for
// pool construction.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/webextract/service/internal/jobengine"
	"github.com/webextract/service/internal/pagecache"
)

// Config controls the underlying pgxpool.Pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// conn is the subset of *pgxpool.Pool every store in this package needs,
// narrow enough that github.com/pashagolub/pgxmock/v4 satisfies it in
// tests, grounded on the teacher's retrieval_store.go execCloser
// interface.
type conn interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Close()
}

// Pool wraps a Postgres connection and adapts it to the narrow DB
// interfaces each component package declares for its own testability.
type Pool struct {
	pool conn
}

// Open connects to Postgres and returns a Pool.
func Open(ctx context.Context, cfg Config) (*Pool, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// NewWithConn wraps an existing connection, primarily for tests against
// github.com/pashagolub/pgxmock/v4.
func NewWithConn(c conn) *Pool { return &Pool{pool: c} }

// Close releases the underlying pool.
func (p *Pool) Close() { p.pool.Close() }

// Exec satisfies migrations.Execer directly, and is shared by the
// per-component adapters below.
func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (int64, error) {
	tag, err := p.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// QueryRow satisfies pagecache.DB's Row return type; Pool itself is
// pagecache's DB implementation.
func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pagecache.Row {
	return p.pool.QueryRow(ctx, sql, args...)
}

// JobDB adapts Pool to jobengine.DB, which declares its own Row type
// distinct from pagecache.Row even though both require only Scan.
type JobDB struct {
	*Pool
}

// NewJobDB wraps pool for jobengine's store.
func NewJobDB(pool *Pool) *JobDB { return &JobDB{Pool: pool} }

// QueryRow shadows Pool.QueryRow with jobengine's Row return type.
func (j *JobDB) QueryRow(ctx context.Context, sql string, args ...any) jobengine.Row {
	return j.Pool.pool.QueryRow(ctx, sql, args...)
}
