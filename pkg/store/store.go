package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/panfm/panfm/pkg/config"
	"github.com/panfm/panfm/pkg/log"
)

// bulkPageSize is the page size for batched inserts.
const bulkPageSize = 100

// Store is the TimescaleDB access layer. One Store is shared by the
// collector, the alert engine and the API process.
type Store struct {
	pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Open builds the connection pool and verifies connectivity. The pool keeps
// between 2 and 10 connections and every session carries a 30s statement
// timeout so one runaway analytics query cannot wedge a collection tick.
func Open(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	st, err := OpenLazy(ctx, cfg)
	if err != nil {
		return nil, err
	}
	if err := st.Ping(ctx); err != nil {
		st.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return st, nil
}

// OpenLazy builds the pool without verifying connectivity. The API process
// uses it so /health can report an initializing database instead of the
// whole process refusing to start.
func OpenLazy(ctx context.Context, cfg config.DBConfig) (*Store, error) {
	pc, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}
	pc.MinConns = 2
	pc.MaxConns = 10
	pc.ConnConfig.RuntimeParams["statement_timeout"] = "30000"

	pool, err := pgxpool.NewWithConfig(ctx, pc)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	return &Store{
		pool:   pool,
		logger: log.WithComponent("store"),
	}, nil
}

// Ping reports database reachability for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases the pool.
func (s *Store) Close() {
	s.pool.Close()
}

// sendBatchPages queues n statements in pages of bulkPageSize and executes
// each page as one round trip. Empty input is a no-op.
func (s *Store) sendBatchPages(ctx context.Context, n int, queue func(i int, b *pgx.Batch)) error {
	for start := 0; start < n; start += bulkPageSize {
		end := min(start+bulkPageSize, n)
		batch := &pgx.Batch{}
		for i := start; i < end; i++ {
			queue(i, batch)
		}
		if err := s.pool.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("batch page %d..%d: %w", start, end, err)
		}
	}
	return nil
}
