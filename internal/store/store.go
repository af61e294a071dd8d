// Package store is the Postgres storage adapter. It owns the pgx pool,
// applies per-acquisition session state (current project, pgvector scan
// knobs), scopes transactions around every mutation that writes a
// revision row, and parses rows into typed records at this boundary so
// business code never inspects map keys by string.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvec "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"

	"mnemo/internal/config"
	"mnemo/internal/types"
)

// Querier is the subset of pgx shared by the pool, a single connection,
// and a transaction. Mutation helpers take a Querier so the same SQL
// runs standalone or inside a caller's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store wraps the connection pool. One Store serves one logical session:
// the current project set on it is applied to every connection at
// acquisition time, which is what the row-level policies key on.
type Store struct {
	pool   *pgxpool.Pool
	cfg    *config.Config
	logger *zap.Logger

	mu             sync.RWMutex
	currentProject string
}

// sessionSetupSQL applies per-connection state in one round-trip:
// the caller's project for the row-level policies, and the pgvector
// iterative-scan knobs that favour recall on filtered vector queries.
const sessionSetupSQL = `SELECT
	set_config('app.current_project', $1, false),
	set_config('hnsw.iterative_scan', $2, false),
	set_config('hnsw.max_scan_tuples', $3, false)`

// New connects the pool. The pool registers pgvector types on every new
// connection and replays session state on every acquisition, so business
// code can treat any acquired connection as fully configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("parsing database url: %w", err)
	}
	poolCfg.MaxConns = cfg.Database.MaxConns

	s := &Store{cfg: cfg, logger: logger}

	poolCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvec.RegisterTypes(ctx, conn)
	}
	poolCfg.BeforeAcquire = func(ctx context.Context, conn *pgx.Conn) bool {
		_, err := conn.Exec(ctx, sessionSetupSQL,
			s.Project(),
			cfg.Database.IterativeScan,
			fmt.Sprintf("%d", cfg.Database.MaxScanTuples))
		if err != nil {
			logger.Warn("session setup failed, discarding connection", zap.Error(err))
			return false
		}
		return true
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}
	s.pool = pool
	return s, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// SetProject switches the session's current project. It takes effect on
// the next connection acquisition; connections already held keep the
// project they were acquired with.
func (s *Store) SetProject(projectID string) {
	s.mu.Lock()
	s.currentProject = projectID
	s.mu.Unlock()
}

// Project returns the session's current project, possibly "".
func (s *Store) Project() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentProject
}

// Acquire hands out a configured connection, failing fast with a
// capacity error when the pool is exhausted past the configured timeout.
// Callers must Release and must never hold the connection across
// external I/O.
func (s *Store) Acquire(ctx context.Context) (*pgxpool.Conn, error) {
	acquireCtx, cancel := context.WithTimeout(ctx, s.cfg.GetAcquireTimeout())
	defer cancel()

	conn, err := s.pool.Acquire(acquireCtx)
	if err != nil {
		if errors.Is(acquireCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, types.Capacityf(err, "connection pool exhausted")
		}
		return nil, fmt.Errorf("acquiring connection: %w", err)
	}
	return conn, nil
}

// Transact runs fn inside a transaction on one acquired connection.
// Any error (or panic) rolls back; revision-writing mutations go
// through here so no mutation commits without its revision row.
func (s *Store) Transact(ctx context.Context, fn func(tx pgx.Tx) error) error {
	conn, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	tx, err := conn.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() {
		// No-op after commit; pgx returns ErrTxClosed which we ignore.
		_ = tx.Rollback(ctx)
	}()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// WithBypass runs fn on a connection that has assumed the emergency
// bypass role, disabling the row-level policies entirely. Refused unless
// enabled in configuration; every assumption is logged with the caller's
// justification.
func (s *Store) WithBypass(ctx context.Context, justification string, fn func(q Querier) error) error {
	if !s.cfg.Access.AllowBypass {
		return types.Preconditionf("", "emergency bypass is not enabled in configuration")
	}
	s.logger.Warn("assuming emergency bypass role",
		zap.String("justification", justification),
		zap.String("current_project", s.Project()))

	conn, err := s.Acquire(ctx)
	if err != nil {
		return err
	}
	defer conn.Release()

	if _, err := conn.Exec(ctx, `SET ROLE mnemo_bypass`); err != nil {
		return fmt.Errorf("assuming bypass role: %w", err)
	}
	defer func() {
		if _, err := conn.Exec(ctx, `RESET ROLE`); err != nil {
			s.logger.Error("resetting bypass role failed, discarding connection", zap.Error(err))
			conn.Conn().Close(context.Background())
		}
	}()

	return fn(conn)
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
