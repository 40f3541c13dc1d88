// Package pgstore is the PostgreSQL implementation of the session, item and
// order store, for deployments where several tillsync nodes share one
// database.
//
// Approvals lock the order row and then every referenced item row with
// SELECT ... FOR UPDATE in ascending id order, so competing approvals
// serialize per item without deadlocking.
package pgstore

import (
	"context"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed schema.sql
var schemaSQL string

// Store provides durable storage backed by a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// Option configures Open.
type Option func(*options)

type options struct {
	maxConns   int32
	maxRetries int
	logger     *slog.Logger
}

// WithMaxConns caps the pool size. Default 25.
func WithMaxConns(n int32) Option {
	return func(o *options) {
		o.maxConns = n
	}
}

// WithConnectRetries sets how many times Open tries to reach the database.
// Default 5.
func WithConnectRetries(n int) Option {
	return func(o *options) {
		o.maxRetries = n
	}
}

// WithLogger sets the logger used while connecting.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// Open connects to dsn, retrying with a linear backoff, and applies the
// embedded schema.
func Open(ctx context.Context, dsn string, opts ...Option) (*Store, error) {
	o := options{maxConns: 25, maxRetries: 5, logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	poolConfig, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	poolConfig.MaxConns = o.maxConns
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute

	var pool *pgxpool.Pool
	for i := 0; i < o.maxRetries; i++ {
		pool, err = pgxpool.NewWithConfig(ctx, poolConfig)
		if err == nil {
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err = pool.Ping(pctx)
			cancel()
			if err == nil {
				break
			}
			pool.Close()
		}

		if i < o.maxRetries-1 {
			wait := time.Duration(i+1) * 2 * time.Second
			o.logger.Warn("database connection failed, retrying", "attempt", i+1, "wait", wait, "error", err)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(wait):
			}
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database after %d attempts: %w", o.maxRetries, err)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &Store{pool: pool}, nil
}

// Close closes the pool.
func (s *Store) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// querier is satisfied by *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func utc(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := utc(t)
	return &u
}
