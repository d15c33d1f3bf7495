// Package postgres builds pgx connection pools instrumented with OpenTelemetry
// spans, structured query logs and a pluggable per-query observer.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Option adjusts pool construction.
type Option func(*options)

type options struct {
	slowQuery time.Duration
	maxConns  int32
}

// WithSlowQueryThreshold only logs successful queries slower than d.
// Failed queries are always logged.
func WithSlowQueryThreshold(d time.Duration) Option {
	return func(o *options) { o.slowQuery = d }
}

// WithMaxConns caps the pool size. Zero keeps the pgx default.
func WithMaxConns(n int32) Option {
	return func(o *options) { o.maxConns = n }
}

// NewPool parses databaseURL, installs the query tracer and checks the
// database answers before returning.
func NewPool(ctx context.Context, databaseURL string, opts ...Option) (*pgxpool.Pool, error) {
	var o options
	for _, fn := range opts {
		fn(&o)
	}

	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if o.maxConns > 0 {
		cfg.MaxConns = o.maxConns
	}
	cfg.ConnConfig.Tracer = queryTracer{
		inner: otelpgx.NewTracer(),
		slow:  o.slowQuery,
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
