package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tenantgate/tenantgate/internal/tenant"
)

// PoolFactory implements tenant.PoolFactory with pgx pools. The dbcp-style
// sizing bounds map onto pgxpool's knobs: MinIdle -> MinConns, MaxTotal ->
// MaxConns; MaxWait bounds the verification acquire.
type PoolFactory struct{}

// NewPoolFactory creates a pool factory
func NewPoolFactory() *PoolFactory {
	return &PoolFactory{}
}

// New constructs a bounded pool and verifies connectivity by acquiring and
// releasing one connection. The caller owns the returned pool; on any
// failure nothing is left open.
func (f *PoolFactory) New(ctx context.Context, info tenant.ConnInfo) (tenant.Pool, error) {
	switch info.Driver {
	case "", "postgres", "pgx":
	default:
		return nil, fmt.Errorf("unsupported driver %q", info.Driver)
	}

	cfg, err := pgxpool.ParseConfig(info.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse tenant database url: %w", err)
	}
	if info.User != "" {
		cfg.ConnConfig.User = info.User
	}
	if info.Password != "" {
		cfg.ConnConfig.Password = info.Password
	}
	if info.Bounds.MinIdle > 0 {
		cfg.MinConns = int32(info.Bounds.MinIdle)
	}
	if info.Bounds.MaxTotal > 0 {
		cfg.MaxConns = int32(info.Bounds.MaxTotal)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create tenant pool: %w", err)
	}

	// Verify connectivity before the pool is handed out. The acquire is
	// bounded by MaxWait so a dead database surfaces as an error, not a
	// hang.
	verifyCtx := ctx
	if info.Bounds.MaxWait > 0 {
		var cancel context.CancelFunc
		verifyCtx, cancel = context.WithTimeout(ctx, info.Bounds.MaxWait)
		defer cancel()
	}
	conn, err := pool.Acquire(verifyCtx)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to verify tenant pool: %w", err)
	}
	conn.Release()

	return pool, nil
}
