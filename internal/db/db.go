// Package db opens the Postgres pool behind the postgres data source.
package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"metromap/core-go/internal/sqlcgen"
)

const (
	applicationName    = "metromap"
	defaultPingTimeout = 5 * time.Second
)

type Options struct {
	// MaxConns caps the pool. Zero keeps the pgx default.
	MaxConns int32
	// PingTimeout bounds the startup connectivity check.
	PingTimeout time.Duration
}

type Pool struct {
	pool *pgxpool.Pool
}

// ParseConfig builds the pool config for databaseURL with opts applied.
func ParseConfig(databaseURL string, opts Options) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if opts.MaxConns > 0 {
		cfg.MaxConns = opts.MaxConns
	}
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = applicationName
	}
	return cfg, nil
}

// Open connects and pings before returning, so a bad DATABASE_URL fails at startup
// rather than on the first map load.
func Open(ctx context.Context, databaseURL string, opts Options) (*Pool, error) {
	cfg, err := ParseConfig(databaseURL, opts)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	timeout := opts.PingTimeout
	if timeout <= 0 {
		timeout = defaultPingTimeout
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := p.Ping(pingCtx); err != nil {
		p.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &Pool{pool: p}, nil
}

// Queries returns the generated query set bound to the pool. It is nil for a nil pool.
func (p *Pool) Queries() *sqlcgen.Queries {
	if p == nil || p.pool == nil {
		return nil
	}
	return sqlcgen.New(p.pool)
}

func (p *Pool) Close() {
	if p == nil || p.pool == nil {
		return
	}
	p.pool.Close()
}

// Ping reports nil for a nil pool: readiness only checks a database that is configured.
func (p *Pool) Ping(ctx context.Context) error {
	if p == nil || p.pool == nil {
		return nil
	}
	return p.pool.Ping(ctx)
}
