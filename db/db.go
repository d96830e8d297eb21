// Package db holds the PostgreSQL side of the storage backend: inbox
// records, message listings and credentials. Raw message bodies live in
// object storage, keyed by the content_hash column.
package db

import (
	"context"
	_ "embed"
	"fmt"
	"net/url"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dunlinmail/dunlin/config"
	"github.com/dunlinmail/dunlin/logger"
	"github.com/dunlinmail/dunlin/pkg/metrics"
)

//go:embed schema.sql
var schema string

type Database struct {
	Pool *pgxpool.Pool
}

// NewDatabase opens a connection pool from configuration, verifies
// connectivity and applies the embedded schema.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	sslMode := "disable"
	if cfg.TLSMode {
		sslMode = "require"
	}
	connString := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		url.QueryEscape(cfg.User), url.QueryEscape(cfg.Password),
		cfg.Host, cfg.Port, cfg.Name, sslMode)

	poolCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("unable to parse connection string: %w", err)
	}

	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = int32(cfg.MinConns)
	}
	if lifetime, err := cfg.GetMaxConnLifetime(); err == nil {
		poolCfg.MaxConnLifetime = lifetime
	}
	if idle, err := cfg.GetMaxConnIdleTime(); err == nil {
		poolCfg.MaxConnIdleTime = idle
	}
	if cfg.LogQueries {
		poolCfg.ConnConfig.Tracer = &queryTracer{}
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	logger.Info("connected to database", "host", cfg.Host, "port", cfg.Port, "name", cfg.Name, "sslmode", sslMode)
	return &Database{Pool: pool}, nil
}

// Close releases the connection pool.
func (d *Database) Close() {
	d.Pool.Close()
}

// TestSettings probes database connectivity.
func (d *Database) TestSettings(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// trackQuery records metrics for one query. Use with defer:
//
//	defer trackQuery("GetInbox", time.Now(), &err)
func trackQuery(operation string, start time.Time, err *error) {
	metrics.TrackDBQuery(operation, *err)
	metrics.DBQueryDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
