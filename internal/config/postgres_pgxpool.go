package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PGXPool opens a configured pgxpool for the site database and verifies the
// connection with a ping.
func PGXPool(ctx context.Context, cfg PostgresConfig) (*pgxpool.Pool, error) {
	const defaultMaxConnections = int32(8)
	const defaultMinConnections = int32(2)
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5
	const defaultHealthCheckPeriod = time.Minute
	const defaultConnectTimeout = time.Second * 5

	poolConfig, parseErr := pgxpool.ParseConfig(cfg.DSN())
	if parseErr != nil {
		return nil, fmt.Errorf("parsing pool config: %w", parseErr)
	}

	poolConfig.MaxConns = defaultMaxConnections
	poolConfig.MinConns = defaultMinConnections
	poolConfig.MaxConnLifetime = defaultMaxConnLifetime
	poolConfig.MaxConnIdleTime = defaultMaxConnIdleTime
	poolConfig.HealthCheckPeriod = defaultHealthCheckPeriod
	poolConfig.ConnConfig.ConnectTimeout = defaultConnectTimeout

	pool, openErr := pgxpool.NewWithConfig(ctx, poolConfig)
	if openErr != nil {
		return nil, fmt.Errorf("opening pool: %w", openErr)
	}

	if pingErr := pool.Ping(ctx); pingErr != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", pingErr)
	}

	return pool, nil
}
