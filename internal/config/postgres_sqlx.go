package config

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq" // postgres driver
)

// SQLX opens a configured sqlx handle for the site database and verifies the
// connection with a ping.
func SQLX(ctx context.Context, cfg PostgresConfig) (*sqlx.DB, error) {
	const defaultMaxOpenConnections = 50
	const defaultMaxIdleConnections = 10
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5

	db, openErr := sqlx.Open("postgres", cfg.DSN())
	if openErr != nil {
		return nil, fmt.Errorf("opening database connection: %w", openErr)
	}

	db.SetMaxOpenConns(defaultMaxOpenConnections)
	db.SetMaxIdleConns(defaultMaxIdleConnections)
	db.SetConnMaxLifetime(defaultMaxConnLifetime)
	db.SetConnMaxIdleTime(defaultMaxConnIdleTime)

	if pingErr := db.PingContext(ctx); pingErr != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pinging database: %w", pingErr)
	}

	return db, nil
}
