package config

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// SQLDB opens a configured *sql.DB for the site database and verifies the
// connection with a ping. The seeder and verifier use this handle; the site
// node itself runs on the pgx pool.
func SQLDB(ctx context.Context, cfg PostgresConfig) (*sql.DB, error) {
	const defaultMaxOpenConnections = 50
	const defaultMaxIdleConnections = 10
	const defaultMaxConnLifetime = time.Hour
	const defaultMaxConnIdleTime = time.Minute * 5

	db, openErr := sql.Open("postgres", cfg.DSN())
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
