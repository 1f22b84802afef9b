// Package config reads the site node's configuration from the environment
// and builds configured database handles from it.
package config

import (
	"fmt"
	"os"
	"strconv"
)

// Defaults for a local single-site setup.
const (
	defaultSiteID     = 1
	defaultHTTPAddr   = ":8080"
	defaultDBHost     = "localhost"
	defaultDBPort     = 5432
	defaultDBUser     = "biblioteca"
	defaultDBPassword = "biblioteca"
	defaultDBName     = "biblioteca"
	defaultDBSSLMode  = "disable"
)

// SiteConfig is the full configuration of one site node.
type SiteConfig struct {
	SiteID   int
	HTTPAddr string
	Postgres PostgresConfig
}

// PostgresConfig holds the connection parameters of the site's database.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// DSN renders the config as a postgres connection URL.
func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// FromEnv builds the site configuration from SITE_* and POSTGRES_* variables,
// falling back to local defaults for anything unset.
func FromEnv() (SiteConfig, error) {
	siteID, err := envInt("SITE_ID", defaultSiteID)
	if err != nil {
		return SiteConfig{}, err
	}

	dbPort, err := envInt("POSTGRES_PORT", defaultDBPort)
	if err != nil {
		return SiteConfig{}, err
	}

	return SiteConfig{
		SiteID:   siteID,
		HTTPAddr: envString("SITE_HTTP_ADDR", defaultHTTPAddr),
		Postgres: PostgresConfig{
			Host:     envString("POSTGRES_HOST", defaultDBHost),
			Port:     dbPort,
			User:     envString("POSTGRES_USER", defaultDBUser),
			Password: envString("POSTGRES_PASSWORD", defaultDBPassword),
			DBName:   envString("POSTGRES_DB", defaultDBName),
			SSLMode:  envString("POSTGRES_SSLMODE", defaultDBSSLMode),
		},
	}, nil
}

func envString(name string, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}

	return fallback
}

func envInt(name string, fallback int) (int, error) {
	raw := os.Getenv(name)
	if raw == "" {
		return fallback, nil
	}

	value, parseErr := strconv.Atoi(raw)
	if parseErr != nil {
		return 0, fmt.Errorf("invalid value for %s: %w", name, parseErr)
	}

	return value, nil
}
