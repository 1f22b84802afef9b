package postgresengine

import (
	"errors"
)

// Logger interface for SQL query logging, operational metrics, warnings, and error reporting.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

var ErrEmptyDialectSupplied = errors.New("empty dialect supplied")
var ErrInvalidSiteID = errors.New("site id must be positive")

// Option defines a functional option for configuring Storage.
type Option func(*Storage) error

// WithLogger sets the logger for the Storage.
// The logger will receive messages at different levels based on the logger's configured level:
//
// Debug level: SQL statements with execution timing (development use)
// Info level: operation outcomes, durations, conflicts (production-safe)
// Warn level: non-critical issues like cleanup failures
// Error level: critical failures that cause operation failures.
func WithLogger(logger Logger) Option {
	return func(s *Storage) error {
		s.logger = logger
		return nil
	}
}

// WithSiteID sets the site this Storage instance writes for. Loan and history
// rows are stamped with it. Defaults to site 1.
func WithSiteID(siteID int) Option {
	return func(s *Storage) error {
		if siteID <= 0 {
			return ErrInvalidSiteID
		}

		s.siteID = siteID

		return nil
	}
}

// WithDialect sets the goqu SQL dialect. Defaults to "postgres"; the package
// tests use "sqlite3".
func WithDialect(dialect string) Option {
	return func(s *Storage) error {
		if dialect == "" {
			return ErrEmptyDialectSupplied
		}

		s.dialect = dialect

		return nil
	}
}
