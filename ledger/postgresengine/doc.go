// Package postgresengine provides the storage engine that owns a site's
// lending ledger.
//
// The engine is the sole writer of the books, loans and operation_history
// tables of its site. It exposes exactly five operations, each executed as a
// bounded transaction:
//
//   - UpdateReturn: increment available copies of an existing book
//   - UpdateRenewal: guarded due-date extension of the active loan
//   - InsertHistory: append one audit record
//   - QueryAvailability: read-only availability lookup
//   - LoanTransaction: ACID guarded-decrement + loan insert + history append
//
// Concurrency control is the guarded conditional update: the availability
// check and the decrement happen in one statement, so the last-copy race
// between concurrent callers resolves inside the database, never in
// application code. Zero affected rows is reported as a conflict.
//
// The engine supports pgxpool.Pool, sql.DB and sqlx.DB connections through
// internal adapters, and the postgres and sqlite3 goqu dialects (the latter
// is used by the package tests).
package postgresengine
