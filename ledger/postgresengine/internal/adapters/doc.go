// Package adapters provides database adapter implementations for the
// relational lending ledger.
//
// This package implements the adapter pattern to support multiple PostgreSQL
// database libraries: pgx.Pool, sql.DB, and sqlx.DB. All adapters provide
// equivalent functionality through a common DBAdapter interface, allowing the
// storage engine to work seamlessly with any supported connection type.
//
// In addition to plain query execution, the adapters expose transactions
// (Begin / Commit / Rollback) because the ledger's loan operation is a
// multi-statement ACID transaction.
package adapters
