// Package ledger provides the core types for a multi-site library lending
// ledger.
//
// Each site owns a fully independent partition of the ledger: its own Book
// inventory, Loan records and append-only OperationHistory. The types in this
// package are shared between the storage engine that owns the ledger and the
// pipeline tiers that orchestrate client operations against it.
//
// Key types:
//   - Book: per-site inventory row with total and available copy counts
//   - Loan: an active or returned lending of one book copy to one user
//   - HistoryRecord: append-only audit entry for a completed operation
//   - OperationKind: the client-level operation vocabulary (LOAN, RETURN, RENEW)
//   - Status: the reply vocabulary (OK, ERROR, RECHAZADO, ...)
//
// The package also defines the sentinel errors of the error taxonomy. Callers
// should match them with errors.Is; lower layers join causes onto them with
// errors.Join.
package ledger
