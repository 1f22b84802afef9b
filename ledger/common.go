package ledger

import (
	"errors"
)

// Sentinel errors for the taxonomy shared by all tiers.
var (
	ErrBookNotFound      = errors.New("book not found")
	ErrLoanConflict      = errors.New("conflict, no rows were affected")
	ErrConnectionFailure = errors.New("connection to downstream tier failed")
	ErrMalformedRequest  = errors.New("malformed request")
	ErrUnknownOperation  = errors.New("unknown operation")
)

// OperationKind identifies a client-level operation.
type OperationKind string

const (
	OperationLoan   OperationKind = "LOAN"
	OperationReturn OperationKind = "RETURN"
	OperationRenew  OperationKind = "RENEW"
)

// IsValid reports whether the kind is one of the known client operations.
func (k OperationKind) IsValid() bool {
	switch k {
	case OperationLoan, OperationReturn, OperationRenew:
		return true
	default:
		return false
	}
}

// Status is the reply vocabulary used on every hop of the pipeline.
//
// StatusRejected (RECHAZADO) is a business-level rejection, e.g. no copies
// available or the renewal cap reached; it is distinct from a system error.
type Status string

const (
	StatusOK       Status = "OK"
	StatusError    Status = "ERROR"
	StatusRejected Status = "RECHAZADO"
)

// LoanStatus is the lifecycle state of a Loan row.
type LoanStatus string

const (
	LoanActive   LoanStatus = "ACTIVE"
	LoanReturned LoanStatus = "RETURNED"
)

// MaxRenewals is the renewal cap per loan; a loan with this many renewals
// rejects further renewal attempts.
const MaxRenewals = 2

// LoanPeriodDays is the standard lending period, also used as the extension
// granted by a renewal.
const LoanPeriodDays = 7
