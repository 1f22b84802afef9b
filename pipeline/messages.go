package pipeline

import (
	"time"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
)

// ClientRequest is the frame a client sends to the load manager.
//
// Operation is kept as the raw string so the load manager can answer an
// unknown operation kind with its own error instead of a decode failure.
type ClientRequest struct {
	Operation       string    `json:"operation"`
	BookCode        string    `json:"book_code"`
	UserID          string    `json:"user_id"`
	ClientTimestamp time.Time `json:"client_timestamp,omitempty"`
}

// Kind returns the operation as an ledger.OperationKind; validity is the
// dispatcher's concern.
func (r ClientRequest) Kind() ledger.OperationKind {
	return ledger.OperationKind(r.Operation)
}

// ClientReply is the uniform envelope the load manager returns for every
// request: status, message, operation echo and server timestamp, plus the
// operation-specific fields relayed from the actor reply.
type ClientReply struct {
	Status          ledger.Status `json:"status"`
	Message         string        `json:"message"`
	Operation       string        `json:"operation,omitempty"`
	ServerTimestamp time.Time     `json:"server_timestamp"`

	Book            string `json:"book,omitempty"`
	AvailableCopies *int   `json:"available_copies,omitempty"`
	LoanID          string `json:"loan_id,omitempty"`
	LoanDate        string `json:"loan_date,omitempty"`
	DueDate         string `json:"due_date,omitempty"`
	NewDueDate      string `json:"new_due_date,omitempty"`
}

// ActorReply is the frame an operation actor returns to the load manager; the
// load manager relays it unchanged inside the client envelope.
type ActorReply struct {
	Status  ledger.Status `json:"status"`
	Message string        `json:"message"`

	Book            string `json:"book,omitempty"`
	AvailableCopies *int   `json:"available_copies,omitempty"`
	LoanID          string `json:"loan_id,omitempty"`
	LoanDate        string `json:"loan_date,omitempty"`
	DueDate         string `json:"due_date,omitempty"`
	NewDueDate      string `json:"new_due_date,omitempty"`
}

// StorageOp tags the variant of a StorageRequest.
type StorageOp string

const (
	StorageOpUpdateReturn      StorageOp = "UPDATE_RETURN"
	StorageOpUpdateRenewal     StorageOp = "UPDATE_RENEWAL"
	StorageOpInsertHistory     StorageOp = "INSERT_HISTORY"
	StorageOpQueryAvailability StorageOp = "QUERY_AVAILABILITY"
	StorageOpLoanTransaction   StorageOp = "LOAN_TRANSACTION"
)

// StorageRequest is the tagged request frame an actor sends to the storage
// tier. Op selects the variant; the other fields are required or ignored per
// variant, enforced by DecodeStorageRequest.
type StorageRequest struct {
	Op       StorageOp `json:"op"`
	BookCode string    `json:"book_code"`
	UserID   string    `json:"user_id,omitempty"`

	NewDueDate time.Time `json:"new_due_date,omitempty"` // UPDATE_RENEWAL
	LoanDate   time.Time `json:"loan_date,omitempty"`    // LOAN_TRANSACTION
	DueDate    time.Time `json:"due_date,omitempty"`     // LOAN_TRANSACTION

	OperationKind ledger.OperationKind `json:"operation_kind,omitempty"` // INSERT_HISTORY
	Payload       []byte               `json:"payload,omitempty"`        // INSERT_HISTORY, optional
}

// StorageStatus is the reply vocabulary of the storage tier. NOT_FOUND and
// CONFLICT are business outcomes; ERROR is an engine or connection fault.
type StorageStatus string

const (
	StorageStatusOK       StorageStatus = "OK"
	StorageStatusError    StorageStatus = "ERROR"
	StorageStatusNotFound StorageStatus = "NOT_FOUND"
	StorageStatusConflict StorageStatus = "CONFLICT"
)

// StorageResponse is the reply frame of the storage tier.
type StorageResponse struct {
	Status  StorageStatus `json:"status"`
	Message string        `json:"message,omitempty"`

	Title           string `json:"title,omitempty"`
	Author          string `json:"author,omitempty"`
	AvailableCopies *int   `json:"available_copies,omitempty"`
	TotalCopies     *int   `json:"total_copies,omitempty"`
	HistoryID       string `json:"history_id,omitempty"`
	LoanID          string `json:"loan_id,omitempty"`
}

// IntPtr returns a pointer to v, for the optional counter fields of the
// reply frames.
func IntPtr(v int) *int {
	return &v
}
