// Package storagetier runs the request/reply loop of the Storage Manager:
// it receives storage frames from the operation actors, executes them against
// the ledger engine, and replies with the outcome.
//
// One tier instance exists per site and is the only path to that site's
// ledger. The serve loop is single-threaded; conflicting writes are ordered
// by the engine's transactional serialization, not by this loop.
package storagetier

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/transport"
)

const (
	logMsgRequestHandled = "storage request handled"
	logMsgMalformedFrame = "malformed storage frame rejected"
	logAttrStatus        = "status"
	logAttrError         = "error"
	msgBookNotFound      = "book %s not found"
	msgNoActiveLoan      = "no active loan found or renewal cap reached"
	msgNoCopiesAvailable = "no copies available"
	msgReturnRecorded    = "return recorded"
	msgRenewalRecorded   = "renewal recorded"
	msgHistoryAppended   = "operation recorded in history"
	msgLoanCommitted     = "loan transaction completed"
)

// Logger interface for operational logging of the tier loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// LedgerStore is the slice of the storage engine the tier depends on.
type LedgerStore interface {
	UpdateReturn(ctx context.Context, bookCode string, userID string) (postgresengine.ReturnResult, error)
	UpdateRenewal(ctx context.Context, bookCode string, userID string, newDueDate time.Time) error
	InsertHistory(ctx context.Context, bookCode string, userID string, operation ledger.OperationKind, payloadJSON []byte) (string, error)
	QueryAvailability(ctx context.Context, bookCode string) (postgresengine.Availability, error)
	LoanTransaction(ctx context.Context, bookCode string, userID string, loanDate time.Time, dueDate time.Time) (postgresengine.LoanResult, error)
}

// Tier is one site's Storage Manager loop.
type Tier struct {
	store  LedgerStore
	logger Logger
	stats  pipeline.TierStats
}

// NewTier creates a storage tier over the given engine. The logger may be nil.
func NewTier(store LedgerStore, logger Logger) *Tier {
	return &Tier{store: store, logger: logger}
}

// Serve runs the tier's receive loop on the given listener until the context
// is canceled or the listener is closed.
func (t *Tier) Serve(ctx context.Context, listener *transport.Listener) error {
	return listener.Serve(ctx, t.Handle)
}

// Handle processes one storage frame to completion and returns the reply
// frame. It is the listener's handler and must not be called concurrently.
func (t *Tier) Handle(ctx context.Context, frame []byte) []byte {
	response := t.process(ctx, frame)

	switch response.Status {
	case pipeline.StorageStatusOK:
		t.stats.RecordSuccess()
	case pipeline.StorageStatusNotFound, pipeline.StorageStatusConflict:
		t.stats.RecordRejection()
	default:
		t.stats.RecordFailure()
	}

	if t.logger != nil {
		t.logger.Debug(logMsgRequestHandled, logAttrStatus, string(response.Status))
	}

	reply, encodeErr := pipeline.EncodeStorageResponse(response)
	if encodeErr != nil {
		// encoding a flat response struct cannot realistically fail; reply
		// with a minimal hand-built error frame rather than dropping the call
		return []byte(`{"status":"ERROR","message":"internal encoding failure"}`)
	}

	return reply
}

func (t *Tier) process(ctx context.Context, frame []byte) pipeline.StorageResponse {
	request, decodeErr := pipeline.DecodeStorageRequest(frame)
	if decodeErr != nil {
		if t.logger != nil {
			t.logger.Warn(logMsgMalformedFrame, logAttrError, decodeErr.Error())
		}

		return pipeline.StorageResponse{Status: pipeline.StorageStatusError, Message: decodeErr.Error()}
	}

	switch request.Op {
	case pipeline.StorageOpUpdateReturn:
		return t.handleUpdateReturn(ctx, request)
	case pipeline.StorageOpUpdateRenewal:
		return t.handleUpdateRenewal(ctx, request)
	case pipeline.StorageOpInsertHistory:
		return t.handleInsertHistory(ctx, request)
	case pipeline.StorageOpQueryAvailability:
		return t.handleQueryAvailability(ctx, request)
	case pipeline.StorageOpLoanTransaction:
		return t.handleLoanTransaction(ctx, request)
	default:
		// unreachable, the decoder rejects unknown ops
		return pipeline.StorageResponse{Status: pipeline.StorageStatusError, Message: ledger.ErrUnknownOperation.Error()}
	}
}

func (t *Tier) handleUpdateReturn(ctx context.Context, request pipeline.StorageRequest) pipeline.StorageResponse {
	result, err := t.store.UpdateReturn(ctx, request.BookCode, request.UserID)
	if err != nil {
		if errors.Is(err, ledger.ErrBookNotFound) {
			return pipeline.StorageResponse{
				Status:  pipeline.StorageStatusNotFound,
				Message: fmt.Sprintf(msgBookNotFound, request.BookCode),
			}
		}

		return errorResponse(err)
	}

	return pipeline.StorageResponse{
		Status:          pipeline.StorageStatusOK,
		Message:         msgReturnRecorded,
		Title:           result.Title,
		AvailableCopies: pipeline.IntPtr(result.AvailableCopies),
	}
}

func (t *Tier) handleUpdateRenewal(ctx context.Context, request pipeline.StorageRequest) pipeline.StorageResponse {
	if err := t.store.UpdateRenewal(ctx, request.BookCode, request.UserID, request.NewDueDate); err != nil {
		if errors.Is(err, ledger.ErrLoanConflict) {
			return pipeline.StorageResponse{Status: pipeline.StorageStatusConflict, Message: msgNoActiveLoan}
		}

		return errorResponse(err)
	}

	return pipeline.StorageResponse{Status: pipeline.StorageStatusOK, Message: msgRenewalRecorded}
}

func (t *Tier) handleInsertHistory(ctx context.Context, request pipeline.StorageRequest) pipeline.StorageResponse {
	historyID, err := t.store.InsertHistory(ctx, request.BookCode, request.UserID, request.OperationKind, request.Payload)
	if err != nil {
		return errorResponse(err)
	}

	return pipeline.StorageResponse{Status: pipeline.StorageStatusOK, Message: msgHistoryAppended, HistoryID: historyID}
}

func (t *Tier) handleQueryAvailability(ctx context.Context, request pipeline.StorageRequest) pipeline.StorageResponse {
	availability, err := t.store.QueryAvailability(ctx, request.BookCode)
	if err != nil {
		if errors.Is(err, ledger.ErrBookNotFound) {
			return pipeline.StorageResponse{
				Status:  pipeline.StorageStatusNotFound,
				Message: fmt.Sprintf(msgBookNotFound, request.BookCode),
			}
		}

		return errorResponse(err)
	}

	return pipeline.StorageResponse{
		Status:          pipeline.StorageStatusOK,
		Title:           availability.Title,
		Author:          availability.Author,
		AvailableCopies: pipeline.IntPtr(availability.AvailableCopies),
		TotalCopies:     pipeline.IntPtr(availability.TotalCopies),
	}
}

func (t *Tier) handleLoanTransaction(ctx context.Context, request pipeline.StorageRequest) pipeline.StorageResponse {
	result, err := t.store.LoanTransaction(ctx, request.BookCode, request.UserID, request.LoanDate, request.DueDate)
	if err != nil {
		if errors.Is(err, ledger.ErrLoanConflict) {
			return pipeline.StorageResponse{Status: pipeline.StorageStatusConflict, Message: msgNoCopiesAvailable}
		}

		return errorResponse(err)
	}

	return pipeline.StorageResponse{Status: pipeline.StorageStatusOK, Message: msgLoanCommitted, LoanID: result.LoanID}
}

// errorResponse maps an engine failure to an ERROR reply. The rollback has
// already happened inside the engine by the time this is built.
func errorResponse(err error) pipeline.StorageResponse {
	return pipeline.StorageResponse{Status: pipeline.StorageStatusError, Message: err.Error()}
}

// StatsSnapshot returns the tier's operation tallies.
func (t *Tier) StatsSnapshot() pipeline.TierStatsSnapshot {
	return t.stats.Snapshot()
}
