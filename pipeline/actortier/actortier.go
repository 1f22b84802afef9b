// Package actortier implements the per-operation business logic tier.
//
// One Actor instance exists per operation kind per site. An actor translates
// one client-level operation into one or more storage tier calls, composing
// the results into a single reply. It enforces no numeric or state invariant
// of its own; those live in the storage engine. The actor only sequences
// calls and shapes responses.
package actortier

import (
	"context"
	"time"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/transport"
)

const (
	logMsgRequestHandled = "actor request handled"
	logMsgStorageFailed  = "storage call failed"
	logAttrKind          = "kind"
	logAttrStatus        = "status"
	logAttrError         = "error"

	msgNoCopiesAvailable = "no ejemplares disponibles"
	msgLoanGranted       = "loan granted"
	msgReturnProcessed   = "return processed"
	msgRenewalProcessed  = "renewal processed"
)

// Logger interface for operational logging of the actor loop.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Actor is one operation kind's business-logic loop. It holds one persistent
// connection to the storage tier, opened at construction and released when
// the serve loop ends.
type Actor struct {
	kind    ledger.OperationKind
	storage *transport.Conn
	logger  Logger
	stats   pipeline.TierStats
}

// NewActor creates an actor for the given operation kind over an established
// storage connection. The logger may be nil.
func NewActor(kind ledger.OperationKind, storage *transport.Conn, logger Logger) *Actor {
	return &Actor{kind: kind, storage: storage, logger: logger}
}

// Kind returns the operation kind this actor serves.
func (a *Actor) Kind() ledger.OperationKind {
	return a.kind
}

// Serve runs the actor's receive loop until the context is canceled or the
// listener is closed. The storage connection is released when the loop ends.
func (a *Actor) Serve(ctx context.Context, listener *transport.Listener) error {
	defer a.storage.Close()

	return listener.Serve(ctx, a.Handle)
}

// Handle processes one client-request frame to completion and returns the
// actor reply frame. Must not be called concurrently; the listener loop is
// the only caller.
func (a *Actor) Handle(ctx context.Context, frame []byte) []byte {
	reply := a.process(ctx, frame)

	switch reply.Status {
	case ledger.StatusOK:
		a.stats.RecordSuccess()
	case ledger.StatusRejected:
		a.stats.RecordRejection()
	default:
		a.stats.RecordFailure()
	}

	if a.logger != nil {
		a.logger.Debug(logMsgRequestHandled, logAttrKind, string(a.kind), logAttrStatus, string(reply.Status))
	}

	encoded, encodeErr := pipeline.EncodeActorReply(reply)
	if encodeErr != nil {
		return []byte(`{"status":"ERROR","message":"internal encoding failure"}`)
	}

	return encoded
}

func (a *Actor) process(ctx context.Context, frame []byte) pipeline.ActorReply {
	request, decodeErr := pipeline.DecodeClientRequest(frame)
	if decodeErr != nil {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: decodeErr.Error()}
	}

	switch a.kind {
	case ledger.OperationReturn:
		return a.processReturn(ctx, request)
	case ledger.OperationRenew:
		return a.processRenewal(ctx, request)
	case ledger.OperationLoan:
		return a.processLoan(ctx, request)
	default:
		return pipeline.ActorReply{Status: ledger.StatusError, Message: ledger.ErrUnknownOperation.Error()}
	}
}

// processReturn runs the two-call return sequence: unconditional availability
// increment, then the history append. A history failure after a successful
// increment surfaces as ERROR even though the inventory change is durable;
// callers must not read ERROR as "nothing happened".
func (a *Actor) processReturn(ctx context.Context, request pipeline.ClientRequest) pipeline.ActorReply {
	updated, callErr := a.storageCall(ctx, pipeline.StorageRequest{
		Op:       pipeline.StorageOpUpdateReturn,
		BookCode: request.BookCode,
		UserID:   request.UserID,
	})
	if callErr != nil {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: callErr.Error()}
	}

	if updated.Status != pipeline.StorageStatusOK {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: updated.Message}
	}

	if reply, ok := a.appendHistory(ctx, request, ledger.OperationReturn, nil); !ok {
		return reply
	}

	return pipeline.ActorReply{
		Status:          ledger.StatusOK,
		Message:         msgReturnProcessed,
		Book:            updated.Title,
		AvailableCopies: updated.AvailableCopies,
	}
}

// processRenewal extends the active loan by the standard period and appends
// the history record. A conflict (no eligible active loan, or the renewal cap
// reached) is surfaced as-is with the storage tier's message, never retried.
func (a *Actor) processRenewal(ctx context.Context, request pipeline.ClientRequest) pipeline.ActorReply {
	newDueDate := time.Now().UTC().AddDate(0, 0, ledger.LoanPeriodDays)

	updated, callErr := a.storageCall(ctx, pipeline.StorageRequest{
		Op:         pipeline.StorageOpUpdateRenewal,
		BookCode:   request.BookCode,
		UserID:     request.UserID,
		NewDueDate: newDueDate,
	})
	if callErr != nil {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: callErr.Error()}
	}

	if updated.Status != pipeline.StorageStatusOK {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: updated.Message}
	}

	payload := []byte(`{"new_due_date":"` + newDueDate.Format(time.RFC3339) + `"}`)
	if reply, ok := a.appendHistory(ctx, request, ledger.OperationRenew, payload); !ok {
		return reply
	}

	return pipeline.ActorReply{
		Status:     ledger.StatusOK,
		Message:    msgRenewalProcessed,
		NewDueDate: newDueDate.Format(time.RFC3339),
	}
}

// processLoan runs the three-step loan sequence. The availability pre-check
// is advisory: it short-circuits hopeless requests without reserving a copy.
// The binding check is the guarded decrement inside the loan transaction, so
// losing the last-copy race there is still answered RECHAZADO.
func (a *Actor) processLoan(ctx context.Context, request pipeline.ClientRequest) pipeline.ActorReply {
	availability, callErr := a.storageCall(ctx, pipeline.StorageRequest{
		Op:       pipeline.StorageOpQueryAvailability,
		BookCode: request.BookCode,
	})
	if callErr != nil {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: callErr.Error()}
	}

	if availability.Status == pipeline.StorageStatusNotFound {
		return pipeline.ActorReply{Status: ledger.StatusRejected, Message: availability.Message}
	}

	if availability.Status != pipeline.StorageStatusOK {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: availability.Message}
	}

	if availability.AvailableCopies == nil || *availability.AvailableCopies <= 0 {
		return pipeline.ActorReply{Status: ledger.StatusRejected, Message: msgNoCopiesAvailable}
	}

	loanDate := time.Now().UTC()
	dueDate := loanDate.AddDate(0, 0, ledger.LoanPeriodDays)

	granted, callErr := a.storageCall(ctx, pipeline.StorageRequest{
		Op:       pipeline.StorageOpLoanTransaction,
		BookCode: request.BookCode,
		UserID:   request.UserID,
		LoanDate: loanDate,
		DueDate:  dueDate,
	})
	if callErr != nil {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: callErr.Error()}
	}

	if granted.Status == pipeline.StorageStatusConflict {
		return pipeline.ActorReply{Status: ledger.StatusRejected, Message: msgNoCopiesAvailable}
	}

	if granted.Status != pipeline.StorageStatusOK {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: granted.Message}
	}

	return pipeline.ActorReply{
		Status:   ledger.StatusOK,
		Message:  msgLoanGranted,
		Book:     availability.Title,
		LoanID:   granted.LoanID,
		LoanDate: loanDate.Format(time.RFC3339),
		DueDate:  dueDate.Format(time.RFC3339),
	}
}

// appendHistory is the shared trailing history call of the return and renewal
// sequences. The bool result is false when the caller must return the reply
// as the operation outcome.
func (a *Actor) appendHistory(
	ctx context.Context,
	request pipeline.ClientRequest,
	kind ledger.OperationKind,
	payload []byte,
) (pipeline.ActorReply, bool) {

	recorded, callErr := a.storageCall(ctx, pipeline.StorageRequest{
		Op:            pipeline.StorageOpInsertHistory,
		BookCode:      request.BookCode,
		UserID:        request.UserID,
		OperationKind: kind,
		Payload:       payload,
	})
	if callErr != nil {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: callErr.Error()}, false
	}

	if recorded.Status != pipeline.StorageStatusOK {
		return pipeline.ActorReply{Status: ledger.StatusError, Message: recorded.Message}, false
	}

	return pipeline.ActorReply{}, true
}

// storageCall performs one blocking round trip to the storage tier.
func (a *Actor) storageCall(ctx context.Context, request pipeline.StorageRequest) (pipeline.StorageResponse, error) {
	frame, encodeErr := pipeline.EncodeStorageRequest(request)
	if encodeErr != nil {
		return pipeline.StorageResponse{}, encodeErr
	}

	replyFrame, tripErr := a.storage.RoundTrip(ctx, frame)
	if tripErr != nil {
		if a.logger != nil {
			a.logger.Error(logMsgStorageFailed, logAttrKind, string(a.kind), logAttrError, tripErr.Error())
		}

		return pipeline.StorageResponse{}, tripErr
	}

	return pipeline.DecodeStorageResponse(replyFrame)
}

// StatsSnapshot returns the actor's operation tallies.
func (a *Actor) StatsSnapshot() pipeline.TierStatsSnapshot {
	return a.stats.Snapshot()
}
