// Package loadmanager implements the front tier of the pipeline: the single
// entry point clients talk to. It validates each incoming frame, dispatches
// it to the actor owning the requested operation kind, and wraps the actor's
// reply in the uniform client envelope.
//
// The manager holds one persistent connection per actor, acquired at
// construction and released on Close. Requests for the same operation kind
// are serialized by the connection; requests for different kinds proceed
// independently.
package loadmanager

import (
	"context"
	"time"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/transport"
)

const (
	logMsgRequestDispatched = "request dispatched"
	logMsgMalformedRequest  = "malformed request rejected"
	logMsgUnknownOperation  = "unknown operation rejected"
	logMsgActorUnreachable  = "actor unreachable"
	logAttrOperation        = "operation"
	logAttrStatus           = "status"
	logAttrError            = "error"

	msgUnknownOperation = "unknown operation"
)

// Logger interface for operational logging of the manager.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Manager is the load manager of one site.
type Manager struct {
	actors map[ledger.OperationKind]*transport.Conn
	logger Logger
	stats  pipeline.TierStats
}

// NewManager creates a load manager over established actor connections, one
// per operation kind. The logger may be nil.
func NewManager(actors map[ledger.OperationKind]*transport.Conn, logger Logger) *Manager {
	return &Manager{actors: actors, logger: logger}
}

// Handle processes one raw client frame to completion and returns the
// encoded reply envelope. Every outcome, including validation failures,
// is answered with a well-formed envelope.
func (m *Manager) Handle(ctx context.Context, frame []byte) []byte {
	envelope := m.process(ctx, frame)

	switch envelope.Status {
	case ledger.StatusOK:
		m.stats.RecordSuccess()
	case ledger.StatusRejected:
		m.stats.RecordRejection()
	default:
		m.stats.RecordFailure()
	}

	encoded, encodeErr := pipeline.EncodeClientReply(envelope)
	if encodeErr != nil {
		return []byte(`{"status":"ERROR","message":"internal encoding failure"}`)
	}

	return encoded
}

func (m *Manager) process(ctx context.Context, frame []byte) pipeline.ClientReply {
	request, decodeErr := pipeline.DecodeClientRequest(frame)
	if decodeErr != nil {
		if m.logger != nil {
			m.logger.Warn(logMsgMalformedRequest, logAttrError, decodeErr.Error())
		}

		return errorEnvelope("", decodeErr.Error())
	}

	actor, known := m.actors[request.Kind()]
	if !known {
		// answered at the boundary, no actor is contacted
		if m.logger != nil {
			m.logger.Warn(logMsgUnknownOperation, logAttrOperation, request.Operation)
		}

		return errorEnvelope(request.Operation, msgUnknownOperation)
	}

	reply, dispatchErr := m.dispatch(ctx, actor, frame)
	if dispatchErr != nil {
		if m.logger != nil {
			m.logger.Error(logMsgActorUnreachable, logAttrOperation, request.Operation, logAttrError, dispatchErr.Error())
		}

		return errorEnvelope(request.Operation, dispatchErr.Error())
	}

	if m.logger != nil {
		m.logger.Debug(logMsgRequestDispatched, logAttrOperation, request.Operation, logAttrStatus, string(reply.Status))
	}

	return envelopeFor(request.Operation, reply)
}

// dispatch relays the client frame unchanged to the actor and decodes the
// actor's reply.
func (m *Manager) dispatch(ctx context.Context, actor *transport.Conn, frame []byte) (pipeline.ActorReply, error) {
	replyFrame, tripErr := actor.RoundTrip(ctx, frame)
	if tripErr != nil {
		return pipeline.ActorReply{}, tripErr
	}

	return pipeline.DecodeActorReply(replyFrame)
}

// Close releases every actor connection.
func (m *Manager) Close() {
	for _, actor := range m.actors {
		actor.Close()
	}
}

// StatsSnapshot returns the manager's operation tallies.
func (m *Manager) StatsSnapshot() pipeline.TierStatsSnapshot {
	return m.stats.Snapshot()
}

// envelopeFor wraps an actor reply in the client envelope, relaying the
// operation-specific fields unchanged.
func envelopeFor(operation string, reply pipeline.ActorReply) pipeline.ClientReply {
	return pipeline.ClientReply{
		Status:          reply.Status,
		Message:         reply.Message,
		Operation:       operation,
		ServerTimestamp: time.Now().UTC(),
		Book:            reply.Book,
		AvailableCopies: reply.AvailableCopies,
		LoanID:          reply.LoanID,
		LoanDate:        reply.LoanDate,
		DueDate:         reply.DueDate,
		NewDueDate:      reply.NewDueDate,
	}
}

func errorEnvelope(operation string, message string) pipeline.ClientReply {
	return pipeline.ClientReply{
		Status:          ledger.StatusError,
		Message:         message,
		Operation:       operation,
		ServerTimestamp: time.Now().UTC(),
	}
}
