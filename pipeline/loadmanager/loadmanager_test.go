package loadmanager_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/loadmanager"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/transport"
)

// scriptedActor answers every dispatched frame with the same actor reply.
func scriptedActor(t *testing.T, reply pipeline.ActorReply) *transport.Conn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn, listener := transport.Pipe()

	go func() {
		_ = listener.Serve(ctx, func(_ context.Context, _ []byte) []byte {
			frame, encodeErr := pipeline.EncodeActorReply(reply)
			assert.NoError(t, encodeErr)

			return frame
		})
	}()

	return conn
}

// echoingActor records the frames it receives and replies OK.
func echoingActor(t *testing.T, received chan<- []byte) *transport.Conn {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	conn, listener := transport.Pipe()

	go func() {
		_ = listener.Serve(ctx, func(_ context.Context, frame []byte) []byte {
			received <- frame

			reply, encodeErr := pipeline.EncodeActorReply(pipeline.ActorReply{Status: ledger.StatusOK})
			assert.NoError(t, encodeErr)

			return reply
		})
	}()

	return conn
}

func handleManager(t *testing.T, manager *loadmanager.Manager, frame []byte) pipeline.ClientReply {
	t.Helper()

	envelope, decodeErr := pipeline.DecodeClientReply(manager.Handle(context.Background(), frame))
	require.NoError(t, decodeErr)

	return envelope
}

func Test_Manager_Handle_ShouldRelayActorReply_InEnvelope(t *testing.T) {
	// arrange
	actorReply := pipeline.ActorReply{
		Status:  ledger.StatusOK,
		Message: "loan granted",
		Book:    "Novela 1: Historia de la Literatura",
		LoanID:  "9a8b7c6d-0000-1111-2222-333344445555",
	}

	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{
		ledger.OperationLoan: scriptedActor(t, actorReply),
	}, nil)
	defer manager.Close()

	frame, encodeErr := pipeline.EncodeClientRequest(pipeline.ClientRequest{
		Operation: string(ledger.OperationLoan), BookCode: "LIB00001", UserID: "USR0001",
	})
	require.NoError(t, encodeErr)

	// act
	envelope := handleManager(t, manager, frame)

	// assert
	assert.Equal(t, ledger.StatusOK, envelope.Status)
	assert.Equal(t, "loan granted", envelope.Message)
	assert.Equal(t, string(ledger.OperationLoan), envelope.Operation)
	assert.Equal(t, actorReply.Book, envelope.Book)
	assert.Equal(t, actorReply.LoanID, envelope.LoanID)
	assert.False(t, envelope.ServerTimestamp.IsZero())
}

func Test_Manager_Handle_ShouldForwardClientFrameUnchanged(t *testing.T) {
	// arrange
	received := make(chan []byte, 1)
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{
		ledger.OperationReturn: echoingActor(t, received),
	}, nil)
	defer manager.Close()

	frame, encodeErr := pipeline.EncodeClientRequest(pipeline.ClientRequest{
		Operation: string(ledger.OperationReturn), BookCode: "LIB00002", UserID: "USR0007",
	})
	require.NoError(t, encodeErr)

	// act
	handleManager(t, manager, frame)

	// assert
	select {
	case forwarded := <-received:
		assert.Equal(t, frame, forwarded)
	case <-time.After(time.Second):
		t.Fatal("actor never received the dispatched frame")
	}
}

func Test_Manager_Handle_ShouldReplyError_WithMalformedFrame(t *testing.T) {
	// arrange: no actors needed, the frame dies at the boundary
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{}, nil)

	// act
	envelope := handleManager(t, manager, []byte("not a frame"))

	// assert
	assert.Equal(t, ledger.StatusError, envelope.Status)
	assert.Contains(t, envelope.Message, ledger.ErrMalformedRequest.Error())
}

func Test_Manager_Handle_ShouldReplyError_WithUnknownOperation(t *testing.T) {
	// arrange
	received := make(chan []byte, 1)
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{
		ledger.OperationLoan: echoingActor(t, received),
	}, nil)
	defer manager.Close()

	frame, encodeErr := pipeline.EncodeClientRequest(pipeline.ClientRequest{
		Operation: "PURCHASE", BookCode: "LIB00001", UserID: "USR0001",
	})
	require.NoError(t, encodeErr)

	// act
	envelope := handleManager(t, manager, frame)

	// assert: answered at the boundary, no actor was contacted
	assert.Equal(t, ledger.StatusError, envelope.Status)
	assert.Equal(t, "unknown operation", envelope.Message)
	assert.Empty(t, received)
}

func Test_Manager_Handle_ShouldReplyError_WhenActorUnreachable(t *testing.T) {
	// arrange
	conn, listener := transport.Pipe()
	listener.Close()

	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{
		ledger.OperationRenew: conn,
	}, nil)

	frame, encodeErr := pipeline.EncodeClientRequest(pipeline.ClientRequest{
		Operation: string(ledger.OperationRenew), BookCode: "LIB00001", UserID: "USR0001",
	})
	require.NoError(t, encodeErr)

	// act
	envelope := handleManager(t, manager, frame)

	// assert
	assert.Equal(t, ledger.StatusError, envelope.Status)
	assert.Contains(t, envelope.Message, ledger.ErrConnectionFailure.Error())
}

func Test_Manager_StatsSnapshot_ShouldClassifyOutcomes(t *testing.T) {
	// arrange
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{
		ledger.OperationLoan: scriptedActor(t, pipeline.ActorReply{Status: ledger.StatusRejected, Message: "no ejemplares disponibles"}),
	}, nil)
	defer manager.Close()

	frame, encodeErr := pipeline.EncodeClientRequest(pipeline.ClientRequest{
		Operation: string(ledger.OperationLoan), BookCode: "LIB00001", UserID: "USR0001",
	})
	require.NoError(t, encodeErr)

	// act: one rejection relayed from the actor, one boundary failure
	handleManager(t, manager, frame)
	handleManager(t, manager, []byte("garbage"))

	// assert
	snapshot := manager.StatsSnapshot()
	assert.Equal(t, uint64(2), snapshot.Total)
	assert.Equal(t, uint64(1), snapshot.Rejected)
	assert.Equal(t, uint64(1), snapshot.Failed)
}

func Test_Router_RequestEndpoint_ShouldAnswerWithEnvelope(t *testing.T) {
	// arrange
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{
		ledger.OperationLoan: scriptedActor(t, pipeline.ActorReply{Status: ledger.StatusOK, Message: "loan granted"}),
	}, nil)
	defer manager.Close()

	server := httptest.NewServer(loadmanager.NewRouter(manager))
	defer server.Close()

	frame, encodeErr := pipeline.EncodeClientRequest(pipeline.ClientRequest{
		Operation: string(ledger.OperationLoan), BookCode: "LIB00001", UserID: "USR0001",
	})
	require.NoError(t, encodeErr)

	// act
	response, postErr := http.Post(server.URL+"/api/requests", "application/json", bytes.NewReader(frame))
	require.NoError(t, postErr)
	defer func() { _ = response.Body.Close() }()

	// assert
	assert.Equal(t, http.StatusOK, response.StatusCode)

	var body bytes.Buffer
	_, readErr := body.ReadFrom(response.Body)
	require.NoError(t, readErr)

	envelope, decodeErr := pipeline.DecodeClientReply(body.Bytes())
	require.NoError(t, decodeErr)
	assert.Equal(t, ledger.StatusOK, envelope.Status)
}

func Test_Router_RequestEndpoint_ShouldAnswerEnvelope_ForInvalidBody(t *testing.T) {
	// arrange
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{}, nil)

	server := httptest.NewServer(loadmanager.NewRouter(manager))
	defer server.Close()

	// act
	response, postErr := http.Post(server.URL+"/api/requests", "application/json", bytes.NewReader([]byte("garbage")))
	require.NoError(t, postErr)
	defer func() { _ = response.Body.Close() }()

	// assert: validation failures still come back as a 200 envelope
	assert.Equal(t, http.StatusOK, response.StatusCode)

	var body bytes.Buffer
	_, readErr := body.ReadFrom(response.Body)
	require.NoError(t, readErr)

	envelope, decodeErr := pipeline.DecodeClientReply(body.Bytes())
	require.NoError(t, decodeErr)
	assert.Equal(t, ledger.StatusError, envelope.Status)
}

func Test_Router_Healthz_ShouldAnswerOK(t *testing.T) {
	// arrange
	manager := loadmanager.NewManager(map[ledger.OperationKind]*transport.Conn{}, nil)

	server := httptest.NewServer(loadmanager.NewRouter(manager))
	defer server.Close()

	// act
	response, getErr := http.Get(server.URL + "/healthz")
	require.NoError(t, getErr)
	defer func() { _ = response.Body.Close() }()

	// assert
	assert.Equal(t, http.StatusOK, response.StatusCode)
}
