package actortier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/actortier"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/storagetier"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/transport"
)

// fakeStore scripts the engine outcomes the storage tier will report back to
// the actor under test.
type fakeStore struct {
	returnResult postgresengine.ReturnResult
	returnErr    error
	renewalErr   error
	historyErr   error
	availability postgresengine.Availability
	availErr     error
	loanResult   postgresengine.LoanResult
	loanErr      error

	historyCalls []ledger.OperationKind
}

func (f *fakeStore) UpdateReturn(_ context.Context, _ string, _ string) (postgresengine.ReturnResult, error) {
	return f.returnResult, f.returnErr
}

func (f *fakeStore) UpdateRenewal(_ context.Context, _ string, _ string, _ time.Time) error {
	return f.renewalErr
}

func (f *fakeStore) InsertHistory(_ context.Context, _ string, _ string, operation ledger.OperationKind, _ []byte) (string, error) {
	f.historyCalls = append(f.historyCalls, operation)
	return "b2c3d4e5-0000-1111-2222-333344445555", f.historyErr
}

func (f *fakeStore) QueryAvailability(_ context.Context, _ string) (postgresengine.Availability, error) {
	return f.availability, f.availErr
}

func (f *fakeStore) LoanTransaction(_ context.Context, _ string, _ string, _ time.Time, _ time.Time) (postgresengine.LoanResult, error) {
	return f.loanResult, f.loanErr
}

// newActorOverFakeStorage wires an actor to a real storage tier loop running
// over the scripted store, the same topology the site node uses.
func newActorOverFakeStorage(t *testing.T, kind ledger.OperationKind, store *fakeStore) *actortier.Actor {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	listener := transport.Listen()
	tier := storagetier.NewTier(store, nil)

	go func() { _ = tier.Serve(ctx, listener) }()

	return actortier.NewActor(kind, listener.Dial(), nil)
}

func handleClient(t *testing.T, actor *actortier.Actor, request pipeline.ClientRequest) pipeline.ActorReply {
	t.Helper()

	frame, encodeErr := pipeline.EncodeClientRequest(request)
	require.NoError(t, encodeErr)

	reply, decodeErr := pipeline.DecodeActorReply(actor.Handle(context.Background(), frame))
	require.NoError(t, decodeErr)

	return reply
}

func loanRequest() pipeline.ClientRequest {
	return pipeline.ClientRequest{Operation: string(ledger.OperationLoan), BookCode: "LIB00001", UserID: "USR0001"}
}

func Test_Actor_Loan_ShouldGrant_WhenCopiesAvailable(t *testing.T) {
	// arrange
	store := &fakeStore{
		availability: postgresengine.Availability{Code: "LIB00001", Title: "Cuento 9: Historia de la Literatura", AvailableCopies: 2, TotalCopies: 3},
		loanResult:   postgresengine.LoanResult{LoanID: "7f1a2b3c-0000-1111-2222-333344445555"},
	}
	actor := newActorOverFakeStorage(t, ledger.OperationLoan, store)

	// act
	reply := handleClient(t, actor, loanRequest())

	// assert
	assert.Equal(t, ledger.StatusOK, reply.Status)
	assert.Equal(t, "Cuento 9: Historia de la Literatura", reply.Book)
	assert.Equal(t, "7f1a2b3c-0000-1111-2222-333344445555", reply.LoanID)
	assert.NotEmpty(t, reply.LoanDate)
	assert.NotEmpty(t, reply.DueDate)
}

func Test_Actor_Loan_ShouldReject_WhenNoCopiesAvailable(t *testing.T) {
	// arrange
	store := &fakeStore{
		availability: postgresengine.Availability{Code: "LIB00001", AvailableCopies: 0, TotalCopies: 1},
	}
	actor := newActorOverFakeStorage(t, ledger.OperationLoan, store)

	// act
	reply := handleClient(t, actor, loanRequest())

	// assert
	assert.Equal(t, ledger.StatusRejected, reply.Status)
	assert.Equal(t, "no ejemplares disponibles", reply.Message)
}

func Test_Actor_Loan_ShouldReject_WhenBookUnknown(t *testing.T) {
	// arrange
	store := &fakeStore{availErr: ledger.ErrBookNotFound}
	actor := newActorOverFakeStorage(t, ledger.OperationLoan, store)

	// act
	reply := handleClient(t, actor, loanRequest())

	// assert
	assert.Equal(t, ledger.StatusRejected, reply.Status)
}

func Test_Actor_Loan_ShouldReject_WhenLastCopyLostToConcurrentLoan(t *testing.T) {
	// arrange: the advisory pre-check still sees one copy, the guarded
	// decrement then loses the race
	store := &fakeStore{
		availability: postgresengine.Availability{Code: "LIB00001", AvailableCopies: 1, TotalCopies: 1},
		loanErr:      ledger.ErrLoanConflict,
	}
	actor := newActorOverFakeStorage(t, ledger.OperationLoan, store)

	// act
	reply := handleClient(t, actor, loanRequest())

	// assert
	assert.Equal(t, ledger.StatusRejected, reply.Status)
	assert.Equal(t, "no ejemplares disponibles", reply.Message)
}

func Test_Actor_Return_ShouldSucceed_AndAppendHistory(t *testing.T) {
	// arrange
	store := &fakeStore{
		returnResult: postgresengine.ReturnResult{Title: "Teatro 5: Historia de la Literatura", AvailableCopies: 3},
	}
	actor := newActorOverFakeStorage(t, ledger.OperationReturn, store)

	// act
	reply := handleClient(t, actor, pipeline.ClientRequest{
		Operation: string(ledger.OperationReturn), BookCode: "LIB00001", UserID: "USR0001",
	})

	// assert
	assert.Equal(t, ledger.StatusOK, reply.Status)
	assert.Equal(t, "Teatro 5: Historia de la Literatura", reply.Book)
	require.NotNil(t, reply.AvailableCopies)
	assert.Equal(t, 3, *reply.AvailableCopies)
	assert.Equal(t, []ledger.OperationKind{ledger.OperationReturn}, store.historyCalls)
}

func Test_Actor_Return_ShouldFail_WhenBookUnknown(t *testing.T) {
	// arrange
	store := &fakeStore{returnErr: ledger.ErrBookNotFound}
	actor := newActorOverFakeStorage(t, ledger.OperationReturn, store)

	// act
	reply := handleClient(t, actor, pipeline.ClientRequest{
		Operation: string(ledger.OperationReturn), BookCode: "LIB99999", UserID: "USR0001",
	})

	// assert
	assert.Equal(t, ledger.StatusError, reply.Status)
	assert.Empty(t, store.historyCalls)
}

func Test_Actor_Return_ShouldFail_WhenHistoryAppendFails(t *testing.T) {
	// arrange: the increment succeeds, the trailing history call does not
	store := &fakeStore{
		returnResult: postgresengine.ReturnResult{Title: "t", AvailableCopies: 1},
		historyErr:   postgresengine.ErrExecutingStatementFailed,
	}
	actor := newActorOverFakeStorage(t, ledger.OperationReturn, store)

	// act
	reply := handleClient(t, actor, pipeline.ClientRequest{
		Operation: string(ledger.OperationReturn), BookCode: "LIB00001", UserID: "USR0001",
	})

	// assert
	assert.Equal(t, ledger.StatusError, reply.Status)
}

func Test_Actor_Renewal_ShouldExtendDueDate(t *testing.T) {
	// arrange
	store := &fakeStore{}
	actor := newActorOverFakeStorage(t, ledger.OperationRenew, store)

	// act
	reply := handleClient(t, actor, pipeline.ClientRequest{
		Operation: string(ledger.OperationRenew), BookCode: "LIB00001", UserID: "USR0001",
	})

	// assert
	assert.Equal(t, ledger.StatusOK, reply.Status)
	assert.NotEmpty(t, reply.NewDueDate)
	assert.Equal(t, []ledger.OperationKind{ledger.OperationRenew}, store.historyCalls)
}

func Test_Actor_Renewal_ShouldFail_WhenNoEligibleLoan(t *testing.T) {
	// arrange
	store := &fakeStore{renewalErr: ledger.ErrLoanConflict}
	actor := newActorOverFakeStorage(t, ledger.OperationRenew, store)

	// act
	reply := handleClient(t, actor, pipeline.ClientRequest{
		Operation: string(ledger.OperationRenew), BookCode: "LIB00001", UserID: "USR0001",
	})

	// assert
	assert.Equal(t, ledger.StatusError, reply.Status)
	assert.Empty(t, store.historyCalls)
}

func Test_Actor_Handle_ShouldFail_WithMalformedFrame(t *testing.T) {
	// arrange
	actor := newActorOverFakeStorage(t, ledger.OperationLoan, &fakeStore{})

	// act
	reply, decodeErr := pipeline.DecodeActorReply(actor.Handle(context.Background(), []byte("{}")))

	// assert
	require.NoError(t, decodeErr)
	assert.Equal(t, ledger.StatusError, reply.Status)
}

func Test_Actor_Handle_ShouldFail_WhenStorageUnreachable(t *testing.T) {
	// arrange: a dialed but never served listener, closed right away
	listener := transport.Listen()
	conn := listener.Dial()
	listener.Close()

	actor := actortier.NewActor(ledger.OperationLoan, conn, nil)

	// act
	reply, decodeErr := pipeline.DecodeActorReply(actor.Handle(context.Background(), mustEncode(t, loanRequest())))

	// assert
	require.NoError(t, decodeErr)
	assert.Equal(t, ledger.StatusError, reply.Status)
	assert.Contains(t, reply.Message, ledger.ErrConnectionFailure.Error())
}

func Test_Actor_StatsSnapshot_ShouldClassifyOutcomes(t *testing.T) {
	// arrange
	store := &fakeStore{
		availability: postgresengine.Availability{Code: "LIB00001", AvailableCopies: 0, TotalCopies: 1},
	}
	actor := newActorOverFakeStorage(t, ledger.OperationLoan, store)

	// act: one rejection, one malformed failure
	handleClient(t, actor, loanRequest())
	actor.Handle(context.Background(), []byte("garbage"))

	// assert
	snapshot := actor.StatsSnapshot()
	assert.Equal(t, uint64(2), snapshot.Total)
	assert.Equal(t, uint64(1), snapshot.Rejected)
	assert.Equal(t, uint64(1), snapshot.Failed)
}

func mustEncode(t *testing.T, request pipeline.ClientRequest) []byte {
	t.Helper()

	frame, encodeErr := pipeline.EncodeClientRequest(request)
	require.NoError(t, encodeErr)

	return frame
}
