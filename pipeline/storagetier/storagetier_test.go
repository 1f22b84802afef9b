package storagetier_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/storagetier"
)

// fakeStore scripts the engine outcomes per operation.
type fakeStore struct {
	returnResult postgresengine.ReturnResult
	returnErr    error
	renewalErr   error
	historyID    string
	historyErr   error
	availability postgresengine.Availability
	availErr     error
	loanResult   postgresengine.LoanResult
	loanErr      error
}

func (f *fakeStore) UpdateReturn(_ context.Context, _ string, _ string) (postgresengine.ReturnResult, error) {
	return f.returnResult, f.returnErr
}

func (f *fakeStore) UpdateRenewal(_ context.Context, _ string, _ string, _ time.Time) error {
	return f.renewalErr
}

func (f *fakeStore) InsertHistory(_ context.Context, _ string, _ string, _ ledger.OperationKind, _ []byte) (string, error) {
	return f.historyID, f.historyErr
}

func (f *fakeStore) QueryAvailability(_ context.Context, _ string) (postgresengine.Availability, error) {
	return f.availability, f.availErr
}

func (f *fakeStore) LoanTransaction(_ context.Context, _ string, _ string, _ time.Time, _ time.Time) (postgresengine.LoanResult, error) {
	return f.loanResult, f.loanErr
}

func handleStorage(t *testing.T, tier *storagetier.Tier, request pipeline.StorageRequest) pipeline.StorageResponse {
	t.Helper()

	frame, encodeErr := pipeline.EncodeStorageRequest(request)
	require.NoError(t, encodeErr)

	response, decodeErr := pipeline.DecodeStorageResponse(tier.Handle(context.Background(), frame))
	require.NoError(t, decodeErr)

	return response
}

func Test_StorageTier_UpdateReturn_ShouldReplyOK_WithBookDetails(t *testing.T) {
	// arrange
	store := &fakeStore{returnResult: postgresengine.ReturnResult{Title: "Poesía 12: Historia de la Literatura", AvailableCopies: 2}}
	tier := storagetier.NewTier(store, nil)

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:       pipeline.StorageOpUpdateReturn,
		BookCode: "LIB00001",
		UserID:   "USR0001",
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusOK, response.Status)
	assert.Equal(t, "Poesía 12: Historia de la Literatura", response.Title)
	require.NotNil(t, response.AvailableCopies)
	assert.Equal(t, 2, *response.AvailableCopies)
}

func Test_StorageTier_UpdateReturn_ShouldReplyNotFound_WhenBookUnknown(t *testing.T) {
	// arrange
	store := &fakeStore{returnErr: ledger.ErrBookNotFound}
	tier := storagetier.NewTier(store, nil)

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:       pipeline.StorageOpUpdateReturn,
		BookCode: "LIB99999",
		UserID:   "USR0001",
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusNotFound, response.Status)
	assert.Contains(t, response.Message, "LIB99999")
}

func Test_StorageTier_UpdateRenewal_ShouldReplyConflict_WhenNoEligibleLoan(t *testing.T) {
	// arrange
	store := &fakeStore{renewalErr: ledger.ErrLoanConflict}
	tier := storagetier.NewTier(store, nil)

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:         pipeline.StorageOpUpdateRenewal,
		BookCode:   "LIB00001",
		UserID:     "USR0001",
		NewDueDate: time.Now().UTC().AddDate(0, 0, ledger.LoanPeriodDays),
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusConflict, response.Status)
}

func Test_StorageTier_LoanTransaction_ShouldReplyOK_WithLoanID(t *testing.T) {
	// arrange
	store := &fakeStore{loanResult: postgresengine.LoanResult{LoanID: "3e9f6c1a-1111-2222-3333-444455556666"}}
	tier := storagetier.NewTier(store, nil)

	now := time.Now().UTC()

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:       pipeline.StorageOpLoanTransaction,
		BookCode: "LIB00001",
		UserID:   "USR0001",
		LoanDate: now,
		DueDate:  now.AddDate(0, 0, ledger.LoanPeriodDays),
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusOK, response.Status)
	assert.Equal(t, "3e9f6c1a-1111-2222-3333-444455556666", response.LoanID)
}

func Test_StorageTier_LoanTransaction_ShouldReplyConflict_WhenLastCopyLost(t *testing.T) {
	// arrange
	store := &fakeStore{loanErr: ledger.ErrLoanConflict}
	tier := storagetier.NewTier(store, nil)

	now := time.Now().UTC()

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:       pipeline.StorageOpLoanTransaction,
		BookCode: "LIB00001",
		UserID:   "USR0001",
		LoanDate: now,
		DueDate:  now.AddDate(0, 0, ledger.LoanPeriodDays),
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusConflict, response.Status)
}

func Test_StorageTier_QueryAvailability_ShouldReplyProjection(t *testing.T) {
	// arrange
	store := &fakeStore{availability: postgresengine.Availability{
		Code: "LIB00001", Title: "Ensayo 3: Historia de la Literatura", Author: "Octavio Paz",
		AvailableCopies: 1, TotalCopies: 4,
	}}
	tier := storagetier.NewTier(store, nil)

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:       pipeline.StorageOpQueryAvailability,
		BookCode: "LIB00001",
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusOK, response.Status)
	assert.Equal(t, "Octavio Paz", response.Author)
	require.NotNil(t, response.AvailableCopies)
	require.NotNil(t, response.TotalCopies)
	assert.Equal(t, 1, *response.AvailableCopies)
	assert.Equal(t, 4, *response.TotalCopies)
}

func Test_StorageTier_Handle_ShouldReplyError_WithMalformedFrame(t *testing.T) {
	// arrange
	tier := storagetier.NewTier(&fakeStore{}, nil)

	// act
	response, decodeErr := pipeline.DecodeStorageResponse(tier.Handle(context.Background(), []byte("garbage")))

	// assert
	require.NoError(t, decodeErr)
	assert.Equal(t, pipeline.StorageStatusError, response.Status)
}

func Test_StorageTier_Handle_ShouldReplyError_WithEngineFailure(t *testing.T) {
	// arrange
	store := &fakeStore{historyErr: postgresengine.ErrExecutingStatementFailed}
	tier := storagetier.NewTier(store, nil)

	// act
	response := handleStorage(t, tier, pipeline.StorageRequest{
		Op:            pipeline.StorageOpInsertHistory,
		BookCode:      "LIB00001",
		UserID:        "USR0001",
		OperationKind: ledger.OperationReturn,
	})

	// assert
	assert.Equal(t, pipeline.StorageStatusError, response.Status)
	assert.Contains(t, response.Message, postgresengine.ErrExecutingStatementFailed.Error())
}

func Test_StorageTier_StatsSnapshot_ShouldClassifyOutcomes(t *testing.T) {
	// arrange
	store := &fakeStore{
		availability: postgresengine.Availability{Code: "LIB00001", AvailableCopies: 1, TotalCopies: 1},
		returnErr:    ledger.ErrBookNotFound,
		historyErr:   postgresengine.ErrExecutingStatementFailed,
	}
	tier := storagetier.NewTier(store, nil)

	// act: one success, one rejection, one failure
	handleStorage(t, tier, pipeline.StorageRequest{Op: pipeline.StorageOpQueryAvailability, BookCode: "LIB00001"})
	handleStorage(t, tier, pipeline.StorageRequest{Op: pipeline.StorageOpUpdateReturn, BookCode: "LIB00001", UserID: "USR0001"})
	handleStorage(t, tier, pipeline.StorageRequest{
		Op: pipeline.StorageOpInsertHistory, BookCode: "LIB00001", UserID: "USR0001", OperationKind: ledger.OperationReturn,
	})

	// assert
	snapshot := tier.StatsSnapshot()
	assert.Equal(t, uint64(3), snapshot.Total)
	assert.Equal(t, uint64(1), snapshot.Succeeded)
	assert.Equal(t, uint64(1), snapshot.Rejected)
	assert.Equal(t, uint64(1), snapshot.Failed)
}
