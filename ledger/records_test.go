package ledger_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
)

func Test_BuildBook_ShouldCreateBook_WithValidInput(t *testing.T) {
	// act
	book, err := ledger.BuildBook("LIB00001", "Cien años de soledad", "Gabriel García Márquez", "Sudamericana", "978-0-06-088328-7", 3, 2)

	// assert
	require.NoError(t, err)
	assert.Equal(t, "LIB00001", book.Code)
	assert.Equal(t, 3, book.TotalCopies)
	assert.Equal(t, 2, book.AvailableCopies)
}

func Test_BuildBook_ShouldFail_WithEmptyCode(t *testing.T) {
	// act
	_, err := ledger.BuildBook("", "Cien años de soledad", "Gabriel García Márquez", "", "", 1, 1)

	// assert
	assert.ErrorIs(t, err, ledger.ErrEmptyBookCode)
}

func Test_BuildBook_ShouldFail_WithInvalidCopyCounts(t *testing.T) {
	testCases := []struct {
		name            string
		totalCopies     int
		availableCopies int
	}{
		{name: "negative available", totalCopies: 1, availableCopies: -1},
		{name: "available above total", totalCopies: 1, availableCopies: 2},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			// act
			_, err := ledger.BuildBook("LIB00001", "t", "a", "", "", tc.totalCopies, tc.availableCopies)

			// assert
			assert.ErrorIs(t, err, ledger.ErrInvalidCopyCounts)
		})
	}
}

func Test_OperationKind_IsValid(t *testing.T) {
	// assert
	assert.True(t, ledger.OperationLoan.IsValid())
	assert.True(t, ledger.OperationReturn.IsValid())
	assert.True(t, ledger.OperationRenew.IsValid())
	assert.False(t, ledger.OperationKind("PURCHASE").IsValid())
	assert.False(t, ledger.OperationKind("").IsValid())
}
