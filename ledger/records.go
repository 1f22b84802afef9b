package ledger

import (
	"errors"
	"time"
)

var ErrEmptyBookCode = errors.New("empty book code supplied")
var ErrEmptyUserID = errors.New("empty user id supplied")
var ErrInvalidCopyCounts = errors.New("available copies must be between 0 and total copies")

// Book is one inventory row of a site's ledger.
//
// TotalCopies is immutable after creation. AvailableCopies is mutated only by
// the storage engine under transaction and always satisfies
// 0 <= AvailableCopies <= TotalCopies.
type Book struct {
	Code            string
	Title           string
	Author          string
	Publisher       string
	ISBN            string
	TotalCopies     int
	AvailableCopies int
	UpdatedAt       time.Time
}

// BuildBook is a factory method for Book.
//
// It validates identity and the copy-count invariant; the storage engine
// relies on rows having been inserted through it.
func BuildBook(code, title, author, publisher, isbn string, totalCopies, availableCopies int) (Book, error) {
	if code == "" {
		return Book{}, ErrEmptyBookCode
	}

	if availableCopies < 0 || availableCopies > totalCopies {
		return Book{}, ErrInvalidCopyCounts
	}

	return Book{
		Code:            code,
		Title:           title,
		Author:          author,
		Publisher:       publisher,
		ISBN:            isbn,
		TotalCopies:     totalCopies,
		AvailableCopies: availableCopies,
	}, nil
}

// Loan is one lending of a book copy to a user at a site.
//
// Renewals never exceeds MaxRenewals and only increases while Status is
// LoanActive.
type Loan struct {
	ID       string
	BookCode string
	UserID   string
	LoanDate time.Time
	DueDate  time.Time
	Renewals int
	Status   LoanStatus
	SiteID   int
}

// HistoryRecord is one append-only audit entry; records are never mutated or
// deleted.
type HistoryRecord struct {
	ID         string
	BookCode   string
	UserID     string
	Operation  OperationKind
	OccurredAt time.Time
	SiteID     int
	Payload    []byte // optional structured payload, JSON
}
