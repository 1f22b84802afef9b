package postgresengine

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres" // driver import
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"  // driver import, used by tests
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jmoiron/sqlx"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine/internal/adapters"
)

const (
	tableBooks   = "books"
	tableLoans   = "loans"
	tableHistory = "operation_history"

	colBookCode        = "book_code"
	colTitle           = "title"
	colAuthor          = "author"
	colTotalCopies     = "total_copies"
	colAvailableCopies = "available_copies"
	colUpdatedAt       = "updated_at"
	colID              = "id"
	colUserID          = "user_id"
	colLoanDate        = "loan_date"
	colDueDate         = "due_date"
	colRenewals        = "renewals"
	colStatus          = "status"
	colSiteID          = "site_id"
	colOperation       = "operation"
	colOccurredAt      = "occurred_at"
	colPayload         = "payload"

	exprIncrementAvailable = "available_copies + 1"
	exprDecrementAvailable = "available_copies - 1"
	exprIncrementRenewals  = "renewals + 1"

	logMsgBuildQueryFailed    = "failed to build sql statement"
	logMsgDBExecFailed        = "database execution failed"
	logMsgDBQueryFailed       = "database query execution failed"
	logMsgBeginTxFailed       = "failed to begin transaction"
	logMsgCommitFailed        = "failed to commit transaction"
	logMsgRollbackFailed      = "failed to roll back transaction"
	logMsgRowsAffectedFailed  = "failed to get rows affected count"
	logMsgCloseRowsFailed     = "failed to close database rows"
	logMsgScanRowFailed       = "failed to scan database row"
	logMsgReturnRecorded      = "return recorded"
	logMsgRenewalRecorded     = "renewal recorded"
	logMsgHistoryAppended     = "history record appended"
	logMsgLoanCommitted       = "loan transaction committed"
	logMsgLoanConflict        = "loan conflict detected, no copies available"
	logMsgRenewalConflict     = "renewal conflict detected, no eligible active loan"
	logMsgSQLExecuted         = "executed sql for: "
	logMsgOperation           = "ledger operation: "
	logAttrError              = "error"
	logAttrQuery              = "query"
	logAttrBookCode           = "book_code"
	logAttrUserID             = "user_id"
	logAttrLoanID             = "loan_id"
	logAttrHistoryID          = "history_id"
	logAttrDurationMS         = "duration_ms"
	logAttrRowsAffected       = "rows_affected"
	actionUpdateReturn        = "update return"
	actionUpdateRenewal       = "update renewal"
	actionInsertHistory       = "insert history"
	actionQueryAvailability   = "query availability"
	actionLoanTransaction     = "loan transaction"
	dialectPostgres           = "postgres"
	defaultSiteID             = 1
	payloadEmptyJSON          = "{}"
)

type (
	sqlQueryString    = string
	rowsAffectedInt64 = int64
)

var ErrNilDatabaseConnection = errors.New("nil database connection supplied")
var ErrBuildingQueryFailed = errors.New("building sql statement failed")
var ErrExecutingStatementFailed = errors.New("executing sql statement failed")
var ErrQueryingLedgerFailed = errors.New("querying ledger failed")
var ErrScanningDBRowFailed = errors.New("scanning database row failed")
var ErrTransactionFailed = errors.New("ledger transaction failed")
var ErrInvalidHistoryPayload = errors.New("history payload is not valid json")

// Storage owns one site's lending ledger and executes the five request kinds
// as bounded transactions. It leverages a database adapter and supports
// customizable logging, site stamping and SQL dialect configuration.
//
// Running more than one Storage instance against the same site's tables
// violates the single-writer design and is not supported.
type Storage struct {
	db      adapters.DBAdapter
	dialect string
	siteID  int
	logger  Logger
}

// ReturnResult carries the book information reported after a return.
type ReturnResult struct {
	Title           string
	AvailableCopies int
}

// Availability is the read-only availability projection of one book.
type Availability struct {
	Code            string
	Title           string
	Author          string
	AvailableCopies int
	TotalCopies     int
}

// LoanResult identifies the loan row created by a successful LoanTransaction.
type LoanResult struct {
	LoanID string
}

// NewStorageFromPGXPool creates a new Storage using a pgx Pool with optional configuration.
func NewStorageFromPGXPool(db *pgxpool.Pool, options ...Option) (Storage, error) {
	if db == nil {
		return Storage{}, ErrNilDatabaseConnection
	}

	return applyOptions(Storage{db: adapters.NewPGXAdapter(db), dialect: dialectPostgres, siteID: defaultSiteID}, options)
}

// NewStorageFromSQLDB creates a new Storage using a sql.DB with optional configuration.
func NewStorageFromSQLDB(db *sql.DB, options ...Option) (Storage, error) {
	if db == nil {
		return Storage{}, ErrNilDatabaseConnection
	}

	return applyOptions(Storage{db: adapters.NewSQLAdapter(db), dialect: dialectPostgres, siteID: defaultSiteID}, options)
}

// NewStorageFromSQLX creates a new Storage using a sqlx.DB with optional configuration.
func NewStorageFromSQLX(db *sqlx.DB, options ...Option) (Storage, error) {
	if db == nil {
		return Storage{}, ErrNilDatabaseConnection
	}

	return applyOptions(Storage{db: adapters.NewSQLXAdapter(db), dialect: dialectPostgres, siteID: defaultSiteID}, options)
}

func applyOptions(s Storage, options []Option) (Storage, error) {
	for _, option := range options {
		if err := option(&s); err != nil {
			return Storage{}, err
		}
	}

	return s, nil
}

// SiteID returns the site this Storage instance writes for.
func (s Storage) SiteID() int {
	return s.siteID
}

// UpdateReturn increments the available copies of the book by one and touches
// its update timestamp, then reports the book title and the new count.
//
// Returns ledger.ErrBookNotFound if no book row matches the code. The
// increment is unconditional for existing books; pairing returns with prior
// loans is the caller's concern.
func (s Storage) UpdateReturn(ctx context.Context, bookCode string, userID string) (ReturnResult, error) {
	var empty ReturnResult

	updateSQL, buildErr := s.buildReturnUpdate(bookCode)
	if buildErr != nil {
		return empty, buildErr
	}

	selectSQL, buildErr := s.buildBookLookup(bookCode)
	if buildErr != nil {
		return empty, buildErr
	}

	tx, beginErr := s.beginTx(ctx)
	if beginErr != nil {
		return empty, beginErr
	}

	rowsAffected, execErr := s.execInTx(ctx, tx, updateSQL, actionUpdateReturn)
	if execErr != nil {
		s.rollback(ctx, tx)
		return empty, execErr
	}

	if rowsAffected == 0 {
		s.rollback(ctx, tx)
		return empty, ledger.ErrBookNotFound
	}

	result := ReturnResult{}
	scanErr := s.queryOneInTx(ctx, tx, selectSQL, &result.Title, &result.AvailableCopies)
	if scanErr != nil {
		s.rollback(ctx, tx)
		return empty, scanErr
	}

	if commitErr := s.commit(ctx, tx); commitErr != nil {
		return empty, commitErr
	}

	s.logOperation(logMsgReturnRecorded, logAttrBookCode, bookCode, logAttrUserID, userID)

	return result, nil
}

// UpdateRenewal extends the due date and increments the renewal count of the
// unique active loan matching (bookCode, userID) with fewer than
// ledger.MaxRenewals renewals.
//
// Returns ledger.ErrLoanConflict when zero rows match: there is no active
// loan, or the renewal cap is already reached. The eligibility check and the
// update are one guarded statement.
func (s Storage) UpdateRenewal(ctx context.Context, bookCode string, userID string, newDueDate time.Time) error {
	updateSQL, buildErr := s.buildRenewalUpdate(bookCode, userID, newDueDate)
	if buildErr != nil {
		return buildErr
	}

	rowsAffected, execErr := s.execStatement(ctx, updateSQL, actionUpdateRenewal)
	if execErr != nil {
		return execErr
	}

	if rowsAffected == 0 {
		s.logOperation(logMsgRenewalConflict, logAttrBookCode, bookCode, logAttrUserID, userID)
		return ledger.ErrLoanConflict
	}

	s.logOperation(logMsgRenewalRecorded, logAttrBookCode, bookCode, logAttrUserID, userID)

	return nil
}

// InsertHistory appends one audit record and returns its generated id.
//
// A nil payload is stored as empty JSON; a non-nil payload must be valid JSON.
func (s Storage) InsertHistory(
	ctx context.Context,
	bookCode string,
	userID string,
	operation ledger.OperationKind,
	payloadJSON []byte,
) (string, error) {

	historyID := uuid.New().String()

	insertSQL, buildErr := s.buildHistoryInsert(historyID, bookCode, userID, operation, payloadJSON, time.Now().UTC())
	if buildErr != nil {
		return "", buildErr
	}

	if _, execErr := s.execStatement(ctx, insertSQL, actionInsertHistory); execErr != nil {
		return "", execErr
	}

	s.logOperation(logMsgHistoryAppended, logAttrHistoryID, historyID, logAttrBookCode, bookCode)

	return historyID, nil
}

// QueryAvailability reads the availability projection of one book without
// mutating any state.
//
// Returns ledger.ErrBookNotFound if the book code is unknown.
func (s Storage) QueryAvailability(ctx context.Context, bookCode string) (Availability, error) {
	var empty Availability

	selectStmt := goqu.Dialect(s.dialect).
		From(tableBooks).
		Select(colBookCode, colTitle, colAuthor, colAvailableCopies, colTotalCopies).
		Where(goqu.Ex{colBookCode: bookCode})

	selectSQL, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return empty, s.buildFailed(toSQLErr)
	}

	start := time.Now()
	rows, queryErr := s.db.Query(ctx, selectSQL)
	s.logQueryWithDuration(selectSQL, actionQueryAvailability, time.Since(start))

	if queryErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, selectSQL)
		}

		return empty, errors.Join(ErrQueryingLedgerFailed, queryErr)
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return empty, ledger.ErrBookNotFound
	}

	result := Availability{}
	scanErr := rows.Scan(&result.Code, &result.Title, &result.Author, &result.AvailableCopies, &result.TotalCopies)
	if scanErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
		}

		return empty, errors.Join(ErrScanningDBRowFailed, scanErr)
	}

	return result, nil
}

// LoanTransaction executes the complete loan allocation atomically:
// guarded decrement of available copies, loan row insert, history append.
//
// The guarded decrement only affects a row while available copies are above
// zero; zero affected rows means the last copy was lost to a concurrent
// caller and the whole transaction is rolled back with ledger.ErrLoanConflict.
// Any engine-level failure after the decrement also rolls back everything, so
// the ledger is never left partially mutated.
func (s Storage) LoanTransaction(
	ctx context.Context,
	bookCode string,
	userID string,
	loanDate time.Time,
	dueDate time.Time,
) (LoanResult, error) {

	var empty LoanResult

	loanID := uuid.New().String()
	historyID := uuid.New().String()

	decrementSQL, buildErr := s.buildGuardedDecrement(bookCode)
	if buildErr != nil {
		return empty, buildErr
	}

	loanInsertSQL, buildErr := s.buildLoanInsert(loanID, bookCode, userID, loanDate, dueDate)
	if buildErr != nil {
		return empty, buildErr
	}

	historyPayload, marshalErr := json.Marshal(map[string]string{
		"loan_id":  loanID,
		"due_date": dueDate.UTC().Format(time.RFC3339),
	})
	if marshalErr != nil {
		return empty, errors.Join(ErrInvalidHistoryPayload, marshalErr)
	}

	historyInsertSQL, buildErr := s.buildHistoryInsert(historyID, bookCode, userID, ledger.OperationLoan, historyPayload, loanDate)
	if buildErr != nil {
		return empty, buildErr
	}

	tx, beginErr := s.beginTx(ctx)
	if beginErr != nil {
		return empty, beginErr
	}

	rowsAffected, execErr := s.execInTx(ctx, tx, decrementSQL, actionLoanTransaction)
	if execErr != nil {
		s.rollback(ctx, tx)
		return empty, execErr
	}

	if rowsAffected == 0 {
		s.rollback(ctx, tx)
		s.logOperation(logMsgLoanConflict, logAttrBookCode, bookCode, logAttrUserID, userID)

		return empty, ledger.ErrLoanConflict
	}

	if _, execErr = s.execInTx(ctx, tx, loanInsertSQL, actionLoanTransaction); execErr != nil {
		s.rollback(ctx, tx)
		return empty, execErr
	}

	if _, execErr = s.execInTx(ctx, tx, historyInsertSQL, actionLoanTransaction); execErr != nil {
		s.rollback(ctx, tx)
		return empty, execErr
	}

	if commitErr := s.commit(ctx, tx); commitErr != nil {
		return empty, commitErr
	}

	s.logOperation(logMsgLoanCommitted, logAttrLoanID, loanID, logAttrBookCode, bookCode, logAttrUserID, userID)

	return LoanResult{LoanID: loanID}, nil
}

func (s Storage) buildReturnUpdate(bookCode string) (sqlQueryString, error) {
	updateStmt := goqu.Dialect(s.dialect).
		Update(tableBooks).
		Set(goqu.Record{
			colAvailableCopies: goqu.L(exprIncrementAvailable),
			colUpdatedAt:       time.Now().UTC(),
		}).
		Where(goqu.Ex{colBookCode: bookCode})

	updateSQL, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return "", s.buildFailed(toSQLErr)
	}

	return updateSQL, nil
}

func (s Storage) buildBookLookup(bookCode string) (sqlQueryString, error) {
	selectStmt := goqu.Dialect(s.dialect).
		From(tableBooks).
		Select(colTitle, colAvailableCopies).
		Where(goqu.Ex{colBookCode: bookCode})

	selectSQL, _, toSQLErr := selectStmt.ToSQL()
	if toSQLErr != nil {
		return "", s.buildFailed(toSQLErr)
	}

	return selectSQL, nil
}

func (s Storage) buildRenewalUpdate(bookCode string, userID string, newDueDate time.Time) (sqlQueryString, error) {
	updateStmt := goqu.Dialect(s.dialect).
		Update(tableLoans).
		Set(goqu.Record{
			colDueDate:   newDueDate.UTC(),
			colRenewals:  goqu.L(exprIncrementRenewals),
			colUpdatedAt: time.Now().UTC(),
		}).
		Where(goqu.Ex{
			colBookCode: bookCode,
			colUserID:   userID,
			colStatus:   string(ledger.LoanActive),
		}).
		Where(goqu.C(colRenewals).Lt(ledger.MaxRenewals))

	updateSQL, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return "", s.buildFailed(toSQLErr)
	}

	return updateSQL, nil
}

func (s Storage) buildGuardedDecrement(bookCode string) (sqlQueryString, error) {
	updateStmt := goqu.Dialect(s.dialect).
		Update(tableBooks).
		Set(goqu.Record{
			colAvailableCopies: goqu.L(exprDecrementAvailable),
			colUpdatedAt:       time.Now().UTC(),
		}).
		Where(goqu.Ex{colBookCode: bookCode}).
		Where(goqu.C(colAvailableCopies).Gt(0))

	updateSQL, _, toSQLErr := updateStmt.ToSQL()
	if toSQLErr != nil {
		return "", s.buildFailed(toSQLErr)
	}

	return updateSQL, nil
}

func (s Storage) buildLoanInsert(
	loanID string,
	bookCode string,
	userID string,
	loanDate time.Time,
	dueDate time.Time,
) (sqlQueryString, error) {

	insertStmt := goqu.Dialect(s.dialect).
		Insert(tableLoans).
		Rows(goqu.Record{
			colID:        loanID,
			colBookCode:  bookCode,
			colUserID:    userID,
			colLoanDate:  loanDate.UTC(),
			colDueDate:   dueDate.UTC(),
			colRenewals:  0,
			colStatus:    string(ledger.LoanActive),
			colSiteID:    s.siteID,
			colUpdatedAt: time.Now().UTC(),
		})

	insertSQL, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", s.buildFailed(toSQLErr)
	}

	return insertSQL, nil
}

func (s Storage) buildHistoryInsert(
	historyID string,
	bookCode string,
	userID string,
	operation ledger.OperationKind,
	payloadJSON []byte,
	occurredAt time.Time,
) (sqlQueryString, error) {

	payload := payloadEmptyJSON
	if payloadJSON != nil {
		if !json.Valid(payloadJSON) {
			return "", ErrInvalidHistoryPayload
		}

		payload = string(payloadJSON)
	}

	insertStmt := goqu.Dialect(s.dialect).
		Insert(tableHistory).
		Rows(goqu.Record{
			colID:         historyID,
			colBookCode:   bookCode,
			colUserID:     userID,
			colOperation:  string(operation),
			colOccurredAt: occurredAt.UTC(),
			colSiteID:     s.siteID,
			colPayload:    payload,
		})

	insertSQL, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return "", s.buildFailed(toSQLErr)
	}

	return insertSQL, nil
}

// execStatement executes a standalone statement outside a transaction and
// returns the affected row count.
func (s Storage) execStatement(ctx context.Context, statementSQL string, action string) (rowsAffectedInt64, error) {
	start := time.Now()
	result, execErr := s.db.Exec(ctx, statementSQL)
	s.logQueryWithDuration(statementSQL, action, time.Since(start))

	if execErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, statementSQL)
		}

		return 0, errors.Join(ErrExecutingStatementFailed, execErr)
	}

	return s.rowsAffected(result)
}

func (s Storage) execInTx(ctx context.Context, tx adapters.DBTx, statementSQL string, action string) (rowsAffectedInt64, error) {
	start := time.Now()
	result, execErr := tx.Exec(ctx, statementSQL)
	s.logQueryWithDuration(statementSQL, action, time.Since(start))

	if execErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBExecFailed, logAttrError, execErr.Error(), logAttrQuery, statementSQL)
		}

		return 0, errors.Join(ErrTransactionFailed, execErr)
	}

	return s.rowsAffected(result)
}

func (s Storage) queryOneInTx(ctx context.Context, tx adapters.DBTx, querySQL string, dest ...any) error {
	rows, queryErr := tx.Query(ctx, querySQL)
	if queryErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgDBQueryFailed, logAttrError, queryErr.Error(), logAttrQuery, querySQL)
		}

		return errors.Join(ErrQueryingLedgerFailed, queryErr)
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return ledger.ErrBookNotFound
	}

	if scanErr := rows.Scan(dest...); scanErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgScanRowFailed, logAttrError, scanErr.Error())
		}

		return errors.Join(ErrScanningDBRowFailed, scanErr)
	}

	return nil
}

func (s Storage) rowsAffected(result adapters.DBResult) (rowsAffectedInt64, error) {
	rowsAffected, rowsAffectedErr := result.RowsAffected()
	if rowsAffectedErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgRowsAffectedFailed, logAttrError, rowsAffectedErr.Error())
		}

		return 0, errors.Join(ErrExecutingStatementFailed, rowsAffectedErr)
	}

	return rowsAffected, nil
}

func (s Storage) beginTx(ctx context.Context) (adapters.DBTx, error) {
	tx, beginErr := s.db.Begin(ctx)
	if beginErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgBeginTxFailed, logAttrError, beginErr.Error())
		}

		return nil, errors.Join(ErrTransactionFailed, beginErr)
	}

	return tx, nil
}

func (s Storage) commit(ctx context.Context, tx adapters.DBTx) error {
	if commitErr := tx.Commit(ctx); commitErr != nil {
		if s.logger != nil {
			s.logger.Error(logMsgCommitFailed, logAttrError, commitErr.Error())
		}

		return errors.Join(ErrTransactionFailed, commitErr)
	}

	return nil
}

// rollback aborts the transaction; rollback failures are logged but never
// override the error that caused the rollback.
func (s Storage) rollback(ctx context.Context, tx adapters.DBTx) {
	if rollbackErr := tx.Rollback(ctx); rollbackErr != nil {
		if s.logger != nil {
			s.logger.Warn(logMsgRollbackFailed, logAttrError, rollbackErr.Error())
		}
	}
}

func (s Storage) closeRows(rows adapters.DBRows) {
	if closeErr := rows.Close(); closeErr != nil {
		if s.logger != nil {
			s.logger.Warn(logMsgCloseRowsFailed, logAttrError, closeErr.Error())
		}
	}
}

func (s Storage) buildFailed(toSQLErr error) error {
	if s.logger != nil {
		s.logger.Error(logMsgBuildQueryFailed, logAttrError, toSQLErr.Error())
	}

	return errors.Join(ErrBuildingQueryFailed, toSQLErr)
}

// logQueryWithDuration logs SQL statements with execution time at debug level if the logger is configured.
func (s Storage) logQueryWithDuration(statementSQL string, action string, duration time.Duration) {
	if s.logger != nil {
		s.logger.Debug(logMsgSQLExecuted+action, logAttrDurationMS, s.durationToMilliseconds(duration), logAttrQuery, statementSQL)
	}
}

// logOperation logs operational information at info level if the logger is configured.
func (s Storage) logOperation(action string, args ...any) {
	if s.logger != nil {
		s.logger.Info(logMsgOperation+action, args...)
	}
}

// durationToMilliseconds converts a time.Duration to float64 milliseconds with 3 decimal places.
func (s Storage) durationToMilliseconds(d time.Duration) float64 {
	return math.Round(float64(d.Nanoseconds())/1e6*1000) / 1000
}
