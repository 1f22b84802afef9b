package postgresengine

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
)

var ErrUnsupportedDialect = errors.New("unsupported dialect for schema initialization")

// Column types that differ between the postgres and sqlite3 dialects.
const (
	pgTimestampType     = "TIMESTAMPTZ"
	pgPayloadType       = "JSONB"
	sqliteTimestampType = "TEXT"
	sqlitePayloadType   = "TEXT"
	dialectSQLite       = "sqlite3"
)

// The schema statements are executed one by one because the pgx adapter does
// not accept multi-statement commands.
var schemaStatementTemplates = []string{
	`CREATE TABLE IF NOT EXISTS books (
	book_code        TEXT PRIMARY KEY,
	title            TEXT NOT NULL,
	author           TEXT NOT NULL,
	publisher        TEXT NOT NULL DEFAULT '',
	isbn             TEXT NOT NULL DEFAULT '',
	total_copies     INTEGER NOT NULL,
	available_copies INTEGER NOT NULL,
	updated_at       {timestamp} NOT NULL,
	CHECK (total_copies >= 0),
	CHECK (available_copies >= 0 AND available_copies <= total_copies)
)`,
	`CREATE TABLE IF NOT EXISTS loans (
	id         TEXT PRIMARY KEY,
	book_code  TEXT NOT NULL REFERENCES books (book_code),
	user_id    TEXT NOT NULL,
	loan_date  {timestamp} NOT NULL,
	due_date   {timestamp} NOT NULL,
	renewals   INTEGER NOT NULL DEFAULT 0,
	status     TEXT NOT NULL,
	site_id    INTEGER NOT NULL,
	updated_at {timestamp} NOT NULL,
	CHECK (renewals >= 0 AND renewals <= 2)
)`,
	`CREATE INDEX IF NOT EXISTS idx_loans_book_user_status ON loans (book_code, user_id, status)`,
	`CREATE TABLE IF NOT EXISTS operation_history (
	id          TEXT PRIMARY KEY,
	book_code   TEXT NOT NULL,
	user_id     TEXT NOT NULL,
	operation   TEXT NOT NULL,
	occurred_at {timestamp} NOT NULL,
	site_id     INTEGER NOT NULL,
	payload     {payload}
)`,
	`CREATE INDEX IF NOT EXISTS idx_history_book ON operation_history (book_code)`,
}

// InitializeSchema creates the ledger tables and indexes for this site if
// they do not exist yet. Used by the seeder and by tests; production sites
// normally run against an already-provisioned database.
func (s Storage) InitializeSchema(ctx context.Context) error {
	var timestampType, payloadType string

	switch s.dialect {
	case dialectPostgres:
		timestampType, payloadType = pgTimestampType, pgPayloadType
	case dialectSQLite:
		timestampType, payloadType = sqliteTimestampType, sqlitePayloadType
	default:
		return ErrUnsupportedDialect
	}

	replacer := strings.NewReplacer("{timestamp}", timestampType, "{payload}", payloadType)

	for _, template := range schemaStatementTemplates {
		ddl := replacer.Replace(template)

		if _, execErr := s.db.Exec(ctx, ddl); execErr != nil {
			return errors.Join(ErrExecutingStatementFailed, execErr)
		}
	}

	return nil
}

// InsertBook inserts one inventory row. Only the bulk seeder and tests create
// books; the pipeline itself never does.
func (s Storage) InsertBook(ctx context.Context, book ledger.Book) error {
	insertStmt := goqu.Dialect(s.dialect).
		Insert(tableBooks).
		Rows(goqu.Record{
			colBookCode:        book.Code,
			colTitle:           book.Title,
			colAuthor:          book.Author,
			"publisher":        book.Publisher,
			"isbn":             book.ISBN,
			colTotalCopies:     book.TotalCopies,
			colAvailableCopies: book.AvailableCopies,
			colUpdatedAt:       time.Now().UTC(),
		})

	insertSQL, _, toSQLErr := insertStmt.ToSQL()
	if toSQLErr != nil {
		return s.buildFailed(toSQLErr)
	}

	_, execErr := s.execStatement(ctx, insertSQL, "insert book")

	return execErr
}
