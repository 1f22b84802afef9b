package adapters

import (
	"context"
	"database/sql"
)

// stdRows wraps standard library sql.Rows to implement DBRows interface.
type stdRows struct {
	rows *sql.Rows
}

func (s *stdRows) Next() bool {
	return s.rows.Next()
}

func (s *stdRows) Scan(dest ...any) error {
	return s.rows.Scan(dest...)
}

func (s *stdRows) Close() error {
	return s.rows.Close()
}

// stdResult wraps standard library sql.Result to implement DBResult interface.
type stdResult struct {
	result sql.Result
}

func (s *stdResult) RowsAffected() (int64, error) {
	return s.result.RowsAffected()
}

// stdTx wraps standard library sql.Tx to implement the DBTx interface.
// database/sql commits and rollbacks carry no context; it is accepted for
// interface compatibility with the pgx adapter.
type stdTx struct {
	tx *sql.Tx
}

func (s *stdTx) Query(ctx context.Context, query string) (DBRows, error) {
	rows, err := s.tx.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &stdRows{rows: rows}, nil
}

func (s *stdTx) Exec(ctx context.Context, query string) (DBResult, error) {
	result, err := s.tx.ExecContext(ctx, query)
	if err != nil {
		return nil, err
	}
	return &stdResult{result: result}, nil
}

func (s *stdTx) Commit(_ context.Context) error {
	return s.tx.Commit()
}

func (s *stdTx) Rollback(_ context.Context) error {
	return s.tx.Rollback()
}
