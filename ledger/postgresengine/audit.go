package postgresengine

import (
	"context"
	"errors"
	"time"

	"github.com/doug-martin/goqu/v9"

	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
)

// AuditReport is the read-only summary used by the verification tooling.
// Producing it never mutates the ledger.
type AuditReport struct {
	Books                 int
	CopyInvariantBreaches int
	ActiveLoans           int
	RenewalCapBreaches    int
	HistoryByOperation    map[ledger.OperationKind]int
}

// Clean reports whether the audit found no invariant breaches.
func (r AuditReport) Clean() bool {
	return r.CopyInvariantBreaches == 0 && r.RenewalCapBreaches == 0
}

// Audit runs the read-only invariant and volume queries against this site's
// ledger at whatever isolation the underlying engine provides.
func (s Storage) Audit(ctx context.Context) (AuditReport, error) {
	var empty AuditReport

	report := AuditReport{HistoryByOperation: make(map[ledger.OperationKind]int)}

	books, err := s.countRows(ctx, goqu.Dialect(s.dialect).From(tableBooks))
	if err != nil {
		return empty, err
	}
	report.Books = books

	copyBreaches, err := s.countRows(ctx, goqu.Dialect(s.dialect).
		From(tableBooks).
		Where(goqu.Or(
			goqu.C(colAvailableCopies).Lt(0),
			goqu.C(colAvailableCopies).Gt(goqu.C(colTotalCopies)),
		)))
	if err != nil {
		return empty, err
	}
	report.CopyInvariantBreaches = copyBreaches

	activeLoans, err := s.countRows(ctx, goqu.Dialect(s.dialect).
		From(tableLoans).
		Where(goqu.Ex{colStatus: string(ledger.LoanActive)}))
	if err != nil {
		return empty, err
	}
	report.ActiveLoans = activeLoans

	renewalBreaches, err := s.countRows(ctx, goqu.Dialect(s.dialect).
		From(tableLoans).
		Where(goqu.Or(
			goqu.C(colRenewals).Lt(0),
			goqu.C(colRenewals).Gt(ledger.MaxRenewals),
		)))
	if err != nil {
		return empty, err
	}
	report.RenewalCapBreaches = renewalBreaches

	if err := s.tallyHistory(ctx, report.HistoryByOperation); err != nil {
		return empty, err
	}

	return report, nil
}

func (s Storage) countRows(ctx context.Context, dataset *goqu.SelectDataset) (int, error) {
	countSQL, _, toSQLErr := dataset.Select(goqu.COUNT(goqu.Star())).ToSQL()
	if toSQLErr != nil {
		return 0, s.buildFailed(toSQLErr)
	}

	start := time.Now()
	rows, queryErr := s.db.Query(ctx, countSQL)
	s.logQueryWithDuration(countSQL, "audit count", time.Since(start))

	if queryErr != nil {
		return 0, errors.Join(ErrQueryingLedgerFailed, queryErr)
	}
	defer s.closeRows(rows)

	if !rows.Next() {
		return 0, ErrScanningDBRowFailed
	}

	var count int
	if scanErr := rows.Scan(&count); scanErr != nil {
		return 0, errors.Join(ErrScanningDBRowFailed, scanErr)
	}

	return count, nil
}

func (s Storage) tallyHistory(ctx context.Context, tally map[ledger.OperationKind]int) error {
	tallySQL, _, toSQLErr := goqu.Dialect(s.dialect).
		From(tableHistory).
		Select(colOperation, goqu.COUNT(goqu.Star())).
		GroupBy(colOperation).
		ToSQL()
	if toSQLErr != nil {
		return s.buildFailed(toSQLErr)
	}

	start := time.Now()
	rows, queryErr := s.db.Query(ctx, tallySQL)
	s.logQueryWithDuration(tallySQL, "audit history tally", time.Since(start))

	if queryErr != nil {
		return errors.Join(ErrQueryingLedgerFailed, queryErr)
	}
	defer s.closeRows(rows)

	for rows.Next() {
		var operation string
		var count int

		if scanErr := rows.Scan(&operation, &count); scanErr != nil {
			return errors.Join(ErrScanningDBRowFailed, scanErr)
		}

		tally[ledger.OperationKind(operation)] = count
	}

	return nil
}
