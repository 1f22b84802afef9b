// Command verify runs the read-only invariant audit against a site database
// and exits nonzero when any invariant is breached. It is meant to run after
// a load test: whatever mix of successes, rejections and failures the
// pipeline produced, the ledger itself must still be internally consistent.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/biblioteca-distribuida/lending-pipeline-go/internal/config"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine"
)

func main() {
	command := newVerifyCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newVerifyCommand() *cobra.Command {
	var siteID int

	command := &cobra.Command{
		Use:          "verify",
		Short:        "Audit a site database for ledger invariant breaches",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgErr := config.FromEnv()
			if cfgErr != nil {
				return cfgErr
			}

			if cmd.Flags().Changed("site-id") {
				cfg.SiteID = siteID
			}

			return run(cmd.Context(), cfg)
		},
	}

	command.Flags().IntVar(&siteID, "site-id", 1, "identifier of the site being audited")

	return command
}

func run(ctx context.Context, cfg config.SiteConfig) error {
	db, openErr := config.SQLX(ctx, cfg.Postgres)
	if openErr != nil {
		return fmt.Errorf("connecting to site database: %w", openErr)
	}
	defer func() { _ = db.Close() }()

	store, storeErr := postgresengine.NewStorageFromSQLX(db, postgresengine.WithSiteID(cfg.SiteID))
	if storeErr != nil {
		return fmt.Errorf("building storage engine: %w", storeErr)
	}

	report, auditErr := store.Audit(ctx)
	if auditErr != nil {
		return fmt.Errorf("running audit: %w", auditErr)
	}

	printReport(report)

	if !report.Clean() {
		return fmt.Errorf("ledger invariants breached: %d copy-count, %d renewal-cap",
			report.CopyInvariantBreaches, report.RenewalCapBreaches)
	}

	fmt.Println("ledger invariants hold")

	return nil
}

func printReport(report postgresengine.AuditReport) {
	fmt.Printf("books:                  %d\n", report.Books)
	fmt.Printf("active loans:           %d\n", report.ActiveLoans)
	fmt.Printf("copy-count breaches:    %d\n", report.CopyInvariantBreaches)
	fmt.Printf("renewal-cap breaches:   %d\n", report.RenewalCapBreaches)

	for _, kind := range []ledger.OperationKind{ledger.OperationLoan, ledger.OperationReturn, ledger.OperationRenew} {
		fmt.Printf("history %-9s count: %d\n", kind, report.HistoryByOperation[kind])
	}
}
