// Command seed loads a site database with an initial inventory: generated
// books plus a number of pre-existing active loans taken through the regular
// loan transaction, so the history reflects them too.
package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/biblioteca-distribuida/lending-pipeline-go/internal/config"
	"github.com/biblioteca-distribuida/lending-pipeline-go/internal/zaplog"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine"
)

var authors = []string{
	"Gabriel García Márquez", "Jorge Luis Borges", "Isabel Allende",
	"Mario Vargas Llosa", "Julio Cortázar", "Pablo Neruda",
	"Octavio Paz", "Carlos Fuentes", "Laura Esquivel",
	"Miguel de Cervantes", "Federico García Lorca", "Sor Juana Inés",
	"Roberto Bolaño", "Gioconda Belli", "Gabriela Mistral",
	"Horacio Quiroga", "Juan Rulfo", "Alejo Carpentier",
}

var publishers = []string{
	"Alfaguara", "Planeta", "Penguin Random House", "Anagrama",
	"Tusquets", "Seix Barral", "Norma", "Debate", "Booket",
}

var categories = []string{
	"Novela", "Cuento", "Poesía", "Ensayo", "Teatro",
	"Ciencia Ficción", "Historia", "Biografía", "Filosofía", "Arte",
}

// copyCountBuckets weights the copies per title towards single-copy books,
// which is what makes loan conflicts reachable under load.
var copyCountBuckets = []struct {
	copies int
	weight int
}{
	{1, 40}, {2, 30}, {3, 15}, {4, 10}, {5, 5},
}

func main() {
	command := newSeedCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newSeedCommand() *cobra.Command {
	var bookCount int
	var loanCount int
	var siteID int
	var seed int64

	command := &cobra.Command{
		Use:          "seed",
		Short:        "Load a site database with generated books and active loans",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgErr := config.FromEnv()
			if cfgErr != nil {
				return cfgErr
			}

			if cmd.Flags().Changed("site-id") {
				cfg.SiteID = siteID
			}

			return run(cmd.Context(), cfg, bookCount, loanCount, seed)
		},
	}

	command.Flags().IntVar(&bookCount, "books", 1000, "number of books to generate")
	command.Flags().IntVar(&loanCount, "loans", 50, "number of pre-existing active loans")
	command.Flags().IntVar(&siteID, "site-id", 1, "identifier of the site being seeded")
	command.Flags().Int64Var(&seed, "seed", time.Now().UnixNano(), "random seed for reproducible data")

	return command
}

func run(ctx context.Context, cfg config.SiteConfig, bookCount int, loanCount int, seed int64) error {
	logger, logErr := zaplog.NewDevelopment()
	if logErr != nil {
		return fmt.Errorf("building logger: %w", logErr)
	}
	defer func() { _ = logger.Sync() }()

	pool, poolErr := config.PGXPool(ctx, cfg.Postgres)
	if poolErr != nil {
		return fmt.Errorf("connecting to site database: %w", poolErr)
	}
	defer pool.Close()

	store, storeErr := postgresengine.NewStorageFromPGXPool(
		pool,
		postgresengine.WithSiteID(cfg.SiteID),
		postgresengine.WithLogger(logger),
	)
	if storeErr != nil {
		return fmt.Errorf("building storage engine: %w", storeErr)
	}

	if schemaErr := store.InitializeSchema(ctx); schemaErr != nil {
		return fmt.Errorf("initializing schema: %w", schemaErr)
	}

	rng := rand.New(rand.NewSource(seed))

	books := generateBooks(rng, bookCount)
	for _, book := range books {
		if insertErr := store.InsertBook(ctx, book); insertErr != nil {
			return fmt.Errorf("inserting book %s: %w", book.Code, insertErr)
		}
	}

	logger.Info("books inserted", "count", len(books), "site_id", cfg.SiteID)

	granted, loanErr := seedLoans(ctx, store, rng, books, loanCount)
	if loanErr != nil {
		return loanErr
	}

	logger.Info("active loans seeded", "count", granted, "site_id", cfg.SiteID)

	return nil
}

func generateBooks(rng *rand.Rand, count int) []ledger.Book {
	books := make([]ledger.Book, 0, count)

	for i := 1; i <= count; i++ {
		code := fmt.Sprintf("LIB%05d", i)
		title := fmt.Sprintf("%s %d: Historia de la Literatura", categories[rng.Intn(len(categories))], rng.Intn(999)+1)
		isbn := fmt.Sprintf("978-%d-%04d-%04d-%d", rng.Intn(10), rng.Intn(9000)+1000, rng.Intn(9000)+1000, rng.Intn(10))
		copies := pickCopyCount(rng)

		book, buildErr := ledger.BuildBook(
			code,
			title,
			authors[rng.Intn(len(authors))],
			publishers[rng.Intn(len(publishers))],
			isbn,
			copies,
			copies,
		)
		if buildErr != nil {
			// generated inputs always satisfy the factory's validation
			panic(buildErr)
		}

		books = append(books, book)
	}

	return books
}

func pickCopyCount(rng *rand.Rand) int {
	totalWeight := 0
	for _, bucket := range copyCountBuckets {
		totalWeight += bucket.weight
	}

	roll := rng.Intn(totalWeight)
	for _, bucket := range copyCountBuckets {
		if roll < bucket.weight {
			return bucket.copies
		}
		roll -= bucket.weight
	}

	return copyCountBuckets[0].copies
}

// seedLoans takes out active loans through the regular loan transaction on a
// random sample of the inventory. Loan dates fall within the last week so due
// dates spread over the coming one.
func seedLoans(
	ctx context.Context,
	store postgresengine.Storage,
	rng *rand.Rand,
	books []ledger.Book,
	count int,
) (int, error) {

	if count > len(books) {
		count = len(books)
	}

	sampled := rng.Perm(len(books))[:count]
	granted := 0

	for _, index := range sampled {
		book := books[index]
		userID := fmt.Sprintf("USR%04d", rng.Intn(500)+1)
		loanDate := time.Now().UTC().AddDate(0, 0, -rng.Intn(ledger.LoanPeriodDays))
		dueDate := loanDate.AddDate(0, 0, ledger.LoanPeriodDays)

		if _, loanErr := store.LoanTransaction(ctx, book.Code, userID, loanDate, dueDate); loanErr != nil {
			return granted, fmt.Errorf("seeding loan for %s: %w", book.Code, loanErr)
		}

		granted++
	}

	return granted, nil
}
