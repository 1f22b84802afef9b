// Command sitenode runs one complete site of the lending pipeline: the
// storage tier over the site database, one actor per operation kind, and the
// load manager with its HTTP frontend.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/biblioteca-distribuida/lending-pipeline-go/internal/config"
	"github.com/biblioteca-distribuida/lending-pipeline-go/internal/zaplog"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger"
	"github.com/biblioteca-distribuida/lending-pipeline-go/ledger/postgresengine"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/actortier"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/loadmanager"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/storagetier"
	"github.com/biblioteca-distribuida/lending-pipeline-go/pipeline/transport"
)

const shutdownGracePeriod = 10 * time.Second

func main() {
	command := newServeCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var httpAddr string
	var siteID int
	var initSchema bool

	command := &cobra.Command{
		Use:          "sitenode",
		Short:        "Run one site of the lending pipeline",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, cfgErr := config.FromEnv()
			if cfgErr != nil {
				return cfgErr
			}

			if cmd.Flags().Changed("http-addr") {
				cfg.HTTPAddr = httpAddr
			}
			if cmd.Flags().Changed("site-id") {
				cfg.SiteID = siteID
			}

			return run(cmd.Context(), cfg, initSchema)
		},
	}

	command.Flags().StringVar(&httpAddr, "http-addr", ":8080", "listen address of the HTTP frontend")
	command.Flags().IntVar(&siteID, "site-id", 1, "identifier of this site")
	command.Flags().BoolVar(&initSchema, "init-schema", false, "create the ledger tables before serving")

	return command
}

func run(ctx context.Context, cfg config.SiteConfig, initSchema bool) error {
	logger, logErr := zaplog.NewProduction()
	if logErr != nil {
		return fmt.Errorf("building logger: %w", logErr)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	if initSchema {
		if schemaErr := store.InitializeSchema(ctx); schemaErr != nil {
			return fmt.Errorf("initializing schema: %w", schemaErr)
		}

		logger.Info("ledger schema initialized", "site_id", cfg.SiteID)
	}

	serveCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var loops sync.WaitGroup

	// storage tier: one single-threaded loop serving every actor connection
	storageListener := transport.Listen()
	storage := storagetier.NewTier(store, logger)

	loops.Add(1)
	go func() {
		defer loops.Done()
		_ = storage.Serve(serveCtx, storageListener)
	}()

	actors := make(map[ledger.OperationKind]*transport.Conn)
	actorInstances := make([]*actortier.Actor, 0, 3)

	for _, kind := range []ledger.OperationKind{ledger.OperationLoan, ledger.OperationReturn, ledger.OperationRenew} {
		actor := actortier.NewActor(kind, storageListener.Dial(), logger)
		actorConn, actorListener := transport.Pipe()

		loops.Add(1)
		go func() {
			defer loops.Done()
			_ = actor.Serve(serveCtx, actorListener)
		}()

		actors[kind] = actorConn
		actorInstances = append(actorInstances, actor)
	}

	manager := loadmanager.NewManager(actors, logger)
	defer manager.Close()

	server := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      loadmanager.NewRouter(manager),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverFailed := make(chan error, 1)
	go func() {
		logger.Info("site node listening", "addr", cfg.HTTPAddr, "site_id", cfg.SiteID)

		if serveErr := server.ListenAndServe(); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			serverFailed <- serveErr
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case serveErr := <-serverFailed:
		return fmt.Errorf("http server failed: %w", serveErr)
	}

	// drain HTTP first so no new frames enter the pipeline, then stop the
	// tier loops
	drainCtx, drainCancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer drainCancel()

	if shutdownErr := server.Shutdown(drainCtx); shutdownErr != nil {
		logger.Warn("http drain incomplete", "error", shutdownErr.Error())
	}

	cancel()
	loops.Wait()

	logFinalStats(logger, manager, actorInstances, storage)

	return nil
}

func logFinalStats(
	logger *zaplog.Logger,
	manager *loadmanager.Manager,
	actors []*actortier.Actor,
	storage *storagetier.Tier,
) {
	logStats := func(component string, snapshot pipeline.TierStatsSnapshot) {
		logger.Info("final stats",
			"component", component,
			"total", snapshot.Total,
			"succeeded", snapshot.Succeeded,
			"rejected", snapshot.Rejected,
			"failed", snapshot.Failed,
		)
	}

	logStats("load_manager", manager.StatsSnapshot())
	for _, actor := range actors {
		logStats("actor_"+string(actor.Kind()), actor.StatsSnapshot())
	}
	logStats("storage_tier", storage.StatsSnapshot())
}
