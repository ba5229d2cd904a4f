package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/lagoon-cms/searchsync/internal/indexer"
	chiTransport "github.com/lagoon-cms/searchsync/internal/transport/chi"
	"github.com/lagoon-cms/searchsync/internal/version"
)

// newServeCmd runs the HTTP API plus the cron scheduler.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the search API server and the periodic sync",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("Starting searchsync server",
				zap.String("version", version.Version),
				zap.String("commit", version.Commit),
				zap.Int("http_port", a.cfg.HTTP.Port),
				zap.Strings("search_hosts", a.cfg.OpenSearch.Hosts))

			server := chiTransport.NewServer(a.searcher, a.indexes, a.indexer, a.dispatcher, a.store, a.logger)

			addr := fmt.Sprintf(":%d", a.cfg.HTTP.Port)
			srv := &http.Server{
				Addr:         addr,
				Handler:      server.Router(a.cfg.HTTP.APIKeys),
				ReadTimeout:  time.Duration(a.cfg.HTTP.ReadTimeoutSec) * time.Second,
				WriteTimeout: time.Duration(a.cfg.HTTP.WriteTimeoutSec) * time.Second,
			}

			cronCtx, stopCron := context.WithCancel(ctx)
			go a.scheduler.Run(cronCtx)

			// Graceful shutdown
			quit := make(chan os.Signal, 1)
			signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

			go func() {
				a.logger.Info("Starting HTTP server", zap.String("addr", addr))
				if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Fatal("HTTP server error", zap.Error(err))
				}
			}()

			<-quit
			a.logger.Info("Received shutdown signal")
			stopCron()

			shutdownCtx, cancel := context.WithTimeout(context.Background(),
				time.Duration(a.cfg.HTTP.ShutdownSec)*time.Second)
			defer cancel()

			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.logger.Error("Error during shutdown", zap.Error(err))
			}

			a.logger.Info("Server stopped gracefully")
			return nil
		},
	}
}

// newSyncCmd runs one budgeted sync pass and exits.
func newSyncCmd() *cobra.Command {
	var budgetSec int

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one synchronisation pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if budgetSec < 0 {
				budgetSec = a.cfg.Indexing.MaxRunTimeSec
			}
			// A zero budget runs the full sync with no deadline.
			var deadline time.Time
			if budgetSec > 0 {
				deadline = time.Now().Add(time.Duration(budgetSec) * time.Second)
			}

			stats, err := a.indexer.Sync(ctx, deadline)
			if err != nil {
				return err
			}
			fmt.Printf("indexed: %d, failed: %d, deleted: %d, requeued: %d\n",
				stats.Indexed, stats.Failed, stats.Deleted, stats.Requeued)
			return nil
		},
	}
	cmd.Flags().IntVar(&budgetSec, "budget", -1, "run-time budget in seconds; 0 runs unbounded (default: config value)")
	return cmd
}

// newRebuildCmd rebuilds the index and cuts the aliases over.
func newRebuildCmd() *cobra.Command {
	var deleteOld bool

	cmd := &cobra.Command{
		Use:   "rebuild",
		Short: "Create a fresh index, copy all documents and move the aliases",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			previous, err := a.indexes.FindActiveIndex(ctx)
			if err != nil {
				return err
			}

			// Pause sync while documents are copied across.
			if err := a.store.SetSetting(ctx, indexer.SettingSyncEnabled, "no"); err != nil {
				return err
			}

			next, rebuildErr := a.indexes.Rebuild(ctx)

			if err := a.store.DeleteSetting(ctx, indexer.SettingSyncEnabled); err != nil {
				a.logger.Error("failed to re-enable sync after rebuild", zap.Error(err))
			}
			if rebuildErr != nil {
				return rebuildErr
			}
			fmt.Printf("rebuilt index: %s -> %s\n", previous, next)

			if deleteOld {
				if err := a.indexes.Delete(ctx, previous); err != nil {
					return err
				}
				fmt.Printf("deleted old index: %s\n", previous)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&deleteOld, "delete-old", false, "delete the previous index after the cutover")
	return cmd
}

// newInitCmd creates the first index, aliases and database schema.
func newInitCmd() *cobra.Command {
	var withSchema bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the initial index, aliases and (optionally) database schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			if withSchema {
				if err := storeEnsureSchema(ctx, a); err != nil {
					return err
				}
				fmt.Println("database schema applied")
			}

			name, err := a.indexes.Initialize(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("active index: %s\n", name)
			return nil
		},
	}
	cmd.Flags().BoolVar(&withSchema, "with-schema", false, "apply the database schema first")
	return cmd
}

// newReconcileCmd runs one reconciliation pass and exits.
func newReconcileCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reconcile",
		Short: "Reconcile the index against the source database once",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			a, err := buildApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			stats, err := a.reconciler.Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("scanned: %d, deletes queued: %d, checked: %d, marked pending: %d\n",
				stats.Scanned, stats.DeletesQueued, stats.Checked, stats.MarkedPending)
			return nil
		},
	}
}
