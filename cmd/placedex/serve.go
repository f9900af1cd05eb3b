package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/placedex/placedex/internal/dashboard"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the dashboard server",
	Long: `Start the HTTP API and WebSocket dashboard server.

This wires up:
  1. The SQLite record store
  2. The Excel cache mirror and its reconciler loop
  3. A watcher that reconciles after out-of-band edits to the workbook
  4. The REST API and WebSocket broadcast server`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("serve")
		if err != nil {
			return err
		}
		defer cleanup()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		server := dashboard.NewServer(a.facade, &dashboard.Config{
			Port:   a.cfg.Server.Port,
			Logger: a.logger,
		})
		a.rec.Subscribe(server.OnSyncOutcome)

		if a.cfg.Cache.Enabled {
			// Reconciler loop consumes queued triggers one at a time
			go func() {
				_ = a.rec.Start(ctx)
			}()

			// Bring the cache current on startup
			a.rec.Trigger()

			watcher, err := dashboard.NewWatcher(a.cache, a.rec, a.logger)
			if err != nil {
				return err
			}
			if err := watcher.Start(); err != nil {
				return err
			}
			defer func() {
				if err := watcher.Stop(); err != nil {
					a.logger.Printf("Error stopping watcher: %v", err)
				}
			}()
		} else {
			a.logger.Println("Cache mirror disabled, serving from record store only")
		}

		if err := server.Start(); err != nil {
			return err
		}

		fmt.Printf("Dashboard listening on %s (fast mode: %v)\n", server.GetAddr(), a.facade.FastMode())

		<-ctx.Done()
		return server.Stop()
	},
}
