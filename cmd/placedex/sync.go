package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/placedex/placedex/internal/reconcile"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Force a full sync from the database to the cache workbook",
	Long: `Run one reconciliation immediately.

This fetches the full row set from the record store and rewrites the
Excel workbook to match. The rewrite is skipped when the cache is
already current.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("sync")
		if err != nil {
			return err
		}
		defer cleanup()

		out := a.facade.ForceSync(cmd.Context())
		printOutcome(out)
		if out.Status != reconcile.StatusSuccess {
			cleanup()
			os.Exit(1)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show cache sync status",
	Long: `Display the current sync state of the cache workbook.

Shows:
  - Last sync outcome and time
  - Record counts in the database and the workbook
  - Fast mode setting`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, cleanup, err := setup("status")
		if err != nil {
			return err
		}
		defer cleanup()

		dbCount, err := a.store.CountContext(cmd.Context(), "")
		if err != nil {
			return err
		}

		st := a.facade.SyncState()
		fmt.Printf("Database:   %s (%d places)\n", a.store.Path(), dbCount)

		cacheCount, cacheErr := a.cache.Count("")
		if cacheErr != nil {
			fmt.Printf("Cache:      %s (unreadable: %v)\n", a.cache.Path(), cacheErr)
		} else {
			fmt.Printf("Cache:      %s (%d places)\n", a.cache.Path(), cacheCount)
		}

		fmt.Printf("Fast mode:  %v\n", a.facade.FastMode())
		fmt.Printf("Last sync:  %s\n", formatSyncTime(st.LastSyncAt))
		fmt.Printf("Outcome:    %s", st.LastOutcome.Status)
		if st.LastOutcome.Reason != reconcile.ReasonNone {
			fmt.Printf(" (%s)", st.LastOutcome.Reason)
		}
		fmt.Println()

		if cacheErr == nil && cacheCount == dbCount {
			fmt.Println("Stores agree on record count")
		} else if cacheErr == nil {
			fmt.Printf("Count mismatch: database=%d cache=%d (run 'placedex sync')\n", dbCount, cacheCount)
		}
		return nil
	},
}

func printOutcome(out reconcile.Outcome) {
	switch out.Status {
	case reconcile.StatusSuccess:
		if out.Skipped {
			fmt.Printf("Cache already current (%d places, checked in %v)\n",
				out.RecordCount, out.Duration.Round(time.Millisecond))
		} else {
			fmt.Printf("Synced %d places in %v\n", out.RecordCount, out.Duration.Round(time.Millisecond))
		}
	default:
		fmt.Printf("Sync failed (%s): %s\n", out.Reason, out.Message)
	}
}

func formatSyncTime(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
