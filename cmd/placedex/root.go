package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/placedex/placedex/internal/cachefile"
	"github.com/placedex/placedex/internal/config"
	"github.com/placedex/placedex/internal/facade"
	"github.com/placedex/placedex/internal/logging"
	"github.com/placedex/placedex/internal/reconcile"
	"github.com/placedex/placedex/internal/store"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "placedex",
	Short: "Places management with a spreadsheet cache mirror",
	Long: `placedex manages geographic place records in an embedded SQLite
database and mirrors them into an Excel workbook for fast-mode reads.

The database is always the source of truth; the workbook is a derived
cache kept current by a one-directional reconciler.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default placedex.yaml in the working directory)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(placeCmd)
}

// app bundles the wired-up components a command needs.
type app struct {
	cfg    *config.Config
	store  *store.Store
	cache  *cachefile.Store
	rec    *reconcile.Reconciler
	facade *facade.Facade
	logger *log.Logger
}

// setup loads config and wires store, cache, reconciler, and facade.
// The caller must invoke close() when done.
func setup(tag string) (*app, func(), error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, nil, err
	}

	logger := logging.New(tag, cfg.Log)

	st, err := store.OpenWithTimeout(cfg.Database.Path, cfg.Database.OpTimeout)
	if err != nil {
		return nil, nil, err
	}
	if err := st.InitSchema(); err != nil {
		_ = st.Close()
		return nil, nil, err
	}

	cache := cachefile.New(cachefile.Config{
		Path:        cfg.Cache.Path,
		Sheet:       cfg.Cache.Sheet,
		BackupCount: cfg.Cache.BackupCount,
		LockTimeout: cfg.Cache.LockTimeout,
	})

	rec := reconcile.New(st, cache, logging.New("reconcile", cfg.Log))

	fastMode := cfg.Sync.FastMode && cfg.Cache.Enabled
	policy := facade.NewPolicy(fastMode, cfg.Sync.StalenessThreshold)
	f := facade.New(st, cache, rec, policy, logging.New("facade", cfg.Log))

	a := &app{cfg: cfg, store: st, cache: cache, rec: rec, facade: f, logger: logger}
	cleanup := func() {
		if err := st.Close(); err != nil {
			logger.Printf("Error closing store: %v", err)
		}
	}
	return a, cleanup, nil
}
