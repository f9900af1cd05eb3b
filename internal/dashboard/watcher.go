package dashboard

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/placedex/placedex/internal/cachefile"
	"github.com/placedex/placedex/internal/reconcile"
)

// defaultGrace is how long after our own rewrite filesystem events on the
// cache file are attributed to us rather than to an out-of-band editor.
const defaultGrace = 2 * time.Second

// Watcher observes the cache workbook for out-of-band edits and schedules
// a coalesced reconciliation when it sees one. The next sync overwrites
// whatever was edited; the watcher just makes that happen sooner than the
// next mutation would.
//
// It watches the parent directory rather than the file itself, because the
// atomic rewrite replaces the file by rename.
type Watcher struct {
	cache *cachefile.Store
	rec   *reconcile.Reconciler

	watcher *fsnotify.Watcher
	grace   time.Duration
	logger  *log.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewWatcher creates a watcher over the cache file's directory.
func NewWatcher(cache *cachefile.Store, rec *reconcile.Reconciler, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	return &Watcher{
		cache:   cache,
		rec:     rec,
		watcher: fw,
		grace:   defaultGrace,
		logger:  logger,
	}, nil
}

// Start begins watching. Non-blocking; call Stop to shut down.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.cache.Path())
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch cache directory %s: %w", dir, err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel

	w.wg.Add(1)
	go w.watchEvents(ctx)

	w.logger.Printf("Watching cache file %s", w.cache.Path())
	return nil
}

// Stop shuts the watcher down and waits for its goroutine.
func (w *Watcher) Stop() error {
	if w.cancel != nil {
		w.cancel()
	}
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) watchEvents(ctx context.Context) {
	defer w.wg.Done()

	target := filepath.Clean(w.cache.Path())

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			// Our own rewrite fires the same events; skip those.
			if time.Since(w.cache.LastWriteAt()) < w.grace {
				continue
			}

			w.logger.Printf("Out-of-band change to cache file (%s), scheduling reconcile", event.Op)
			w.rec.Trigger()

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("Watcher error: %v", err)
		}
	}
}
