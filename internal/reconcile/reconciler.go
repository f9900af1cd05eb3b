// Package reconcile keeps the spreadsheet cache equal to the record store.
//
// The sync is one-directional: the record store always wins, the cache is
// overwritten wholesale. There is no merge and no conflict resolution; an
// out-of-band edit to the cache file is simply erased by the next run.
//
// Runs never overlap. A trigger arriving while a run is in flight is
// coalesced; queued triggers execute one at a time, in submission order.
package reconcile

import (
	"context"
	"log"
	"os"
	"sync"
	"time"

	"github.com/placedex/placedex/internal/cachefile"
	"github.com/placedex/placedex/internal/place"
	"github.com/placedex/placedex/internal/store"
)

// Status is the result class of a reconciliation run.
type Status string

const (
	// StatusNever means no run has completed since process start.
	StatusNever Status = "never_synced"

	// StatusSuccess means the cache matches the record store as of the run.
	StatusSuccess Status = "success"

	// StatusFailed means the run aborted; the previous cache content is
	// untouched.
	StatusFailed Status = "failed"
)

// Reason identifies which side of a failed run was unavailable.
type Reason string

const (
	ReasonNone              Reason = ""
	ReasonSourceUnavailable Reason = "source-unavailable"
	ReasonSinkUnavailable   Reason = "sink-unavailable"
)

// Outcome describes a single reconciliation run.
type Outcome struct {
	Status      Status        `json:"status"`
	Reason      Reason        `json:"reason,omitempty"`
	Message     string        `json:"message,omitempty"`
	RecordCount int           `json:"record_count"`
	Skipped     bool          `json:"skipped"` // cache was already current, no rewrite
	Duration    time.Duration `json:"duration"`
	CompletedAt time.Time     `json:"completed_at"`
}

// State is the explicit sync metadata value owned by the Reconciler.
// It is a snapshot, not ambient state: readers get a copy and cannot
// mutate the reconciler's view.
type State struct {
	// LastSyncAt is the completion time of the last successful run.
	LastSyncAt time.Time `json:"last_sync_at"`

	// LastAttemptAt is the completion time of the last run of any outcome.
	LastAttemptAt time.Time `json:"last_attempt_at"`

	// LastOutcome is the result of the most recent run.
	LastOutcome Outcome `json:"last_outcome"`

	// RecordCount is the row count written at the last successful run.
	RecordCount int `json:"record_count"`
}

// Reconciler compares record store state to cache file state and rewrites
// the cache when they differ.
type Reconciler struct {
	store  *store.Store
	cache  *cachefile.Store
	logger *log.Logger

	// syncMu serializes runs; a second caller waits for the in-flight run.
	syncMu sync.Mutex

	stateMu sync.Mutex
	state   State

	trigger chan struct{}

	subsMu sync.Mutex
	subs   []func(Outcome)
}

// New creates a Reconciler over the two stores.
// If logger is nil, a default logger writing to stderr is used.
func New(recordStore *store.Store, cache *cachefile.Store, logger *log.Logger) *Reconciler {
	if logger == nil {
		logger = log.New(os.Stderr, "[reconcile] ", log.LstdFlags)
	}
	return &Reconciler{
		store:   recordStore,
		cache:   cache,
		logger:  logger,
		state:   State{LastOutcome: Outcome{Status: StatusNever}},
		trigger: make(chan struct{}, 1),
	}
}

// Sync runs one reconciliation and returns its outcome.
//
// Algorithm: fetch the full row set from the record store, compare with the
// cache's current rows, and rewrite the cache only when they differ. The
// rewrite is a single atomic file replacement, so a failed run leaves the
// previous cache content intact.
//
// Sync never returns a Go error; failures are carried in the Outcome and
// reflected in State, because a degraded cache must not fail the caller.
func (r *Reconciler) Sync(ctx context.Context) Outcome {
	r.syncMu.Lock()
	defer r.syncMu.Unlock()

	start := time.Now()
	out := Outcome{Status: StatusFailed}

	target, err := r.store.AllContext(ctx)
	if err != nil {
		out.Reason = ReasonSourceUnavailable
		out.Message = err.Error()
		r.logger.Printf("Sync aborted, record store fetch failed: %v", err)
		return r.finish(out, start)
	}
	out.RecordCount = len(target)

	// Skip the rewrite when the cache already matches; back-to-back runs
	// then leave the file bytes untouched.
	if current, err := r.cache.ReadAll(); err == nil && rowSetsEqual(current, target) {
		out.Status = StatusSuccess
		out.Skipped = true
		return r.finish(out, start)
	}

	if err := r.cache.ReplaceAll(target); err != nil {
		out.Reason = ReasonSinkUnavailable
		out.Message = err.Error()
		r.logger.Printf("Sync failed, cache rewrite failed: %v", err)
		return r.finish(out, start)
	}

	out.Status = StatusSuccess
	r.logger.Printf("Synced %d places to cache in %v", len(target), time.Since(start).Round(time.Millisecond))
	return r.finish(out, start)
}

// Trigger schedules an asynchronous run on the Start loop. Triggers
// arriving while one is already pending are coalesced into it.
func (r *Reconciler) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Start consumes triggers until ctx is cancelled, running at most one
// reconciliation at a time. Blocks; run it in its own goroutine.
func (r *Reconciler) Start(ctx context.Context) error {
	r.logger.Println("Reconciler loop started")
	for {
		select {
		case <-ctx.Done():
			r.logger.Println("Reconciler loop stopped")
			return nil
		case <-r.trigger:
			r.Sync(ctx)
		}
	}
}

// State returns a copy of the current sync metadata.
func (r *Reconciler) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

// Subscribe registers a callback invoked after every run with its outcome.
// Callbacks run on the syncing goroutine and must not block.
func (r *Reconciler) Subscribe(fn func(Outcome)) {
	r.subsMu.Lock()
	defer r.subsMu.Unlock()
	r.subs = append(r.subs, fn)
}

// finish stamps the outcome, updates state, and notifies subscribers.
// Called on every run regardless of outcome.
func (r *Reconciler) finish(out Outcome, start time.Time) Outcome {
	out.Duration = time.Since(start)
	out.CompletedAt = time.Now().UTC()

	r.stateMu.Lock()
	r.state.LastAttemptAt = out.CompletedAt
	r.state.LastOutcome = out
	if out.Status == StatusSuccess {
		r.state.LastSyncAt = out.CompletedAt
		r.state.RecordCount = out.RecordCount
	}
	r.stateMu.Unlock()

	r.subsMu.Lock()
	subs := make([]func(Outcome), len(r.subs))
	copy(subs, r.subs)
	r.subsMu.Unlock()
	for _, fn := range subs {
		fn(out)
	}
	return out
}

// rowSetsEqual compares two id-ordered row sets attribute by attribute.
func rowSetsEqual(a, b []*place.Place) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].EqualRow(b[i]) {
			return false
		}
	}
	return true
}
