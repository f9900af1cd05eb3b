// Package facade is the single seam UI consumers depend on.
//
// Writes always go to the record store and then trigger a cache
// reconciliation; only the record store result decides success. Reads are
// routed by the freshness policy and come back in an identical shape from
// either store, distinguishable only by the served_from_cache flag.
package facade

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/placedex/placedex/internal/cachefile"
	"github.com/placedex/placedex/internal/place"
	"github.com/placedex/placedex/internal/reconcile"
	"github.com/placedex/placedex/internal/store"
)

// Facade exposes create/update/delete, paginated search, and force-sync
// over the record store, the cache, and the reconciler.
type Facade struct {
	store  *store.Store
	cache  *cachefile.Store
	rec    *reconcile.Reconciler
	policy *Policy
	logger *log.Logger

	// knownCount tracks the record store's row count without a store
	// round trip per read: lazily initialized, adjusted on each mutation.
	countMu    sync.Mutex
	knownCount int64
	countInit  bool
}

// New creates a Facade. If logger is nil, a default stderr logger is used.
func New(recordStore *store.Store, cache *cachefile.Store, rec *reconcile.Reconciler, policy *Policy, logger *log.Logger) *Facade {
	if logger == nil {
		logger = log.New(os.Stderr, "[facade] ", log.LstdFlags)
	}
	f := &Facade{
		store:  recordStore,
		cache:  cache,
		rec:    rec,
		policy: policy,
		logger: logger,
	}
	// Every successful sync carries the store's row count; use it to keep
	// the tracked count honest even when mutations bypassed this facade.
	rec.Subscribe(func(out reconcile.Outcome) {
		if out.Status != reconcile.StatusSuccess {
			return
		}
		f.countMu.Lock()
		f.knownCount = int64(out.RecordCount)
		f.countInit = true
		f.countMu.Unlock()
	})
	return f
}

// Create inserts a new place and brings the cache up to date.
//
// When fast mode is on the reconciliation runs synchronously so the next
// cache read sees the new row; otherwise it is queued. Either way a
// reconciliation failure never fails the create.
func (f *Facade) Create(ctx context.Context, fields place.Fields) (*place.Place, error) {
	p, err := f.store.CreateContext(ctx, fields)
	if err != nil {
		return nil, err
	}
	f.adjustKnownCount(+1)
	f.reconcileAfterWrite(ctx)
	return p, nil
}

// Update overwrites an existing place's fields. Same reconciliation
// behavior as Create.
func (f *Facade) Update(ctx context.Context, id string, fields place.Fields) (*place.Place, error) {
	p, err := f.store.UpdateContext(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	f.reconcileAfterWrite(ctx)
	return p, nil
}

// Delete removes a place. Returns false when the id does not exist.
func (f *Facade) Delete(ctx context.Context, id string) (bool, error) {
	deleted, err := f.store.DeleteContext(ctx, id)
	if err != nil {
		return false, err
	}
	if deleted {
		f.adjustKnownCount(-1)
		f.reconcileAfterWrite(ctx)
	}
	return deleted, nil
}

// Get retrieves a single place, always from the record store.
func (f *Facade) Get(ctx context.Context, id string) (*place.Place, error) {
	return f.store.GetContext(ctx, id)
}

// Search runs a paginated query against whichever store the freshness
// policy selects. A degraded cache silently falls back to the record store
// and opportunistically queues a reconciliation; the caller only sees the
// served_from_cache flag change.
func (f *Facade) Search(ctx context.Context, opts place.QueryOptions) (*place.Page, error) {
	if f.policy.FastMode() {
		known, have := f.lastKnownCount(ctx)
		if f.policy.UseCache(f.rec.State(), known, have, func() (int, error) { return f.cache.Count("") }) {
			page, err := f.cache.Query(opts)
			if err == nil {
				return page, nil
			}
			f.logger.Printf("Cache read failed, falling back to record store: %v", err)
		}
		// Stale or unreadable cache: serve from the store now, fix the
		// cache in the background.
		f.rec.Trigger()
	}
	return f.store.QueryContext(ctx, opts)
}

// ForceSync runs a reconciliation immediately and returns its outcome
// verbatim.
func (f *Facade) ForceSync(ctx context.Context) reconcile.Outcome {
	return f.rec.Sync(ctx)
}

// SyncState returns the current sync metadata snapshot, for display only.
func (f *Facade) SyncState() reconcile.State {
	return f.rec.State()
}

// FastMode reports the current fast-mode setting.
func (f *Facade) FastMode() bool {
	return f.policy.FastMode()
}

// SetFastMode toggles fast mode at runtime. Enabling it queues a
// reconciliation so the cache is usable as soon as possible.
func (f *Facade) SetFastMode(on bool) {
	f.policy.SetFastMode(on)
	if on {
		f.rec.Trigger()
	}
}

// reconcileAfterWrite runs the post-mutation sync: synchronous when a
// fast-mode read may follow immediately, queued otherwise.
func (f *Facade) reconcileAfterWrite(ctx context.Context) {
	if f.policy.FastMode() {
		out := f.rec.Sync(ctx)
		if out.Status != reconcile.StatusSuccess {
			f.logger.Printf("Post-write reconciliation failed (%s): %s", out.Reason, out.Message)
		}
		return
	}
	f.rec.Trigger()
}

// lastKnownCount returns the tracked record store row count, initializing
// it from a count query on first use.
func (f *Facade) lastKnownCount(ctx context.Context) (int64, bool) {
	f.countMu.Lock()
	defer f.countMu.Unlock()
	if !f.countInit {
		n, err := f.store.CountContext(ctx, "")
		if err != nil {
			return 0, false
		}
		f.knownCount = int64(n)
		f.countInit = true
	}
	return f.knownCount, true
}

func (f *Facade) adjustKnownCount(delta int64) {
	f.countMu.Lock()
	defer f.countMu.Unlock()
	if f.countInit {
		f.knownCount += delta
	}
}
