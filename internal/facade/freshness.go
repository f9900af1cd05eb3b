package facade

import (
	"sync/atomic"
	"time"

	"github.com/placedex/placedex/internal/reconcile"
)

// Policy decides, per read, whether the spreadsheet cache may serve it.
//
// Fast mode is the externally configured preference for cache reads; the
// policy additionally requires the last sync to have succeeded, the cache
// row count to match the store's last-known count (a cheap staleness check,
// not a full diff), and the last success to be within the staleness
// threshold when one is configured.
type Policy struct {
	fastMode atomic.Bool

	// threshold of 0 means no age limit on a successful sync.
	threshold time.Duration
}

// NewPolicy creates a freshness policy.
func NewPolicy(fastMode bool, threshold time.Duration) *Policy {
	p := &Policy{threshold: threshold}
	p.fastMode.Store(fastMode)
	return p
}

// FastMode reports whether fast mode is currently enabled.
func (p *Policy) FastMode() bool {
	return p.fastMode.Load()
}

// SetFastMode toggles fast mode at runtime.
func (p *Policy) SetFastMode(on bool) {
	p.fastMode.Store(on)
}

// UseCache reports whether a read may be served from the cache.
// cacheCount is only invoked once the cheaper checks pass; any error from
// it (missing or corrupt file) disqualifies the cache.
func (p *Policy) UseCache(st reconcile.State, knownStoreCount int64, haveKnownCount bool, cacheCount func() (int, error)) bool {
	if !p.fastMode.Load() {
		return false
	}
	if st.LastOutcome.Status != reconcile.StatusSuccess {
		return false
	}
	if p.threshold > 0 && time.Since(st.LastSyncAt) > p.threshold {
		return false
	}
	if !haveKnownCount {
		return false
	}
	n, err := cacheCount()
	if err != nil {
		return false
	}
	return int64(n) == knownStoreCount
}
