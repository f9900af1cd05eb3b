package place

import "errors"

// Error taxonomy shared by both store adapters and the facade.
//
// Record store failures (ErrStoreUnavailable, ErrNotFound,
// ErrConstraintViolation) propagate to facade callers unmodified. Cache
// failures (ErrCacheUnavailable, ErrCacheWriteFailed) are contained inside
// the reconciler/freshness layer and at worst degrade read freshness.
var (
	// ErrNotFound means an operation referenced a nonexistent place id.
	ErrNotFound = errors.New("place not found")

	// ErrStoreUnavailable means the record store could not be reached or
	// timed out. Retryable from the caller's side; the core does not retry.
	ErrStoreUnavailable = errors.New("record store unavailable")

	// ErrConstraintViolation means the record store rejected a write due to
	// a structural rule. The wrapped message names the violated field.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrCacheUnavailable means the cache file could not be read (missing,
	// corrupt, unparseable). Callers treat this identically to a stale cache.
	ErrCacheUnavailable = errors.New("cache file unavailable")

	// ErrCacheWriteFailed means the cache file could not be rewritten.
	// Never user-visible; surfaces only through the sync state.
	ErrCacheWriteFailed = errors.New("cache file write failed")
)
