package reconcile

import (
	"context"
	"crypto/sha256"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/placedex/placedex/internal/cachefile"
	"github.com/placedex/placedex/internal/place"
	"github.com/placedex/placedex/internal/store"
)

func testStores(t *testing.T) (*store.Store, *cachefile.Store) {
	t.Helper()
	dir := t.TempDir()

	s, err := store.Open(filepath.Join(dir, "places.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	if err := s.InitSchema(); err != nil {
		t.Fatalf("InitSchema failed: %v", err)
	}

	cfg := cachefile.DefaultConfig(filepath.Join(dir, "places.xlsx"))
	cfg.BackupCount = 0
	return s, cachefile.New(cfg)
}

func seed(t *testing.T, s *store.Store, names ...string) []*place.Place {
	t.Helper()
	var out []*place.Place
	for _, n := range names {
		p, err := s.Create(place.Fields{
			Name:    n,
			Address: "1 Test Way",
			Types:   "poi",
			Pincode: "110001",
		})
		if err != nil {
			t.Fatalf("Create %s failed: %v", n, err)
		}
		out = append(out, p)
	}
	return out
}

func fileDigest(t *testing.T, path string) [sha256.Size]byte {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	return sha256.Sum256(data)
}

func TestSyncConverges(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "One", "Two", "Three")

	out := r.Sync(context.Background())
	if out.Status != StatusSuccess {
		t.Fatalf("expected success, got %+v", out)
	}
	if out.RecordCount != 3 {
		t.Errorf("expected record count 3, got %d", out.RecordCount)
	}
	if out.Skipped {
		t.Error("first sync into an empty cache must rewrite")
	}

	want, err := s.All()
	if err != nil {
		t.Fatalf("All failed: %v", err)
	}
	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if !rowSetsEqual(got, want) {
		t.Errorf("cache does not match store after sync:\n cache %+v\n store %+v", got, want)
	}
}

func TestSyncIdempotent(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "Stable")

	if out := r.Sync(context.Background()); out.Status != StatusSuccess {
		t.Fatalf("first sync failed: %+v", out)
	}
	digest := fileDigest(t, c.Path())

	out := r.Sync(context.Background())
	if out.Status != StatusSuccess {
		t.Fatalf("second sync failed: %+v", out)
	}
	if !out.Skipped {
		t.Error("expected second sync to skip the rewrite")
	}
	if fileDigest(t, c.Path()) != digest {
		t.Error("file bytes changed on a no-op sync")
	}
}

func TestSyncErasesOutOfBandEdits(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "Authoritative")

	if out := r.Sync(context.Background()); out.Status != StatusSuccess {
		t.Fatalf("sync failed: %+v", out)
	}

	// Simulate a spreadsheet edit that adds a row behind our back.
	rogue, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	extra := *rogue[0]
	extra.ID = "zz-rogue"
	extra.Name = "Edited By Hand"
	if err := c.ReplaceAll(append(rogue, &extra)); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	out := r.Sync(context.Background())
	if out.Status != StatusSuccess || out.Skipped {
		t.Fatalf("expected a rewriting sync, got %+v", out)
	}

	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].Name != "Authoritative" {
		t.Errorf("out-of-band edit survived the sync: %+v", got)
	}
}

func TestSyncSourceUnavailable(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "Preexisting")

	if out := r.Sync(context.Background()); out.Status != StatusSuccess {
		t.Fatalf("seed sync failed: %+v", out)
	}
	digest := fileDigest(t, c.Path())

	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	out := r.Sync(context.Background())
	if out.Status != StatusFailed {
		t.Fatalf("expected failure, got %+v", out)
	}
	if out.Reason != ReasonSourceUnavailable {
		t.Errorf("expected source-unavailable, got %q", out.Reason)
	}
	if fileDigest(t, c.Path()) != digest {
		t.Error("failed sync modified the cache file")
	}
}

func TestSyncSinkUnavailable(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "Row")

	// Block the rewrite by occupying the temp file path with a directory.
	if err := os.Mkdir(c.Path()+".tmp", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	defer os.Remove(c.Path() + ".tmp")

	out := r.Sync(context.Background())
	if out.Status != StatusFailed {
		t.Fatalf("expected failure, got %+v", out)
	}
	if out.Reason != ReasonSinkUnavailable {
		t.Errorf("expected sink-unavailable, got %q", out.Reason)
	}
}

func TestStateTracksOutcomes(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)

	st := r.State()
	if st.LastOutcome.Status != StatusNever {
		t.Errorf("expected never_synced before first run, got %q", st.LastOutcome.Status)
	}
	if !st.LastSyncAt.IsZero() {
		t.Error("expected zero LastSyncAt before first run")
	}

	seed(t, s, "A", "B")
	out := r.Sync(context.Background())
	if out.Status != StatusSuccess {
		t.Fatalf("sync failed: %+v", out)
	}

	st = r.State()
	if st.LastOutcome.Status != StatusSuccess {
		t.Errorf("expected success recorded, got %q", st.LastOutcome.Status)
	}
	if st.RecordCount != 2 {
		t.Errorf("expected record count 2, got %d", st.RecordCount)
	}
	if st.LastSyncAt.IsZero() || st.LastAttemptAt.IsZero() {
		t.Error("expected sync timestamps to be set")
	}

	// A failed run updates the attempt but preserves the last success.
	lastSync := st.LastSyncAt
	_ = s.Close()
	out = r.Sync(context.Background())
	if out.Status != StatusFailed {
		t.Fatalf("expected failure after close, got %+v", out)
	}
	st = r.State()
	if !st.LastSyncAt.Equal(lastSync) {
		t.Error("failed run moved LastSyncAt")
	}
	if st.RecordCount != 2 {
		t.Errorf("failed run changed RecordCount to %d", st.RecordCount)
	}
	if st.LastOutcome.Status != StatusFailed {
		t.Errorf("expected failed outcome recorded, got %q", st.LastOutcome.Status)
	}
}

func TestSubscribersNotified(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "X")

	var got []Outcome
	r.Subscribe(func(out Outcome) { got = append(got, out) })

	r.Sync(context.Background())
	r.Sync(context.Background())

	if len(got) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(got))
	}
	if got[0].Skipped || !got[1].Skipped {
		t.Errorf("expected rewrite then skip, got %+v", got)
	}
}

func TestTriggerCoalesces(t *testing.T) {
	s, c := testStores(t)
	r := New(s, c, nil)
	seed(t, s, "T")

	// Many triggers before the loop starts collapse into one pending run.
	for i := 0; i < 10; i++ {
		r.Trigger()
	}

	var runs int
	r.Subscribe(func(Outcome) { runs++ })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = r.Start(ctx)
		close(done)
	}()

	deadline := time.After(5 * time.Second)
	for {
		st := r.State()
		if st.LastOutcome.Status == StatusSuccess {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for triggered sync")
		case <-time.After(10 * time.Millisecond):
		}
	}
	cancel()
	<-done

	if runs != 1 {
		t.Errorf("expected 1 coalesced run, got %d", runs)
	}
}
