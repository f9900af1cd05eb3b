package cachefile

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/placedex/placedex/internal/place"
)

func testCache(t *testing.T) *Store {
	t.Helper()
	return New(DefaultConfig(filepath.Join(t.TempDir(), "places.xlsx")))
}

func testPlace(id, name string) *place.Place {
	now := time.Now().UTC().Truncate(time.Second)
	return &place.Place{
		ID:        id,
		Latitude:  48.8566,
		Longitude: 2.3522,
		Types:     "restaurant,bistro",
		Name:      name,
		Address:   "5 Rue Example",
		Pincode:   "750001",
		Rating:    4.5,
		Followers: 320,
		Country:   "France",
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestReplaceAllAndReadAll(t *testing.T) {
	c := testCache(t)

	want := []*place.Place{
		testPlace("a1", "First"),
		testPlace("b2", "Second"),
		testPlace("c3", "Third"),
	}
	if err := c.ReplaceAll(want); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != len(want) {
		t.Fatalf("expected %d rows, got %d", len(want), len(got))
	}
	for i := range want {
		if !got[i].EqualRow(want[i]) {
			t.Errorf("row %d mismatch:\n got  %+v\n want %+v", i, got[i], want[i])
		}
	}
}

func TestTimestampsSurviveRoundTrip(t *testing.T) {
	c := testCache(t)

	p := testPlace("x", "Zoned")
	// A zoned timestamp should come back as the same instant, zone dropped.
	loc := time.FixedZone("IST", 5*3600+1800)
	p.CreatedAt = time.Date(2026, 3, 15, 10, 30, 0, 0, loc)
	p.UpdatedAt = p.CreatedAt

	if err := c.ReplaceAll([]*place.Place{p}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}

	wantUTC := p.CreatedAt.UTC()
	if !got[0].CreatedAt.Equal(wantUTC) {
		t.Errorf("created_at drifted: got %v, want %v", got[0].CreatedAt, wantUTC)
	}
	if got[0].CreatedAt.Location() != time.UTC {
		t.Errorf("expected UTC location after round trip, got %v", got[0].CreatedAt.Location())
	}
}

func TestReplaceAllEmpty(t *testing.T) {
	c := testCache(t)

	if err := c.ReplaceAll(nil); err != nil {
		t.Fatalf("ReplaceAll with no rows failed: %v", err)
	}
	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected empty row set, got %d rows", len(got))
	}
}

func TestReplaceAllOverwrites(t *testing.T) {
	c := testCache(t)

	if err := c.ReplaceAll([]*place.Place{testPlace("a", "Old"), testPlace("b", "Old")}); err != nil {
		t.Fatalf("first ReplaceAll failed: %v", err)
	}
	if err := c.ReplaceAll([]*place.Place{testPlace("c", "New")}); err != nil {
		t.Fatalf("second ReplaceAll failed: %v", err)
	}

	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != "c" {
		t.Errorf("stale rows survived the rewrite: %+v", got)
	}
}

func TestReadAllMissingFile(t *testing.T) {
	c := testCache(t)

	if _, err := c.ReadAll(); !errors.Is(err, place.ErrCacheUnavailable) {
		t.Errorf("expected ErrCacheUnavailable for missing file, got %v", err)
	}
}

func TestReadAllCorruptFile(t *testing.T) {
	c := testCache(t)

	if err := os.WriteFile(c.Path(), []byte("this is not a workbook"), 0644); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	if _, err := c.ReadAll(); !errors.Is(err, place.ErrCacheUnavailable) {
		t.Errorf("expected ErrCacheUnavailable for corrupt file, got %v", err)
	}
}

func TestReplaceAllFailureKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	c := New(DefaultConfig(filepath.Join(dir, "places.xlsx")))

	if err := c.ReplaceAll([]*place.Place{testPlace("keep", "Keeper")}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	// Occupy the temp file path with a directory so the rewrite cannot
	// stage its new content.
	if err := os.Mkdir(c.Path()+".tmp", 0755); err != nil {
		t.Fatalf("Mkdir failed: %v", err)
	}
	defer os.Remove(c.Path() + ".tmp")

	err := c.ReplaceAll([]*place.Place{testPlace("new", "Lost")})
	if !errors.Is(err, place.ErrCacheWriteFailed) {
		t.Fatalf("expected ErrCacheWriteFailed, got %v", err)
	}

	got, err := c.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll after failed rewrite: %v", err)
	}
	if len(got) != 1 || got[0].ID != "keep" {
		t.Errorf("previous content lost after failed rewrite: %+v", got)
	}
}

func TestWriterLockTimeout(t *testing.T) {
	c := New(Config{
		Path:        filepath.Join(t.TempDir(), "places.xlsx"),
		LockTimeout: 50 * time.Millisecond,
	})

	// Steal the writer lock so ReplaceAll cannot acquire it.
	<-c.writeLock
	defer func() { c.writeLock <- struct{}{} }()

	err := c.ReplaceAll([]*place.Place{testPlace("a", "Blocked")})
	if !errors.Is(err, place.ErrCacheWriteFailed) {
		t.Errorf("expected ErrCacheWriteFailed on lock timeout, got %v", err)
	}
}

func TestQueryContract(t *testing.T) {
	c := testCache(t)

	rows := []*place.Place{
		testPlace("1", "Alpha Cafe"),
		testPlace("2", "Bravo Bar"),
		testPlace("3", "alpha annex"),
	}
	rows[1].Types = "bar"
	if err := c.ReplaceAll(rows); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	page, err := c.Query(place.QueryOptions{Search: "ALPHA", SortBy: "name"})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !page.ServedFromCache {
		t.Error("expected ServedFromCache=true")
	}
	if page.TotalCount != 2 {
		t.Fatalf("expected 2 matches, got %d", page.TotalCount)
	}
	if page.Places[0].Name != "Alpha Cafe" || page.Places[1].Name != "alpha annex" {
		t.Errorf("unexpected order: %q, %q", page.Places[0].Name, page.Places[1].Name)
	}
}

func TestQueryPagePastEnd(t *testing.T) {
	c := testCache(t)

	if err := c.ReplaceAll([]*place.Place{testPlace("only", "Only")}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	page, err := c.Query(place.QueryOptions{Page: 5, PageSize: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(page.Places) != 0 || page.TotalCount != 1 {
		t.Errorf("expected empty page with total 1, got %d rows total %d", len(page.Places), page.TotalCount)
	}
}

func TestQueryTiebreakMatchesStoreOrder(t *testing.T) {
	c := testCache(t)

	rows := []*place.Place{
		testPlace("z", "Same"),
		testPlace("a", "Same"),
		testPlace("m", "Same"),
	}
	if err := c.ReplaceAll(rows); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	page, err := c.Query(place.QueryOptions{SortBy: "name", PageSize: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	want := []string{"a", "m", "z"}
	for i, p := range page.Places {
		if p.ID != want[i] {
			t.Errorf("position %d: got id %q, want %q", i, p.ID, want[i])
		}
	}

	page, err = c.Query(place.QueryOptions{SortBy: "name", Descending: true, PageSize: 10})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	for i, p := range page.Places {
		if p.ID != want[i] {
			t.Errorf("descending position %d: got id %q, want %q (id tiebreak stays ascending)", i, p.ID, want[i])
		}
	}
}

func TestCount(t *testing.T) {
	c := testCache(t)

	if err := c.ReplaceAll([]*place.Place{testPlace("1", "Cafe One"), testPlace("2", "Garage")}); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}

	n, err := c.Count("cafe one")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 1 {
		t.Errorf("expected 1 match, got %d", n)
	}
	n, err = c.Count("")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 rows, got %d", n)
	}
}

func TestBackupsRotate(t *testing.T) {
	dir := t.TempDir()
	cfg := DefaultConfig(filepath.Join(dir, "places.xlsx"))
	cfg.BackupCount = 2
	c := New(cfg)

	for i := 0; i < 4; i++ {
		if err := c.ReplaceAll([]*place.Place{testPlace("a", "Rotating")}); err != nil {
			t.Fatalf("ReplaceAll %d failed: %v", i, err)
		}
	}

	entries, err := os.ReadDir(filepath.Join(dir, "backups"))
	if err != nil {
		t.Fatalf("ReadDir failed: %v", err)
	}
	// Three rewrites had a previous file to back up; only two copies kept.
	if len(entries) != 2 {
		t.Errorf("expected 2 backups after pruning, got %d", len(entries))
	}
}

func TestLastWriteAt(t *testing.T) {
	c := testCache(t)

	if !c.LastWriteAt().IsZero() {
		t.Error("expected zero LastWriteAt before any write")
	}
	before := time.Now()
	if err := c.ReplaceAll(nil); err != nil {
		t.Fatalf("ReplaceAll failed: %v", err)
	}
	if c.LastWriteAt().Before(before) {
		t.Error("LastWriteAt not updated by ReplaceAll")
	}
}
