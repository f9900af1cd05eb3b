// Package cachefile provides the spreadsheet-backed read cache for places.
//
// The whole workbook is the unit of consistency: every write rewrites the
// complete row set to a temp file and renames it over the target, because
// the format has no durable append or random-write semantics. Readers never
// observe a half-written file.
//
// The backing format cannot represent timezones, so timestamps are
// UTC-normalized and written naive; reads parse them back as the same
// absolute instant with the zone discarded. That conversion is deliberate,
// lossy, and confined to this package.
package cachefile

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/placedex/placedex/internal/place"
)

// naiveLayout is the zone-less timestamp format stored in cells.
const naiveLayout = "2006-01-02 15:04:05"

// Columns is the header row, one column per Place attribute.
var Columns = []string{
	"id", "latitude", "longitude", "types", "name", "address", "pincode",
	"rating", "followers", "country", "created_at", "updated_at",
}

// Config holds cache file settings.
type Config struct {
	// Path to the workbook file.
	Path string

	// Sheet name holding the rows (default "Places").
	Sheet string

	// BackupCount is how many timestamped copies of the previous file to
	// keep next to it (0 disables backups).
	BackupCount int

	// LockTimeout bounds the wait for the single-writer lock.
	LockTimeout time.Duration
}

// DefaultConfig returns sensible defaults for the given file path.
func DefaultConfig(path string) Config {
	return Config{
		Path:        path,
		Sheet:       "Places",
		BackupCount: 5,
		LockTimeout: 10 * time.Second,
	}
}

// Store is the cache file adapter. It is safe for concurrent use; writes
// are serialized by a single-writer lock and reads go against the last
// fully-written version of the file.
type Store struct {
	cfg Config

	writeLock chan struct{}

	mu          sync.Mutex
	lastWriteAt time.Time
}

// New creates a cache file store. The file itself is created on the first
// ReplaceAll; a missing file reads as ErrCacheUnavailable until then.
func New(cfg Config) *Store {
	if cfg.Sheet == "" {
		cfg.Sheet = "Places"
	}
	if cfg.LockTimeout <= 0 {
		cfg.LockTimeout = 10 * time.Second
	}
	lock := make(chan struct{}, 1)
	lock <- struct{}{}
	return &Store{cfg: cfg, writeLock: lock}
}

// Path returns the workbook file path.
func (s *Store) Path() string {
	return s.cfg.Path
}

// LastWriteAt reports when this process last rewrote the file successfully.
// Used to tell our own filesystem events apart from out-of-band edits.
func (s *Store) LastWriteAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWriteAt
}

// ReplaceAll atomically rewrites the workbook to contain exactly the given
// row set. Returns place.ErrCacheWriteFailed on any failure, leaving the
// previous file content untouched.
func (s *Store) ReplaceAll(places []*place.Place) error {
	select {
	case <-s.writeLock:
		defer func() { s.writeLock <- struct{}{} }()
	case <-time.After(s.cfg.LockTimeout):
		return fmt.Errorf("%w: timed out waiting for writer lock", place.ErrCacheWriteFailed)
	}

	dir := filepath.Dir(s.cfg.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), s.cfg.Sheet); err != nil {
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}

	header := make([]interface{}, len(Columns))
	for i, c := range Columns {
		header[i] = c
	}
	if err := f.SetSheetRow(s.cfg.Sheet, "A1", &header); err != nil {
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}

	for i, p := range places {
		cell, _ := excelize.CoordinatesToCellName(1, i+2)
		row := []interface{}{
			p.ID,
			p.Latitude,
			p.Longitude,
			p.Types,
			p.Name,
			p.Address,
			p.Pincode,
			p.Rating,
			p.Followers,
			p.Country,
			place.NaiveTime(p.CreatedAt).Format(naiveLayout),
			place.NaiveTime(p.UpdatedAt).Format(naiveLayout),
		}
		if err := f.SetSheetRow(s.cfg.Sheet, cell, &row); err != nil {
			return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
		}
	}

	// Stream into the temp file ourselves: SaveAs refuses paths without a
	// workbook extension, and the staging name must not look like one.
	tmp := s.cfg.Path + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}
	if err := f.Write(out); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}

	if err := s.backupCurrent(); err != nil {
		// Backup failure is not fatal to the rewrite
		fmt.Fprintf(os.Stderr, "Warning: cache backup failed: %v\n", err)
	}

	if err := os.Rename(tmp, s.cfg.Path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("%w: %v", place.ErrCacheWriteFailed, err)
	}

	s.mu.Lock()
	s.lastWriteAt = time.Now()
	s.mu.Unlock()
	return nil
}

// ReadAll returns every row in the workbook, ordered by id ascending.
// A missing, corrupt, or unparseable file yields place.ErrCacheUnavailable;
// callers treat that identically to a stale cache.
func (s *Store) ReadAll() ([]*place.Place, error) {
	f, err := excelize.OpenFile(s.cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", place.ErrCacheUnavailable, err)
	}
	defer f.Close()

	rows, err := f.GetRows(s.cfg.Sheet)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", place.ErrCacheUnavailable, err)
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("%w: missing header row", place.ErrCacheUnavailable)
	}
	if err := checkHeader(rows[0]); err != nil {
		return nil, err
	}

	places := make([]*place.Place, 0, len(rows)-1)
	for i, row := range rows[1:] {
		p, err := parseRow(row)
		if err != nil {
			return nil, fmt.Errorf("%w: row %d: %v", place.ErrCacheUnavailable, i+2, err)
		}
		places = append(places, p)
	}

	sort.Slice(places, func(i, j int) bool { return places[i].ID < places[j].ID })
	return places, nil
}

// Count returns the number of rows matching the filter.
func (s *Store) Count(filter string) (int, error) {
	all, err := s.ReadAll()
	if err != nil {
		return 0, err
	}
	return len(filterPlaces(all, filter)), nil
}

// Query runs a paginated search over the cached rows with the same
// contract as the record store adapter: case-insensitive substring filter
// over name/types/address, single sort column with id-ascending tiebreak,
// 1-indexed pages, and an empty page with correct total past the end.
func (s *Store) Query(opts place.QueryOptions) (*place.Page, error) {
	opts.Normalize()

	all, err := s.ReadAll()
	if err != nil {
		return nil, err
	}

	matched := filterPlaces(all, opts.Search)
	sortPlaces(matched, opts.SortBy, opts.Descending)

	page := &place.Page{
		Places:          []*place.Place{},
		TotalCount:      len(matched),
		PageNum:         opts.Page,
		PageSize:        opts.PageSize,
		ServedFromCache: true,
	}

	start := (opts.Page - 1) * opts.PageSize
	if start >= len(matched) {
		return page, nil
	}
	end := start + opts.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page.Places = matched[start:end]
	return page, nil
}

// backupCurrent copies the existing workbook into backups/ before it is
// replaced, pruning old copies beyond the configured count.
func (s *Store) backupCurrent() error {
	if s.cfg.BackupCount <= 0 {
		return nil
	}
	if _, err := os.Stat(s.cfg.Path); os.IsNotExist(err) {
		return nil
	}

	backupDir := filepath.Join(filepath.Dir(s.cfg.Path), "backups")
	if err := os.MkdirAll(backupDir, 0755); err != nil {
		return err
	}

	name := fmt.Sprintf("places-%d.xlsx", time.Now().UnixNano())
	if err := copyFile(s.cfg.Path, filepath.Join(backupDir, name)); err != nil {
		return err
	}

	return pruneBackups(backupDir, s.cfg.BackupCount)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

func pruneBackups(dir string, keep int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "places-") && strings.HasSuffix(e.Name(), ".xlsx") {
			names = append(names, e.Name())
		}
	}
	if len(names) <= keep {
		return nil
	}
	// Nanosecond-stamped names sort oldest first
	sort.Strings(names)
	for _, name := range names[:len(names)-keep] {
		if err := os.Remove(filepath.Join(dir, name)); err != nil {
			return err
		}
	}
	return nil
}

func checkHeader(header []string) error {
	if len(header) < len(Columns) {
		return fmt.Errorf("%w: malformed header (%d columns)", place.ErrCacheUnavailable, len(header))
	}
	for i, want := range Columns {
		if !strings.EqualFold(strings.TrimSpace(header[i]), want) {
			return fmt.Errorf("%w: unexpected header column %q (want %q)", place.ErrCacheUnavailable, header[i], want)
		}
	}
	return nil
}

// parseRow converts a sheet row back into a Place. Rows shorter than the
// column set are padded with empty cells (excelize trims trailing blanks).
func parseRow(row []string) (*place.Place, error) {
	cells := make([]string, len(Columns))
	copy(cells, row)

	lat, err := strconv.ParseFloat(strings.TrimSpace(cells[1]), 64)
	if err != nil {
		return nil, fmt.Errorf("bad latitude %q", cells[1])
	}
	lon, err := strconv.ParseFloat(strings.TrimSpace(cells[2]), 64)
	if err != nil {
		return nil, fmt.Errorf("bad longitude %q", cells[2])
	}
	rating, err := parseOptionalFloat(cells[7])
	if err != nil {
		return nil, fmt.Errorf("bad rating %q", cells[7])
	}
	followers, err := parseOptionalFloat(cells[8])
	if err != nil {
		return nil, fmt.Errorf("bad followers %q", cells[8])
	}
	createdAt, err := parseNaiveTime(cells[10])
	if err != nil {
		return nil, fmt.Errorf("bad created_at %q", cells[10])
	}
	updatedAt, err := parseNaiveTime(cells[11])
	if err != nil {
		return nil, fmt.Errorf("bad updated_at %q", cells[11])
	}

	return &place.Place{
		ID:        cells[0],
		Latitude:  lat,
		Longitude: lon,
		Types:     cells[3],
		Name:      cells[4],
		Address:   cells[5],
		Pincode:   cells[6],
		Rating:    rating,
		Followers: followers,
		Country:   cells[9],
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}, nil
}

func parseOptionalFloat(s string) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	return strconv.ParseFloat(s, 64)
}

// parseNaiveTime reads a zone-less cell as UTC.
func parseNaiveTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	return time.Parse(naiveLayout, s)
}

// filterPlaces folds with place.FoldASCII, not strings.ToLower, so the
// match set is identical to the record store's LOWER()-based LIKE.
func filterPlaces(places []*place.Place, filter string) []*place.Place {
	filter = place.FoldASCII(strings.TrimSpace(filter))
	if filter == "" {
		return places
	}
	var out []*place.Place
	for _, p := range places {
		if strings.Contains(place.FoldASCII(p.Name), filter) ||
			strings.Contains(place.FoldASCII(p.Types), filter) ||
			strings.Contains(place.FoldASCII(p.Address), filter) {
			out = append(out, p)
		}
	}
	return out
}

// sortPlaces orders by the given column with id ascending as tiebreak,
// mirroring the record store's ORDER BY.
func sortPlaces(places []*place.Place, column string, descending bool) {
	less := lessFunc(column)
	sort.Slice(places, func(i, j int) bool {
		a, b := places[i], places[j]
		if less(a, b) {
			return !descending
		}
		if less(b, a) {
			return descending
		}
		return a.ID < b.ID
	})
}

func lessFunc(column string) func(a, b *place.Place) bool {
	switch column {
	case "name":
		return func(a, b *place.Place) bool { return a.Name < b.Name }
	case "types":
		return func(a, b *place.Place) bool { return a.Types < b.Types }
	case "address":
		return func(a, b *place.Place) bool { return a.Address < b.Address }
	case "pincode":
		return func(a, b *place.Place) bool { return a.Pincode < b.Pincode }
	case "latitude":
		return func(a, b *place.Place) bool { return a.Latitude < b.Latitude }
	case "longitude":
		return func(a, b *place.Place) bool { return a.Longitude < b.Longitude }
	case "rating":
		return func(a, b *place.Place) bool { return a.Rating < b.Rating }
	case "followers":
		return func(a, b *place.Place) bool { return a.Followers < b.Followers }
	case "country":
		return func(a, b *place.Place) bool { return a.Country < b.Country }
	case "created_at":
		return func(a, b *place.Place) bool { return a.CreatedAt.Before(b.CreatedAt) }
	case "updated_at":
		return func(a, b *place.Place) bool { return a.UpdatedAt.Before(b.UpdatedAt) }
	default:
		return func(a, b *place.Place) bool { return a.ID < b.ID }
	}
}
