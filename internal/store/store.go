// Package store provides the authoritative SQLite record store for places.
//
// The database runs embedded (ncruces/go-sqlite3) with WAL mode for
// concurrent reads. Every row here is the single source of truth; the
// spreadsheet cache is a derived projection maintained by the reconciler.
//
// All operations have a bounded wait: a per-operation timeout is applied on
// top of the caller's context, and a timed-out or closed connection surfaces
// as place.ErrStoreUnavailable rather than hanging.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"github.com/placedex/placedex/internal/place"
)

// DefaultOpTimeout bounds a single statement when the caller's context
// carries no deadline of its own.
const DefaultOpTimeout = 10 * time.Second

// Store wraps the SQLite connection with place-specific operations.
type Store struct {
	db        *sql.DB
	path      string
	opTimeout time.Duration
}

// Open creates a connection to the database at path, creating the file and
// its parent directory if needed.
//
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	return OpenWithTimeout(path, DefaultOpTimeout)
}

// OpenWithTimeout opens the database with a custom per-operation timeout.
func OpenWithTimeout(path string, opTimeout time.Duration) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", "file:"+path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: %v", place.ErrStoreUnavailable, err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{db: conn, path: path, opTimeout: opTimeout}

	// WAL for concurrent reads during writes
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return s, nil
}

// Close closes the database connection after checkpointing the WAL.
// Any operation issued after Close fails with place.ErrStoreUnavailable.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}
	err := s.db.Close()
	s.db = nil
	if err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// InitSchema creates the places table and its indexes. Idempotent.
func (s *Store) InitSchema() error {
	return s.InitSchemaContext(context.Background())
}

// InitSchemaContext creates the schema with context support.
func (s *Store) InitSchemaContext(ctx context.Context) error {
	conn, err := s.conn()
	if err != nil {
		return err
	}

	schema := `
	CREATE TABLE IF NOT EXISTS places (
		id TEXT PRIMARY KEY,
		latitude REAL NOT NULL,
		longitude REAL NOT NULL,
		types TEXT NOT NULL,
		name TEXT NOT NULL,
		address TEXT NOT NULL,
		pincode TEXT NOT NULL,
		rating REAL NOT NULL DEFAULT 0,
		followers REAL NOT NULL DEFAULT 0,
		country TEXT NOT NULL DEFAULT 'Unknown',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_places_name ON places(name);
	CREATE INDEX IF NOT EXISTS idx_places_types ON places(types);
	CREATE INDEX IF NOT EXISTS idx_places_pincode ON places(pincode);
	CREATE INDEX IF NOT EXISTS idx_places_created_at ON places(created_at);
	CREATE INDEX IF NOT EXISTS idx_places_coordinates ON places(latitude, longitude);
	`

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	if _, err := conn.ExecContext(ctx, schema); err != nil {
		return s.wrap("failed to initialize schema", err)
	}
	return nil
}

// Create inserts a new place, assigning its id and both timestamps.
//
// The insert either fully succeeds or leaves no partial row. Timestamps are
// UTC at second precision so the row compares equal after a cache round trip.
func (s *Store) Create(fields place.Fields) (*place.Place, error) {
	return s.CreateContext(context.Background(), fields)
}

// CreateContext inserts a new place with context support.
func (s *Store) CreateContext(ctx context.Context, fields place.Fields) (*place.Place, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	fields.SetDefaults()
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	now := time.Now().UTC().Truncate(time.Second)
	p := &place.Place{
		ID:        uuid.NewString(),
		Latitude:  fields.Latitude,
		Longitude: fields.Longitude,
		Types:     fields.Types,
		Name:      fields.Name,
		Address:   fields.Address,
		Pincode:   fields.Pincode,
		Rating:    fields.Rating,
		Followers: fields.Followers,
		Country:   fields.Country,
		CreatedAt: now,
		UpdatedAt: now,
	}

	query := `
	INSERT INTO places (
		id, latitude, longitude, types, name, address, pincode,
		rating, followers, country, created_at, updated_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	_, err = conn.ExecContext(ctx, query,
		p.ID, p.Latitude, p.Longitude, p.Types, p.Name, p.Address, p.Pincode,
		p.Rating, p.Followers, p.Country,
		p.CreatedAt.Format(time.RFC3339), p.UpdatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return nil, s.wrap("failed to insert place", err)
	}
	return p, nil
}

// Update overwrites the mutable fields of an existing place and bumps its
// updated timestamp. Returns place.ErrNotFound for a missing id.
func (s *Store) Update(id string, fields place.Fields) (*place.Place, error) {
	return s.UpdateContext(context.Background(), id, fields)
}

// UpdateContext updates a place with context support.
func (s *Store) UpdateContext(ctx context.Context, id string, fields place.Fields) (*place.Place, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	fields.SetDefaults()
	if err := fields.Validate(); err != nil {
		return nil, err
	}

	query := `
	UPDATE places SET
		latitude = ?, longitude = ?, types = ?, name = ?, address = ?,
		pincode = ?, rating = ?, followers = ?, country = ?, updated_at = ?
	WHERE id = ?
	`

	updatedAt := time.Now().UTC().Truncate(time.Second)

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := conn.ExecContext(ctx, query,
		fields.Latitude, fields.Longitude, fields.Types, fields.Name, fields.Address,
		fields.Pincode, fields.Rating, fields.Followers, fields.Country,
		updatedAt.Format(time.RFC3339), id,
	)
	if err != nil {
		return nil, s.wrap("failed to update place", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, s.wrap("failed to update place", err)
	}
	if affected == 0 {
		return nil, fmt.Errorf("%w: %s", place.ErrNotFound, id)
	}
	return s.GetContext(ctx, id)
}

// Delete removes a place. Returns false (and no error) when the id does
// not exist; this is a hard delete with no tombstone.
func (s *Store) Delete(id string) (bool, error) {
	return s.DeleteContext(context.Background(), id)
}

// DeleteContext removes a place with context support.
func (s *Store) DeleteContext(ctx context.Context, id string) (bool, error) {
	conn, err := s.conn()
	if err != nil {
		return false, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := conn.ExecContext(ctx, "DELETE FROM places WHERE id = ?", id)
	if err != nil {
		return false, s.wrap("failed to delete place", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, s.wrap("failed to delete place", err)
	}
	return affected > 0, nil
}

// Get retrieves a single place by id. Returns place.ErrNotFound if missing.
func (s *Store) Get(id string) (*place.Place, error) {
	return s.GetContext(context.Background(), id)
}

// GetContext retrieves a single place with context support.
func (s *Store) GetContext(ctx context.Context, id string) (*place.Place, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	row := conn.QueryRowContext(ctx, selectColumns+" FROM places WHERE id = ?", id)
	p, err := scanPlaceRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", place.ErrNotFound, id)
	}
	if err != nil {
		return nil, s.wrap("failed to get place", err)
	}
	return p, nil
}

// All returns the full row set ordered by id, for the reconciler.
func (s *Store) All() ([]*place.Place, error) {
	return s.AllContext(context.Background())
}

// AllContext returns the full row set with context support.
func (s *Store) AllContext(ctx context.Context) ([]*place.Place, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := conn.QueryContext(ctx, selectColumns+" FROM places ORDER BY id ASC")
	if err != nil {
		return nil, s.wrap("failed to query all places", err)
	}
	defer rows.Close()

	return scanPlaces(rows)
}

// Count returns the number of places matching the filter (all rows when
// the filter is empty).
func (s *Store) Count(filter string) (int, error) {
	return s.CountContext(context.Background(), filter)
}

// CountContext counts matching places with context support.
func (s *Store) CountContext(ctx context.Context, filter string) (int, error) {
	conn, err := s.conn()
	if err != nil {
		return 0, err
	}

	where, args := searchClause(filter)

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var count int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM places"+where, args...).Scan(&count); err != nil {
		return 0, s.wrap("failed to count places", err)
	}
	return count, nil
}

// Query runs a paginated search over the places table.
//
// The filter is a case-insensitive substring match over name, types, and
// address. Sorting is by a single whitelisted column with id ascending as
// tiebreak, so identical-key rows paginate deterministically. A page past
// the end returns an empty slice with the correct total count.
func (s *Store) Query(opts place.QueryOptions) (*place.Page, error) {
	return s.QueryContext(context.Background(), opts)
}

// QueryContext runs a paginated search with context support.
func (s *Store) QueryContext(ctx context.Context, opts place.QueryOptions) (*place.Page, error) {
	conn, err := s.conn()
	if err != nil {
		return nil, err
	}
	opts.Normalize()

	where, args := searchClause(opts.Search)

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	var total int
	if err := conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM places"+where, args...).Scan(&total); err != nil {
		return nil, s.wrap("failed to count places", err)
	}

	page := &place.Page{
		Places:     []*place.Place{},
		TotalCount: total,
		PageNum:    opts.Page,
		PageSize:   opts.PageSize,
	}

	offset := (opts.Page - 1) * opts.PageSize
	if total == 0 || offset >= total {
		return page, nil
	}

	dir := "ASC"
	if opts.Descending {
		dir = "DESC"
	}

	// opts.SortBy is whitelisted by Normalize, safe to splice
	query := fmt.Sprintf("%s FROM places%s ORDER BY %s %s, id ASC LIMIT ? OFFSET ?",
		selectColumns, where, opts.SortBy, dir)
	args = append(args, opts.PageSize, offset)

	rows, err := conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("failed to query places", err)
	}
	defer rows.Close()

	places, err := scanPlaces(rows)
	if err != nil {
		return nil, err
	}
	page.Places = places
	return page, nil
}

const selectColumns = `SELECT id, latitude, longitude, types, name, address, pincode,
	rating, followers, country, created_at, updated_at`

// searchClause builds the shared WHERE clause for Query and Count.
// The filter is folded with FoldASCII to match what LOWER() does to the
// columns; a Unicode-aware fold here would miss rows LOWER() leaves alone.
func searchClause(filter string) (string, []interface{}) {
	filter = strings.TrimSpace(filter)
	if filter == "" {
		return "", nil
	}
	pattern := "%" + place.FoldASCII(filter) + "%"
	where := " WHERE (LOWER(name) LIKE ? OR LOWER(types) LIKE ? OR LOWER(address) LIKE ?)"
	return where, []interface{}{pattern, pattern, pattern}
}

// conn guards against use after Close.
func (s *Store) conn() (*sql.DB, error) {
	if s.db == nil {
		return nil, fmt.Errorf("%w: connection closed", place.ErrStoreUnavailable)
	}
	return s.db, nil
}

// opContext applies the per-operation timeout on top of the caller's context.
func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// wrap classifies a driver error: timeouts and cancellations become
// place.ErrStoreUnavailable, everything else keeps its message.
func (s *Store) wrap(msg string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %s: %v", place.ErrStoreUnavailable, msg, err)
	}
	return fmt.Errorf("%s: %w", msg, err)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

// scanPlaceRow scans a single row in selectColumns order.
func scanPlaceRow(row rowScanner) (*place.Place, error) {
	var p place.Place
	var createdAt, updatedAt string

	err := row.Scan(
		&p.ID, &p.Latitude, &p.Longitude, &p.Types, &p.Name, &p.Address, &p.Pincode,
		&p.Rating, &p.Followers, &p.Country, &createdAt, &updatedAt,
	)
	if err != nil {
		return nil, err
	}

	if t, err := time.Parse(time.RFC3339, createdAt); err == nil {
		p.CreatedAt = t
	}
	if t, err := time.Parse(time.RFC3339, updatedAt); err == nil {
		p.UpdatedAt = t
	}
	return &p, nil
}

// scanPlaces scans multiple rows in selectColumns order.
func scanPlaces(rows *sql.Rows) ([]*place.Place, error) {
	var places []*place.Place
	for rows.Next() {
		p, err := scanPlaceRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan place: %w", err)
		}
		places = append(places, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating places: %w", err)
	}
	return places, nil
}
