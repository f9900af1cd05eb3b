// Package place defines the Place record shape shared by the record store,
// the spreadsheet cache, and the query facade.
//
// A Place has exactly one authoritative representation in the record store;
// the spreadsheet copy is a derived projection and never authoritative.
// The struct is deliberately fixed-shape: unknown attributes cannot pass
// through the facade unnoticed.
package place

import (
	"fmt"
	"strings"
	"time"
)

// Place is a single geographic place record.
//
// ID and the two timestamps are assigned by the record store on creation;
// ID is immutable afterwards. Timestamps are UTC with second precision so
// that rows survive the round trip through the spreadsheet cache (which
// cannot represent zones) without drifting.
type Place struct {
	ID        string    `json:"id"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Types     string    `json:"types"`
	Name      string    `json:"name"`
	Address   string    `json:"address"`
	Pincode   string    `json:"pincode"`
	Rating    float64   `json:"rating"`
	Followers float64   `json:"followers"`
	Country   string    `json:"country"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Fields is the mutable attribute set accepted by create and update.
//
// Callers are expected to have applied business validation (coordinate
// ranges, string lengths) before handing Fields to the facade. Validate
// only enforces the structural rules the record store itself requires.
type Fields struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Types     string  `json:"types"`
	Name      string  `json:"name"`
	Address   string  `json:"address"`
	Pincode   string  `json:"pincode"`
	Rating    float64 `json:"rating"`
	Followers float64 `json:"followers"`
	Country   string  `json:"country"`
}

// Validate checks structural completeness of the field set.
// Violations are reported as ErrConstraintViolation naming the field.
func (f *Fields) Validate() error {
	if strings.TrimSpace(f.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrConstraintViolation)
	}
	if strings.TrimSpace(f.Address) == "" {
		return fmt.Errorf("%w: address is required", ErrConstraintViolation)
	}
	if strings.TrimSpace(f.Types) == "" {
		return fmt.Errorf("%w: types is required", ErrConstraintViolation)
	}
	if !validPincode(f.Pincode) {
		return fmt.Errorf("%w: pincode must be a 6-digit numeric string (got %q)", ErrConstraintViolation, f.Pincode)
	}
	return nil
}

// SetDefaults applies default values for optional attributes.
func (f *Fields) SetDefaults() {
	if strings.TrimSpace(f.Country) == "" {
		f.Country = "Unknown"
	}
}

func validPincode(s string) bool {
	if len(s) != 6 {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// EqualRow reports whether two places carry identical attribute values.
// Timestamps are compared zone-stripped at second precision, which is the
// resolution the spreadsheet cache can represent.
func (p *Place) EqualRow(o *Place) bool {
	return p.ID == o.ID &&
		p.Latitude == o.Latitude &&
		p.Longitude == o.Longitude &&
		p.Types == o.Types &&
		p.Name == o.Name &&
		p.Address == o.Address &&
		p.Pincode == o.Pincode &&
		p.Rating == o.Rating &&
		p.Followers == o.Followers &&
		p.Country == o.Country &&
		NaiveTime(p.CreatedAt).Equal(NaiveTime(o.CreatedAt)) &&
		NaiveTime(p.UpdatedAt).Equal(NaiveTime(o.UpdatedAt))
}

// NaiveTime normalizes a timestamp to UTC and drops sub-second precision.
// This is the lossy-but-deliberate conversion applied when rows cross into
// the spreadsheet cache; it is never applied to record store values.
func NaiveTime(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FoldASCII lowercases ASCII letters only, leaving all other runes alone.
// This is exactly what SQLite's LOWER() does, and both store adapters fold
// filter text with it so a search returns the same rows from either side.
func FoldASCII(s string) string {
	var b []byte
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c >= 'A' && c <= 'Z' {
			if b == nil {
				b = []byte(s)
			}
			b[i] = c + ('a' - 'A')
		}
	}
	if b == nil {
		return s
	}
	return string(b)
}

// SortColumns lists the columns a query may sort by.
// Anything else falls back to "id".
var SortColumns = []string{
	"id", "name", "types", "address", "pincode",
	"latitude", "longitude", "rating", "followers", "country",
	"created_at", "updated_at",
}

// QueryOptions describes a paginated search request.
type QueryOptions struct {
	// Search is a case-insensitive substring matched against
	// name, types, and address (OR across the three).
	// Empty means the full set.
	Search string

	// SortBy is a single column from SortColumns; ties are always
	// broken by id ascending so pagination is deterministic.
	SortBy     string
	Descending bool

	// Page and PageSize are 1-indexed. A page past the end yields an
	// empty result with the correct total, never an error.
	Page     int
	PageSize int
}

// Normalize clamps paging values and falls back to the id sort column
// when an unknown column is requested.
func (o *QueryOptions) Normalize() {
	if o.Page < 1 {
		o.Page = 1
	}
	if o.PageSize < 1 {
		o.PageSize = 10
	}
	if o.PageSize > 1000 {
		o.PageSize = 1000
	}
	o.SortBy = strings.ToLower(strings.TrimSpace(o.SortBy))
	if o.SortBy == "" {
		o.SortBy = "id"
		return
	}
	for _, col := range SortColumns {
		if o.SortBy == col {
			return
		}
	}
	o.SortBy = "id"
}

// Page is a bounded slice of query results plus the total match count.
// The shape is identical regardless of which store served the read; only
// ServedFromCache differs, for observability.
type Page struct {
	Places          []*Place `json:"places"`
	TotalCount      int      `json:"total_count"`
	PageNum         int      `json:"page"`
	PageSize        int      `json:"page_size"`
	ServedFromCache bool     `json:"served_from_cache"`
}
