// Package catalog reads and writes the track catalog.
//
// The backing store is a CSV file maintained by hand (exported from a
// spreadsheet), so loading is deliberately forgiving: missing optional
// columns are created with defaults, URLs are trimmed, dates are parsed
// leniently and rows that fail to parse stay in the snapshot with zero
// values — eligibility filtering is the selector's job, not ours.
//
// The format offers no partial update, so MarkPosted is load-mutate-save
// under a process-wide lock. Concurrent external writers are not supported.
package catalog

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ErrNotFound is returned when the catalog file does not exist.
var ErrNotFound = errors.New("catalog file not found")

// Item is one promotable track. ID is the stable row index within the file.
type Item struct {
	ID           int
	Title        string
	URL          string
	ReleaseDate  time.Time // zero when absent/unparseable
	Artist       string
	Language     string
	Hashtags     string // manual hashtag override, space-separated
	CopyOverride string // full manual post text; composer short-circuits on it
	Notes        string

	Posted       bool
	LastPostedAt time.Time // zero when never posted
}

// HasReleaseDate reports whether the row carried a parseable release date.
func (it Item) HasReleaseDate() bool { return !it.ReleaseDate.IsZero() }

// Store is a CSV-backed catalog source.
type Store struct {
	path string

	// mu serializes load-mutate-save cycles; the CSV format has no
	// partial-update primitive.
	mu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Load reads the full catalog snapshot.
func (s *Store) Load() ([]Item, error) {
	rows, err := readRows(s.path)
	if err != nil {
		return nil, err
	}
	items := make([]Item, 0, len(rows))
	for i, r := range rows {
		items = append(items, itemFromRow(i, r))
	}
	return items, nil
}

// MarkPosted sets the posted flag and last-posted timestamp on one row and
// persists the whole file. Called only after a confirmed real publish.
func (s *Store) MarkPosted(id int, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := readRows(s.path)
	if err != nil {
		return err
	}
	if id < 0 || id >= len(rows) {
		return fmt.Errorf("catalog row %d out of range (%d rows)", id, len(rows))
	}
	rows[id][colPosted] = "true"
	rows[id][colLastPostedAt] = when.Format(time.RFC3339)
	return writeRows(s.path, rows)
}

func itemFromRow(id int, r row) Item {
	return Item{
		ID:           id,
		Title:        strings.TrimSpace(r[colTitle]),
		URL:          strings.TrimSpace(r[colURL]),
		ReleaseDate:  parseDate(r[colReleaseDate]),
		Artist:       strings.TrimSpace(r[colArtist]),
		Language:     strings.TrimSpace(r[colLanguage]),
		Hashtags:     strings.TrimSpace(r[colHashtags]),
		CopyOverride: strings.TrimSpace(r[colCopyOverride]),
		Notes:        strings.TrimSpace(r[colNotes]),
		Posted:       parseBool(r[colPosted]),
		LastPostedAt: parseTimestamp(r[colLastPostedAt]),
	}
}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02/01/2006",
	time.RFC3339,
}

func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t
	}
	return parseDate(s)
}

func parseBool(s string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(s))
	return err == nil && b
}

func fileMissing(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
