package catalog

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Canonical column order. Only Title, YouTubeURL and ReleaseDate are required
// for a row to ever be eligible; the rest are created with defaults when the
// file lacks them.
const (
	colTitle = iota
	colURL
	colReleaseDate
	colArtist
	colLanguage
	colHashtags
	colCopyOverride
	colNotes
	colPosted
	colLastPostedAt
	numCols
)

var header = []string{
	"Title", "YouTubeURL", "ReleaseDate", "Artist", "Language",
	"Hashtags", "CopyOverride", "Notes", "Posted", "LastPostedAt",
}

// headerAliases maps alternative spellings seen in hand-maintained sheets.
var headerAliases = map[string]int{
	"releasedate (yyyy-mm-dd)": colReleaseDate,
	"url":                      colURL,
	"youtube":                  colURL,
	"lang":                     colLanguage,
}

type row [numCols]string

func readRows(path string) ([]row, error) {
	f, err := os.Open(path)
	if err != nil {
		if fileMissing(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, fmt.Errorf("open catalog: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1 // tolerate ragged rows
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read catalog: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}

	// Map whatever header the file has onto the canonical columns.
	idx := make([]int, len(records[0]))
	for i, name := range records[0] {
		idx[i] = columnIndex(name)
	}

	rows := make([]row, 0, len(records)-1)
	for _, rec := range records[1:] {
		var rw row
		for i, v := range rec {
			if i < len(idx) && idx[i] >= 0 {
				rw[idx[i]] = v
			}
		}
		rows = append(rows, rw)
	}
	return rows, nil
}

func columnIndex(name string) int {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, h := range header {
		if strings.ToLower(h) == n {
			return i
		}
	}
	if i, ok := headerAliases[n]; ok {
		return i
	}
	return -1
}

// writeRows rewrites the whole file with the canonical header.
// Write-then-rename so a crash mid-save never truncates the catalog.
func writeRows(path string, rows []row) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".catalog-*.csv")
	if err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save catalog: %w", err)
	}
	for _, rw := range rows {
		if err := w.Write(rw[:]); err != nil {
			_ = tmp.Close()
			return fmt.Errorf("save catalog: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("save catalog: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("save catalog: %w", err)
	}
	return nil
}
