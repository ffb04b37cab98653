package catalog

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tracks.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	return path
}

func TestLoadNormalizesColumns(t *testing.T) {
	// Partial header, alias for the date column, ragged rows.
	path := writeFile(t, "Title,YouTubeURL,ReleaseDate (YYYY-MM-DD),Artist\n"+
		"Night Drive, https://youtu.be/abc ,2025-07-01,DJ Uno\n"+
		"No Date,https://youtu.be/def,,\n")

	items, err := NewStore(path).Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("expected 2 items, got %d", len(items))
	}
	if items[0].URL != "https://youtu.be/abc" {
		t.Errorf("URL not trimmed: %q", items[0].URL)
	}
	if !items[0].HasReleaseDate() {
		t.Error("aliased date column not parsed")
	}
	if items[1].HasReleaseDate() {
		t.Error("empty date should stay zero")
	}
	if items[0].Posted || items[0].Hashtags != "" {
		t.Error("missing optional columns should default to zero values")
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := NewStore(filepath.Join(t.TempDir(), "nope.csv")).Load()
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestMarkPostedRoundTrip(t *testing.T) {
	path := writeFile(t, "Title,YouTubeURL,ReleaseDate\n"+
		"A,https://youtu.be/a,2025-01-01\n"+
		"B,https://youtu.be/b,2025-02-01\n")
	st := NewStore(path)

	when := time.Date(2025, 8, 30, 12, 0, 0, 0, time.UTC)
	if err := st.MarkPosted(1, when); err != nil {
		t.Fatalf("MarkPosted: %v", err)
	}

	items, err := st.Load()
	if err != nil {
		t.Fatalf("Load after save: %v", err)
	}
	if items[0].Posted {
		t.Error("row 0 should be untouched")
	}
	if !items[1].Posted {
		t.Error("row 1 should be posted")
	}
	if !items[1].LastPostedAt.Equal(when) {
		t.Errorf("LastPostedAt = %v, want %v", items[1].LastPostedAt, when)
	}
	// Date column must survive the rewrite.
	if !items[1].HasReleaseDate() || items[1].ReleaseDate.Year() != 2025 {
		t.Errorf("release date lost on rewrite: %v", items[1].ReleaseDate)
	}
}

func TestMarkPostedOutOfRange(t *testing.T) {
	path := writeFile(t, "Title,YouTubeURL,ReleaseDate\nA,https://youtu.be/a,2025-01-01\n")
	if err := NewStore(path).MarkPosted(5, time.Now()); err == nil {
		t.Fatal("expected out-of-range error")
	}
}
