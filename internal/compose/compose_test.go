package compose

import (
	"math/rand"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"xbot/internal/catalog"
)

var cfg = Config{
	Headline:   "¡Only Techouse For You!",
	UTMEnabled: true,
	UTMSource:  "X",
	UTMMedium:  "social",
}

func track() catalog.Item {
	return catalog.Item{
		Title:       "Night Drive",
		Artist:      "DJ Uno",
		Language:    "en",
		URL:         "https://youtu.be/abc123",
		ReleaseDate: time.Date(2026, 7, 15, 0, 0, 0, 0, time.UTC),
	}
}

func rng() *rand.Rand { return rand.New(rand.NewSource(1)) }

func TestBuildLayout(t *testing.T) {
	text := Build(track(), cfg, rng())
	lines := strings.Split(text, "\n")
	if len(lines) != 4 {
		t.Fatalf("expected 4 lines, got %d:\n%s", len(lines), text)
	}
	if lines[0] != cfg.Headline {
		t.Errorf("headline line = %q", lines[0])
	}
	if !strings.Contains(lines[1], "Night Drive — DJ Uno · 15/07/2026") {
		t.Errorf("info line = %q", lines[1])
	}
	if !strings.HasPrefix(lines[2], "#") {
		t.Errorf("hashtag line = %q", lines[2])
	}
	if !strings.Contains(lines[3], "utm_campaign=night-drive-youtube") {
		t.Errorf("link line missing UTM campaign: %q", lines[3])
	}
	if !strings.Contains(lines[3], "youtu.be/abc123") {
		t.Errorf("link line missing URL: %q", lines[3])
	}
}

func TestBuildNoUTM(t *testing.T) {
	c := cfg
	c.UTMEnabled = false
	text := Build(track(), c, rng())
	if strings.Contains(text, "utm_") {
		t.Fatalf("UTM disabled but link decorated:\n%s", text)
	}
}

func TestBuildDeterministicUnderSeed(t *testing.T) {
	a := Build(track(), cfg, rand.New(rand.NewSource(7)))
	b := Build(track(), cfg, rand.New(rand.NewSource(7)))
	if a != b {
		t.Fatal("same seed produced different posts")
	}
}

func TestBuildBudget(t *testing.T) {
	it := track()
	it.Title = strings.Repeat("Very Long Track Name ", 20)
	text := Build(it, cfg, rng())
	if n := utf8.RuneCountInString(text); n > 280 {
		t.Fatalf("post is %d runes, over budget:\n%s", n, text)
	}
	if !strings.Contains(text, "youtu.be/abc123") {
		t.Fatal("trimming must never drop the link")
	}
	if !strings.Contains(text, cfg.Headline) {
		t.Fatal("trimming must never drop the headline")
	}
	if !strings.Contains(text, "…") {
		t.Fatal("overflowing info line should be ellipsized")
	}
}

func TestCopyOverride(t *testing.T) {
	it := track()
	it.CopyOverride = "Hand-written copy for a special drop https://youtu.be/abc123"
	if got := Build(it, cfg, rng()); got != it.CopyOverride {
		t.Fatalf("override with link should pass through verbatim, got:\n%s", got)
	}

	it.CopyOverride = "Hand-written copy without a link"
	got := Build(it, cfg, rng())
	if !strings.HasPrefix(got, it.CopyOverride) {
		t.Fatalf("override text lost: %q", got)
	}
	if !strings.Contains(got, "youtu.be/abc123") {
		t.Fatalf("link must be appended to an override that lacks one: %q", got)
	}
}

func TestCopyOverrideClampedToBudget(t *testing.T) {
	it := track()
	it.CopyOverride = strings.Repeat("tech house all night long ", 20)
	got := Build(it, cfg, rng())
	if n := utf8.RuneCountInString(got); n > 280 {
		t.Fatalf("over-length override not clamped: %d runes", n)
	}
	if !strings.Contains(got, "youtu.be/abc123") {
		t.Fatalf("clamped override lost the link: %q", got)
	}
	if !strings.HasPrefix(got, "tech house") {
		t.Fatalf("clamped override lost its opening: %q", got)
	}
}

func TestHashtagOverrideAndLanguageFallback(t *testing.T) {
	it := track()
	it.Hashtags = "#Custom #Tags"
	if text := Build(it, cfg, rng()); !strings.Contains(text, "#Custom #Tags") {
		t.Fatal("manual hashtags ignored")
	}

	it = track()
	it.Language = "fr" // no pool: falls back to the default
	text := Build(it, cfg, rng())
	if !strings.Contains(text, "#TechHouse") && !strings.Contains(text, "#Club") &&
		!strings.Contains(text, "#Estreno") && !strings.Contains(text, "#NewMusic") &&
		!strings.Contains(text, "#YouTube") {
		t.Fatalf("no fallback hashtags present:\n%s", text)
	}
}
