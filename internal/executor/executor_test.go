package executor

import (
	"context"
	"errors"
	"math/rand"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"xbot/internal/catalog"
	"xbot/internal/compose"
	"xbot/internal/store"
	"xbot/internal/xclient"
)

var testNow = time.Date(2026, 8, 31, 10, 0, 0, 0, time.UTC)

type fakeCatalog struct {
	mu      sync.Mutex
	items   []catalog.Item
	marked  map[int]time.Time
	loadErr error
}

func (f *fakeCatalog) Load() ([]catalog.Item, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	return append([]catalog.Item(nil), f.items...), nil
}

func (f *fakeCatalog) MarkPosted(id int, when time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.marked == nil {
		f.marked = map[int]time.Time{}
	}
	f.marked[id] = when
	return nil
}

type fakePublisher struct {
	mu    sync.Mutex
	posts []string
	dry   bool
	err   error
	panic bool
}

func (f *fakePublisher) Post(_ context.Context, text string, _ []string) (xclient.Outcome, error) {
	if f.panic {
		panic("publisher exploded")
	}
	if f.err != nil {
		return xclient.Outcome{}, f.err
	}
	f.mu.Lock()
	f.posts = append(f.posts, text)
	f.mu.Unlock()
	if f.dry {
		return xclient.Outcome{DryRun: true}, nil
	}
	return xclient.Outcome{TweetID: "t1"}, nil
}

func (f *fakePublisher) UploadThumbnail(context.Context, string) (string, error) { return "", nil }

func newExec(t *testing.T, cat *fakeCatalog, pub *fakePublisher) (*Executor, *store.Store) {
	t.Helper()
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		CooldownDays:     30,
		RecentWindowDays: 60,
		LivePickTop:      5,
		Compose:          compose.Config{Headline: "¡Hola!"},
	}
	e := New(cfg, st, cat, pub, nil, nil, zerolog.Nop())
	e.SetClock(func() time.Time { return testNow })
	e.SetRand(rand.New(rand.NewSource(1)))
	return e, st
}

func trackItem(id int, url string, daysAgo int) catalog.Item {
	return catalog.Item{
		ID:          id,
		Title:       "Track",
		URL:         url,
		ReleaseDate: testNow.AddDate(0, 0, -daysAgo),
	}
}

// Build a 1-slot day, claim it through a firing, confirm posted + history +
// catalog write-back.
func TestPlannedSlotHappyPath(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{
		trackItem(0, "https://youtu.be/u1", 10),
		trackItem(1, "https://youtu.be/u2", 100),
	}}
	pub := &fakePublisher{}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow.Add(2 * time.Hour)}); err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	day := store.DayOf(testNow)
	items, _ := st.ListDay(ctx, day)
	if len(items) != 1 || items[0].URL != "https://youtu.be/u1" {
		t.Fatalf("planned day = %+v", items)
	}

	e.RunSlot(ctx, 0)

	if status, _, _ := st.SlotStatus(ctx, day, 0); status != store.StatusPosted {
		t.Fatalf("slot status = %q", status)
	}
	if len(pub.posts) != 1 {
		t.Fatalf("expected 1 publish, got %d", len(pub.posts))
	}
	hist, err := st.PostedSince(ctx, []string{"https://youtu.be/u1"}, testNow.Add(-time.Hour))
	if err != nil || len(hist) != 1 {
		t.Fatalf("history after publish: %v %v", hist, err)
	}
	if _, ok := cat.marked[0]; !ok {
		t.Fatal("catalog row not marked posted")
	}
}

// A host clock in UTC must not shift the run-date key when the configured
// zone is already past midnight: the planned row for the local date gets
// claimed and finished, not orphaned.
func TestDayKeyFollowsConfiguredZone(t *testing.T) {
	madrid := time.FixedZone("CEST", 2*60*60)
	// 00:30 local on Sep 1 is still Aug 31 in UTC.
	localNow := time.Date(2026, 9, 1, 0, 30, 0, 0, madrid)

	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	pub := &fakePublisher{}
	st, err := store.Open(store.Config{Path: filepath.Join(t.TempDir(), "x.db")})
	if err != nil {
		t.Fatalf("store open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := Config{
		CooldownDays:     30,
		RecentWindowDays: 60,
		LivePickTop:      5,
		Compose:          compose.Config{Headline: "¡Hola!"},
		Location:         madrid,
	}
	e := New(cfg, st, cat, pub, nil, nil, zerolog.Nop())
	e.SetClock(func() time.Time { return localNow.UTC() })
	e.SetRand(rand.New(rand.NewSource(1)))
	ctx := context.Background()

	if err := e.BuildQueue(ctx, localNow, []time.Time{localNow.Add(time.Hour)}); err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	localDay := store.DayOf(localNow)
	if localDay == store.DayOf(localNow.UTC()) {
		t.Fatal("fixture broken: zones must disagree on the date")
	}

	e.RunSlot(ctx, 0)

	if status, _, _ := st.SlotStatus(ctx, localDay, 0); status != store.StatusPosted {
		t.Fatalf("slot status for %s = %q, want posted", localDay, status)
	}
	if _, ok, _ := st.SlotStatus(ctx, store.DayOf(localNow.UTC()), 0); ok {
		t.Fatal("a row appeared under the host-zone date")
	}
}

func TestBuildQueueExcludesCooldownBlocked(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{
		trackItem(0, "https://youtu.be/u1", 10),
		trackItem(1, "https://youtu.be/u2", 100),
	}}
	e, st := newExec(t, cat, &fakePublisher{})
	ctx := context.Background()

	if err := st.AddHistory(ctx, "https://youtu.be/u1", testNow.AddDate(0, 0, -5)); err != nil {
		t.Fatal(err)
	}
	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow.Add(time.Hour)}); err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	items, _ := st.ListDay(ctx, store.DayOf(testNow))
	if len(items) != 1 || items[0].URL != "https://youtu.be/u2" {
		t.Fatalf("cooldown-blocked url planned anyway: %+v", items)
	}
}

func TestBuildQueueSkipsSlotsBeyondCandidates(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	e, st := newExec(t, cat, &fakePublisher{})
	ctx := context.Background()

	slots := []time.Time{testNow.Add(1 * time.Hour), testNow.Add(2 * time.Hour), testNow.Add(3 * time.Hour)}
	if err := e.BuildQueue(ctx, testNow, slots); err != nil {
		t.Fatalf("BuildQueue: %v", err)
	}
	items, _ := st.ListDay(ctx, store.DayOf(testNow))
	if len(items) != 1 {
		t.Fatalf("expected 1 planned slot, got %d", len(items))
	}
}

func TestBuildQueueReapsStaleRows(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	e, st := newExec(t, cat, &fakePublisher{})
	ctx := context.Background()

	yesterday := "2026-08-30"
	if err := st.UpsertPlan(ctx, yesterday, 0, "u", testNow.AddDate(0, 0, -1)); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := st.Claim(ctx, yesterday, 0); !ok {
		t.Fatal("claim failed")
	}
	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	if status, _, _ := st.SlotStatus(ctx, yesterday, 0); status != store.StatusSkipped {
		t.Fatalf("stale posting row = %q, want skipped", status)
	}
}

func TestDryRunIsolation(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	pub := &fakePublisher{dry: true}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	e.RunSlot(ctx, 0)

	day := store.DayOf(testNow)
	if status, _, _ := st.SlotStatus(ctx, day, 0); status != store.StatusDryRun {
		t.Fatalf("slot status = %q, want dry_run", status)
	}
	hist, _ := st.PostedSince(ctx, []string{"https://youtu.be/u1"}, testNow.AddDate(0, 0, -60))
	if len(hist) != 0 {
		t.Fatal("dry-run must not write history")
	}
	if len(cat.marked) != 0 {
		t.Fatal("dry-run must not mark the catalog")
	}
}

func TestPublishFailureFinishesSkipped(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	pub := &fakePublisher{err: errors.New("rate limited")}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	e.RunSlot(ctx, 0)

	if status, _, _ := st.SlotStatus(ctx, store.DayOf(testNow), 0); status != store.StatusSkipped {
		t.Fatalf("slot status = %q, want skipped", status)
	}
	hist, _ := st.PostedSince(ctx, []string{"https://youtu.be/u1"}, testNow.AddDate(0, 0, -60))
	if len(hist) != 0 {
		t.Fatal("failed publish must not write history")
	}
}

func TestPanicStillFinishesClaimedRow(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	pub := &fakePublisher{panic: true}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow.Add(time.Hour)}); err != nil {
		t.Fatal(err)
	}
	e.RunSlot(ctx, 0) // must not propagate the panic

	if status, _, _ := st.SlotStatus(ctx, store.DayOf(testNow), 0); status != store.StatusSkipped {
		t.Fatalf("slot status after panic = %q, want skipped", status)
	}
}

func TestLivePickFallbackWithoutPlan(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(0, "https://youtu.be/u1", 10)}}
	pub := &fakePublisher{}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	// No BuildQueue: claim comes back absent and the live pick takes over.
	e.RunSlot(ctx, 0)

	if len(pub.posts) != 1 {
		t.Fatalf("expected live-pick publish, got %d posts", len(pub.posts))
	}
	hist, _ := st.PostedSince(ctx, []string{"https://youtu.be/u1"}, testNow.AddDate(0, 0, -60))
	if len(hist) != 1 {
		t.Fatal("live-pick publish must still write history")
	}
	if _, ok := cat.marked[0]; !ok {
		t.Fatal("live-pick publish must still mark the catalog")
	}
}

func TestPlannedURLGoneFallsBackToLivePick(t *testing.T) {
	cat := &fakeCatalog{items: []catalog.Item{trackItem(1, "https://youtu.be/other", 20)}}
	pub := &fakePublisher{}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	day := store.DayOf(testNow)
	if err := st.UpsertPlan(ctx, day, 0, "https://youtu.be/vanished", testNow); err != nil {
		t.Fatal(err)
	}
	e.RunSlot(ctx, 0)

	if len(pub.posts) != 1 {
		t.Fatalf("expected fallback publish, got %d", len(pub.posts))
	}
	if status, _, _ := st.SlotStatus(ctx, day, 0); status != store.StatusPosted {
		t.Fatalf("claimed row must still be finished, status = %q", status)
	}
}

func TestNoCandidateSkips(t *testing.T) {
	cat := &fakeCatalog{} // empty catalog
	pub := &fakePublisher{}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	day := store.DayOf(testNow)
	if err := st.UpsertPlan(ctx, day, 0, "https://youtu.be/gone", testNow); err != nil {
		t.Fatal(err)
	}
	e.RunSlot(ctx, 0)

	if len(pub.posts) != 0 {
		t.Fatal("no publish expected")
	}
	if status, _, _ := st.SlotStatus(ctx, day, 0); status != store.StatusSkipped {
		t.Fatalf("slot status = %q, want skipped", status)
	}
}

func TestCatalogUnavailableKeepsQueueState(t *testing.T) {
	cat := &fakeCatalog{loadErr: errors.New("file locked")}
	pub := &fakePublisher{}
	e, st := newExec(t, cat, pub)
	ctx := context.Background()

	day := store.DayOf(testNow)
	if err := st.UpsertPlan(ctx, day, 0, "https://youtu.be/u1", testNow); err != nil {
		t.Fatal(err)
	}
	e.RunSlot(ctx, 0)

	// The firing aborted before claiming: the row stays pending for the
	// next trigger.
	if status, _, _ := st.SlotStatus(ctx, day, 0); status != store.StatusPending {
		t.Fatalf("slot status = %q, want pending", status)
	}
	if err := e.BuildQueue(ctx, testNow, []time.Time{testNow}); err == nil {
		t.Fatal("BuildQueue should surface catalog unavailability")
	}
}
