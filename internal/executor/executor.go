// Package executor runs the per-slot posting pipeline and the daily queue
// build.
//
// One slot firing is: claim → select-if-absent → compose → publish → record.
// The invariant the whole package bends around: once a queue row is claimed,
// exactly one terminal status is written before the firing ends, on every
// path — success, failure, no candidate, panic.
package executor

import (
	"context"
	"fmt"
	"math/rand"
	"runtime/debug"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"xbot/internal/catalog"
	"xbot/internal/compose"
	"xbot/internal/notify"
	"xbot/internal/picker"
	"xbot/internal/store"
	"xbot/internal/urlx"
	"xbot/internal/xclient"
)

// Queue is the slice of the store the executor mutates.
type Queue interface {
	Claim(ctx context.Context, day string, slot int) (url string, ok bool, err error)
	Finish(ctx context.Context, day string, slot int, status string) error
	UpsertPlan(ctx context.Context, day string, slot int, url string, plannedAt time.Time) error
	ReapStale(ctx context.Context, day string) (int64, error)
	AddHistory(ctx context.Context, url string, at time.Time) error
	PostedSince(ctx context.Context, urls []string, since time.Time) (map[string]time.Time, error)
}

// Catalog supplies the snapshot and accepts the post-publish write-back.
type Catalog interface {
	Load() ([]catalog.Item, error)
	MarkPosted(id int, when time.Time) error
}

// Publisher is the outbound transport.
type Publisher interface {
	Post(ctx context.Context, text string, mediaIDs []string) (xclient.Outcome, error)
	UploadThumbnail(ctx context.Context, imageURL string) (string, error)
}

// Thumbnailer resolves an attachable image URL for an item link.
type Thumbnailer interface {
	Resolve(ctx context.Context, url string) (string, error)
}

type Config struct {
	CooldownDays     int
	RecentWindowDays int
	// LivePickTop bounds the randomized fallback to the top-N ranked candidates.
	LivePickTop int
	Compose     compose.Config
	// Location fixes the run-date calendar. Queue rows are keyed by the
	// date in this zone, independent of the host clock's zone.
	Location *time.Location
}

type Executor struct {
	cfg      Config
	queue    Queue
	catalog  Catalog
	pub      Publisher
	thumbs   Thumbnailer // nil disables media attachment
	notifier *notify.Notifier
	log      zerolog.Logger
	loc      *time.Location

	// now is replaced in tests.
	now func() time.Time

	// rngMu guards rng: distinct slots may fire concurrently.
	rngMu sync.Mutex
	rng   *rand.Rand
}

func New(cfg Config, q Queue, cat Catalog, pub Publisher, thumbs Thumbnailer, n *notify.Notifier, log zerolog.Logger) *Executor {
	loc := cfg.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Executor{
		cfg:      cfg,
		queue:    q,
		catalog:  cat,
		pub:      pub,
		thumbs:   thumbs,
		notifier: n,
		log:      log,
		loc:      loc,
		now:      time.Now,
		rng:      rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetClock injects the time source (tests).
func (e *Executor) SetClock(now func() time.Time) { e.now = now }

// SetRand injects the randomness source (tests).
func (e *Executor) SetRand(rng *rand.Rand) { e.rng = rng }

// RunSlot executes one slot firing. It never returns an error: every failure
// is handled at this boundary so a bad firing cannot crash or unschedule
// future firings.
func (e *Executor) RunSlot(ctx context.Context, slot int) {
	// The day key must match what BuildQueue wrote, whatever zone the host
	// clock runs in.
	now := e.now().In(e.loc)
	day := store.DayOf(now)
	log := e.log.With().Str("day", day).Int("slot", slot).Logger()
	log.Info().Msg("slot firing started")

	claimed := false
	finished := false
	finish := func(status string) {
		if !claimed || finished {
			return
		}
		finished = true
		if err := e.queue.Finish(ctx, day, slot, status); err != nil {
			log.Error().Err(err).Str("status", status).Msg("queue finish failed")
			return
		}
		log.Info().Str("status", status).Msg("slot finished")
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error().Any("panic", r).Str("stack", string(debug.Stack())).Msg("panic in slot firing")
		}
		// Whatever happened above, a claimed row must not stay in posting.
		finish(store.StatusSkipped)
	}()

	items, err := e.catalog.Load()
	if err != nil {
		// Data unavailable: abort the firing before touching the queue.
		log.Error().Err(err).Msg("catalog unavailable; aborting firing")
		e.notifier.SlotOutcome(day, slot, "aborted", "", err)
		return
	}

	plannedURL, ok, err := e.queue.Claim(ctx, day, slot)
	if err != nil {
		log.Error().Err(err).Msg("claim failed; aborting firing")
		return
	}
	claimed = ok

	var cand *picker.Candidate
	if ok {
		cand = findByCanonical(items, plannedURL)
		if cand == nil {
			log.Warn().Str("url", plannedURL).Msg("planned url no longer in catalog; falling back to live pick")
		}
	} else {
		log.Debug().Msg("no pending queue row; falling back to live pick")
	}
	if cand == nil {
		cand, err = e.livePick(ctx, items, now)
		if err != nil {
			log.Error().Err(err).Msg("live pick failed")
			finish(store.StatusSkipped)
			return
		}
	}
	if cand == nil {
		log.Warn().Msg("no eligible candidate; skipping slot")
		finish(store.StatusSkipped)
		e.notifier.SlotOutcome(day, slot, store.StatusSkipped, "", nil)
		return
	}
	log = log.With().Str("url", cand.Canonical).Logger()

	text := compose.Build(cand.Item, e.cfg.Compose, e.lockedRng())

	var mediaIDs []string
	if e.thumbs != nil {
		mediaIDs = e.resolveMedia(ctx, log, cand.URL)
	}

	out, err := e.pub.Post(ctx, text, mediaIDs)
	if err != nil {
		// No in-firing retry: the next scheduled slot is the retry boundary.
		log.Error().Err(err).Msg("publish failed")
		finish(store.StatusSkipped)
		e.notifier.SlotOutcome(day, slot, store.StatusSkipped, cand.Canonical, err)
		return
	}

	if out.DryRun {
		// Simulated publish: terminal dry_run status, and no history or
		// catalog writes — durable anti-duplicate state stays untouched.
		log.Info().Msg("dry-run publish simulated")
		finish(store.StatusDryRun)
		e.notifier.SlotOutcome(day, slot, store.StatusDryRun, cand.Canonical, nil)
		return
	}

	// Record. The publish already happened: bookkeeping failures here are
	// logged and reconciled out-of-band, never retried.
	if err := e.queue.AddHistory(ctx, cand.Canonical, now); err != nil {
		log.Error().Err(err).Msg("history write failed after publish")
	}
	if err := e.catalog.MarkPosted(cand.ID, now); err != nil {
		log.Error().Err(err).Msg("catalog write-back failed after publish")
	}
	finish(store.StatusPosted)
	e.notifier.SlotOutcome(day, slot, store.StatusPosted, cand.Canonical, nil)
	log.Info().Str("tweet_id", out.TweetID).Msg("posted")
}

// livePick selects one candidate at random from the top-N ranked eligible
// set, so same-day fallback picks vary among near-ties.
func (e *Executor) livePick(ctx context.Context, items []catalog.Item, now time.Time) (*picker.Candidate, error) {
	blocked, err := e.blockedSet(ctx, items, now)
	if err != nil {
		return nil, err
	}
	top := picker.Select(items, picker.Options{
		Now:              now,
		CooldownDays:     e.cfg.CooldownDays,
		RecentWindowDays: e.cfg.RecentWindowDays,
		Mode:             picker.ModeRanked,
		Limit:            e.cfg.LivePickTop,
		Blocked:          blocked,
	})
	if len(top) == 0 {
		return nil, nil
	}
	e.rngMu.Lock()
	i := e.rng.Intn(len(top))
	e.rngMu.Unlock()
	return &top[i], nil
}

// BuildQueue plans the day: reap stale rows from previous days, rank the
// eligible candidates and upsert one plan row per slot. Slots beyond the
// number of candidates are left unplanned.
func (e *Executor) BuildQueue(ctx context.Context, now time.Time, slotTimes []time.Time) error {
	start := time.Now()
	now = now.In(e.loc)
	day := store.DayOf(now)
	log := e.log.With().Str("day", day).Logger()

	if n, err := e.queue.ReapStale(ctx, day); err != nil {
		log.Error().Err(err).Msg("stale row reap failed")
	} else if n > 0 {
		log.Warn().Int64("rows", n).Msg("reaped stale posting rows from previous days")
	}

	items, err := e.catalog.Load()
	if err != nil {
		// Keep whatever queue state exists; do not plan from a bad snapshot.
		return fmt.Errorf("build queue: %w", err)
	}
	blocked, err := e.blockedSet(ctx, items, now)
	if err != nil {
		return fmt.Errorf("build queue: %w", err)
	}

	cands := picker.Select(items, picker.Options{
		Now:              now,
		CooldownDays:     e.cfg.CooldownDays,
		RecentWindowDays: e.cfg.RecentWindowDays,
		Mode:             picker.ModeRanked,
		Limit:            len(slotTimes),
		Blocked:          blocked,
	})
	if len(cands) == 0 {
		log.Warn().Msg("no eligible candidates; day left unplanned")
		return nil
	}

	for i, c := range cands {
		if err := e.queue.UpsertPlan(ctx, day, i, c.Canonical, slotTimes[i]); err != nil {
			return fmt.Errorf("build queue: slot %d: %w", i, err)
		}
	}
	log.Info().Int("planned", len(cands)).Int("slots", len(slotTimes)).Msg("daily queue built")
	e.notifier.BuildSummary(day, len(cands), time.Since(start))
	return nil
}

func (e *Executor) blockedSet(ctx context.Context, items []catalog.Item, now time.Time) (map[string]time.Time, error) {
	urls := make([]string, 0, len(items))
	seen := map[string]struct{}{}
	for _, it := range items {
		c := urlx.Canonical(it.URL)
		if c == "" {
			continue
		}
		if _, dup := seen[c]; dup {
			continue
		}
		seen[c] = struct{}{}
		urls = append(urls, c)
	}
	since := now.AddDate(0, 0, -e.cfg.CooldownDays)
	blocked, err := e.queue.PostedSince(ctx, urls, since)
	if err != nil {
		return nil, fmt.Errorf("cooldown query: %w", err)
	}
	return blocked, nil
}

func (e *Executor) lockedRng() *rand.Rand {
	e.rngMu.Lock()
	defer e.rngMu.Unlock()
	// Hand out a child source so the caller can draw without holding the lock.
	return rand.New(rand.NewSource(e.rng.Int63()))
}

func (e *Executor) resolveMedia(ctx context.Context, log zerolog.Logger, url string) []string {
	imgURL, err := e.thumbs.Resolve(ctx, url)
	if err != nil || imgURL == "" {
		if err != nil {
			log.Warn().Err(err).Msg("thumbnail resolve failed; posting without media")
		}
		return nil
	}
	id, err := e.pub.UploadThumbnail(ctx, imgURL)
	if err != nil {
		log.Warn().Err(err).Msg("thumbnail upload failed; posting without media")
		return nil
	}
	if id == "" {
		return nil
	}
	return []string{id}
}

func findByCanonical(items []catalog.Item, canonical string) *picker.Candidate {
	for _, it := range items {
		if urlx.Canonical(it.URL) == canonical {
			return &picker.Candidate{Item: it, Canonical: canonical}
		}
	}
	return nil
}
