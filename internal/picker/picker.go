// Package picker turns a catalog snapshot into an ordered list of postable
// candidates. It is pure: time, randomness and the cooldown state all come
// in through Options, which keeps selection reproducible under test.
package picker

import (
	"math/rand"
	"sort"
	"time"

	"xbot/internal/catalog"
	"xbot/internal/urlx"
)

// Mode controls ordering within the recent/back-catalog partitions.
type Mode int

const (
	// ModeRanked orders by release date descending. Used for the daily plan.
	ModeRanked Mode = iota
	// ModeShuffled randomizes order within each partition. Used for live
	// same-day picks so near-ties do not always resolve to the same row.
	ModeShuffled
)

type Options struct {
	Now              time.Time
	CooldownDays     int
	RecentWindowDays int
	Mode             Mode
	// Limit caps the output size; 0 means no cap.
	Limit int
	// Blocked maps canonical URL to its most recent publish time as known
	// by the history store. Item-level LastPostedAt is checked separately.
	Blocked map[string]time.Time
	// Rand is required for ModeShuffled.
	Rand *rand.Rand
}

// Candidate is an eligible, deduplicated item.
type Candidate struct {
	catalog.Item
	// Canonical is the tracking-stripped URL used for all bookkeeping.
	Canonical string
	// Recent marks a release inside the recency window (boundary inclusive).
	Recent bool
}

// Select filters, deduplicates, partitions and orders the snapshot.
// An empty result is a normal outcome, not an error.
func Select(items []catalog.Item, opts Options) []Candidate {
	cooldownCut := opts.Now.AddDate(0, 0, -opts.CooldownDays)
	// Recency compares calendar dates, not instants: release dates are
	// date-precision, and the boundary day is recent (inclusive) regardless
	// of the process timezone.
	recentCut := dateOnly(opts.Now.AddDate(0, 0, -opts.RecentWindowDays))

	// Eligibility + cooldown, then dedup by canonical URL keeping the
	// occurrence with the latest release date (first-seen order preserved).
	var out []Candidate
	seen := map[string]int{}
	for _, it := range items {
		if !urlx.IsYouTube(it.URL) || !it.HasReleaseDate() {
			continue
		}
		canon := urlx.Canonical(it.URL)
		if blocked(canon, it, opts.Blocked, cooldownCut) {
			continue
		}
		c := Candidate{
			Item:      it,
			Canonical: canon,
			Recent:    !dateOnly(it.ReleaseDate).Before(recentCut),
		}
		if i, dup := seen[canon]; dup {
			if c.ReleaseDate.After(out[i].ReleaseDate) {
				out[i] = c
			}
			continue
		}
		seen[canon] = len(out)
		out = append(out, c)
	}

	switch opts.Mode {
	case ModeShuffled:
		shufflePartitions(out, opts.Rand)
	default:
		// Recent first, then release date descending; sort is stable so
		// equal dates keep first-seen row order.
		sort.SliceStable(out, func(i, j int) bool {
			if out[i].Recent != out[j].Recent {
				return out[i].Recent
			}
			return out[i].ReleaseDate.After(out[j].ReleaseDate)
		})
	}

	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out
}

func blocked(canon string, it catalog.Item, hist map[string]time.Time, cutoff time.Time) bool {
	if last, ok := hist[canon]; ok && !last.Before(cutoff) {
		return true
	}
	if !it.LastPostedAt.IsZero() && !it.LastPostedAt.Before(cutoff) {
		return true
	}
	return false
}

// shufflePartitions randomizes order inside each partition while keeping all
// recent candidates ahead of back-catalog ones.
func shufflePartitions(cs []Candidate, rng *rand.Rand) {
	sort.SliceStable(cs, func(i, j int) bool {
		return cs[i].Recent && !cs[j].Recent
	})
	if rng == nil {
		return
	}
	split := 0
	for split < len(cs) && cs[split].Recent {
		split++
	}
	rng.Shuffle(split, func(i, j int) { cs[i], cs[j] = cs[j], cs[i] })
	back := cs[split:]
	rng.Shuffle(len(back), func(i, j int) { back[i], back[j] = back[j], back[i] })
}

// dateOnly maps a time to its calendar date at UTC midnight so that dates
// from different zones compare by day.
func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
