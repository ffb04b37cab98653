// Package compose builds the post text for one catalog item.
//
// Layout: fixed headline, track info line, hashtags, link. The link carries
// UTM decoration when enabled; bookkeeping elsewhere always uses the
// canonical URL, never the decorated one. The whole post must fit the
// 280-character budget — overflow trims the info line first, then thins the
// hashtags, and never fails.
package compose

import (
	"fmt"
	"math/rand"
	"strings"
	"unicode/utf8"

	"xbot/internal/catalog"
	"xbot/internal/urlx"
)

const maxPostRunes = 280

type Config struct {
	Headline   string
	UTMEnabled bool
	UTMSource  string
	UTMMedium  string
}

// Language-keyed hashtag pools; three are sampled per post so the feed does
// not look templated. Spanish is the default.
var hashtagPools = map[string][]string{
	"es": {"#TechHouse", "#NewMusic", "#YouTube", "#Club", "#Estreno"},
	"en": {"#TechHouse", "#NewMusic", "#YouTube", "#Club", "#OutNow"},
}

// Build renders the post text. rng drives hashtag sampling; pass a seeded
// source in tests for deterministic output.
func Build(item catalog.Item, cfg Config, rng *rand.Rand) string {
	link := item.URL
	if cfg.UTMEnabled {
		campaign := urlx.Slug(item.Title) + "-youtube"
		link = urlx.WithUTM(item.URL, cfg.UTMSource, cfg.UTMMedium, campaign)
	}

	// A manual override is used verbatim when it fits; the link and the
	// rune budget are still guaranteed.
	if item.CopyOverride != "" {
		text := item.CopyOverride
		if !strings.Contains(text, urlx.Canonical(item.URL)) && !strings.Contains(text, item.URL) {
			text = text + "\n" + link
		}
		if utf8.RuneCountInString(text) <= maxPostRunes {
			return text
		}
		budget := maxPostRunes - utf8.RuneCountInString(link) - 1
		if budget < 10 {
			budget = 10
		}
		return truncate(item.CopyOverride, budget) + "\n" + link
	}

	info := infoLine(item)
	tags := pickTags(item, rng)

	text := assemble(cfg.Headline, info, tags, link)
	if utf8.RuneCountInString(text) <= maxPostRunes {
		return text
	}

	// Trim the info line to whatever space headline+tags+link leave over.
	reserved := utf8.RuneCountInString(cfg.Headline) + utf8.RuneCountInString(tags) + utf8.RuneCountInString(link) + 3
	maxInfo := maxPostRunes - reserved
	if maxInfo < 10 {
		maxInfo = 10
	}
	info = truncate(info, maxInfo)
	text = assemble(cfg.Headline, info, tags, link)
	if utf8.RuneCountInString(text) <= maxPostRunes {
		return text
	}

	// Still over: first hashtag only, then none.
	if i := strings.IndexByte(tags, ' '); i > 0 {
		text = assemble(cfg.Headline, info, tags[:i], link)
		if utf8.RuneCountInString(text) <= maxPostRunes {
			return text
		}
	}
	return assemble(cfg.Headline, info, "", link)
}

func infoLine(item catalog.Item) string {
	var b strings.Builder
	b.WriteString(item.Title)
	if item.Artist != "" {
		fmt.Fprintf(&b, " — %s", item.Artist)
	}
	if item.HasReleaseDate() {
		fmt.Fprintf(&b, " · %s", item.ReleaseDate.Format("02/01/2006"))
	}
	return strings.TrimSpace(b.String())
}

func pickTags(item catalog.Item, rng *rand.Rand) string {
	if item.Hashtags != "" {
		return item.Hashtags
	}
	pool, ok := hashtagPools[strings.ToLower(item.Language)]
	if !ok {
		pool = hashtagPools["es"]
	}
	k := 3
	if k > len(pool) {
		k = len(pool)
	}
	idx := make([]int, len(pool))
	for i := range idx {
		idx[i] = i
	}
	if rng != nil {
		rng.Shuffle(len(idx), func(i, j int) { idx[i], idx[j] = idx[j], idx[i] })
	}
	picked := make([]string, 0, k)
	for _, i := range idx[:k] {
		picked = append(picked, pool[i])
	}
	return strings.Join(picked, " ")
}

func assemble(parts ...string) string {
	nonEmpty := parts[:0:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return strings.Join(nonEmpty, "\n")
}

func truncate(s string, maxRunes int) string {
	if utf8.RuneCountInString(s) <= maxRunes {
		return s
	}
	r := []rune(s)
	return string(r[:maxRunes-1]) + "…"
}
