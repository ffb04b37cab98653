// Package urlx holds URL helpers shared by selection, bookkeeping and the
// post composer.
//
// The distinction that matters here: cooldown/history bookkeeping always uses
// the canonical form (tracking parameters stripped), while the text shown in a
// post may carry a UTM-decorated copy. Mixing the two up silently breaks the
// anti-duplicate guarantees, so every caller goes through Canonical() before
// touching the stores.
package urlx

import (
	"net/url"
	"regexp"
	"sort"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var youtubeRe = regexp.MustCompile(`(?i)^(https?://)?(www\.)?(youtube\.com|youtu\.be)/`)

// IsYouTube reports whether url looks like a YouTube link. This is the
// eligibility gate for catalog rows: anything else is considered an invalid
// format and never enters selection.
func IsYouTube(raw string) bool {
	return youtubeRe.MatchString(strings.TrimSpace(raw))
}

// trackingParams are query keys that identify a click source, not a resource.
var trackingParams = map[string]struct{}{
	"utm_source":   {},
	"utm_medium":   {},
	"utm_campaign": {},
	"utm_term":     {},
	"utm_content":  {},
	"si":           {},
	"fbclid":       {},
	"gclid":        {},
	"igshid":       {},
	"ref":          {},
}

// Canonical strips tracking parameters and whitespace from a URL.
// The result is the identity used by HistoryStore, QueueStore and the
// deduplication step of the selector. Unparseable input is returned trimmed,
// so a weird URL still has a stable (if ugly) identity.
func Canonical(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil {
		return s
	}
	q := u.Query()
	for k := range q {
		if _, ok := trackingParams[strings.ToLower(k)]; ok {
			q.Del(k)
		}
	}
	u.RawQuery = stableEncode(q)
	u.Fragment = ""
	return u.String()
}

// stableEncode is url.Values.Encode with deterministic key order, so the
// canonical form of equal URLs compares equal.
func stableEncode(q url.Values) string {
	if len(q) == 0 {
		return ""
	}
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		for _, v := range q[k] {
			if b.Len() > 0 {
				b.WriteByte('&')
			}
			b.WriteString(url.QueryEscape(k))
			b.WriteByte('=')
			b.WriteString(url.QueryEscape(v))
		}
	}
	return b.String()
}

// VideoID extracts the YouTube video id from watch, short-link, shorts and
// embed URL shapes. Returns "" when no id can be found.
func VideoID(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Host)
	switch {
	case host == "youtu.be" || host == "www.youtu.be":
		return strings.Trim(u.Path, "/")
	case strings.Contains(host, "youtube.com"):
		if u.Path == "/watch" {
			return u.Query().Get("v")
		}
		for _, prefix := range []string{"/shorts/", "/embed/"} {
			if strings.HasPrefix(u.Path, prefix) {
				rest := strings.TrimPrefix(u.Path, prefix)
				if i := strings.IndexByte(rest, '/'); i >= 0 {
					rest = rest[:i]
				}
				return rest
			}
		}
	}
	return ""
}

// WithUTM returns the URL decorated with utm_source/utm_medium/utm_campaign.
// Existing UTM values are overwritten. Display-only: never feed the result
// back into bookkeeping.
func WithUTM(raw, source, medium, campaign string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return raw
	}
	q := u.Query()
	q.Set("utm_source", source)
	q.Set("utm_medium", medium)
	q.Set("utm_campaign", campaign)
	u.RawQuery = stableEncode(q)
	return u.String()
}

// stripMarks decomposes accented letters and drops the combining marks, so
// "Aquí" folds to "aqui" instead of losing the letter.
var stripMarks = transform.Chain(norm.NFKD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slug lowercases and asciifies a title for use in UTM campaign names.
func Slug(s string) string {
	if folded, _, err := transform.String(stripMarks, s); err == nil {
		s = folded
	}
	var b strings.Builder
	lastDash := true
	for _, r := range strings.ToLower(s) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
		if b.Len() >= 60 {
			break
		}
	}
	out := strings.Trim(b.String(), "-")
	if out == "" {
		return "track"
	}
	return out
}
