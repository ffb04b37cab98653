// Package preview resolves a thumbnail image URL for a post attachment.
//
// YouTube links are resolved without any network call using the well-known
// thumbnail host. Anything else falls back to fetching the page and reading
// its og:image meta tag.
package preview

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"xbot/internal/urlx"
)

// Qualities accepted for the YouTube thumbnail host, best-first.
var ytQualities = map[string]struct{}{
	"maxresdefault": {},
	"sddefault":     {},
	"hqdefault":     {},
	"mqdefault":     {},
	"default":       {},
}

type Resolver struct {
	// Quality selects the YouTube thumbnail variant (default "hqdefault").
	Quality string

	client *http.Client
}

func NewResolver(quality string) *Resolver {
	if _, ok := ytQualities[quality]; !ok {
		quality = "hqdefault"
	}
	return &Resolver{
		Quality: quality,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Resolve returns a thumbnail URL for the item link, or "" when none can be
// determined. A "" result is not an error: posting proceeds without media.
func (r *Resolver) Resolve(ctx context.Context, rawURL string) (string, error) {
	if id := urlx.VideoID(rawURL); id != "" {
		return fmt.Sprintf("https://img.youtube.com/vi/%s/%s.jpg", id, r.Quality), nil
	}
	return r.ogImage(ctx, rawURL)
}

// ogImage fetches the page and extracts <meta property="og:image">.
func (r *Resolver) ogImage(ctx context.Context, rawURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch page: status %d", resp.StatusCode)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", fmt.Errorf("parse page: %w", err)
	}
	img, _ := doc.Find(`meta[property="og:image"]`).First().Attr("content")
	return strings.TrimSpace(img), nil
}
