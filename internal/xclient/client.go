// Package xclient publishes posts through the X API.
//
// v2 is used for creating posts; media upload still goes through the v1.1
// endpoint, which in practice requires OAuth1 user context. Dry-run mode
// short-circuits before any network call and returns a simulated outcome,
// so a dry-run firing has zero external effect.
package xclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dghubble/oauth1"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

const (
	defaultAPIBase    = "https://api.x.com/2"
	defaultUploadBase = "https://upload.twitter.com/1.1"
)

// Methods accepted by Config.Method.
const (
	AuthOAuth1 = "oauth1"
	AuthOAuth2 = "oauth2"
)

type Config struct {
	Method       string
	BearerToken  string
	APIKey       string
	APISecret    string
	AccessToken  string
	AccessSecret string

	DryRun      bool
	PreviewWait time.Duration
	RatePerMin  int
}

// Outcome reports one publish attempt that did not fail.
type Outcome struct {
	DryRun  bool
	TweetID string
}

type Client struct {
	cfg Config
	log zerolog.Logger

	// signed is OAuth1-signed when method is oauth1, plain otherwise
	// (bearer header added per request).
	signed  *http.Client
	limiter *rate.Limiter
	dryRun  atomic.Bool

	apiBase    string
	uploadBase string
}

func New(cfg Config, log zerolog.Logger) (*Client, error) {
	c := &Client{
		cfg:        cfg,
		log:        log,
		apiBase:    defaultAPIBase,
		uploadBase: defaultUploadBase,
	}
	c.dryRun.Store(cfg.DryRun)

	perMin := cfg.RatePerMin
	if perMin <= 0 {
		perMin = 10
	}
	c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)

	switch strings.ToLower(cfg.Method) {
	case AuthOAuth1:
		if cfg.APIKey == "" || cfg.APISecret == "" || cfg.AccessToken == "" || cfg.AccessSecret == "" {
			return nil, fmt.Errorf("oauth1 requires api key/secret and access token/secret")
		}
		oc := oauth1.NewConfig(cfg.APIKey, cfg.APISecret)
		tok := oauth1.NewToken(cfg.AccessToken, cfg.AccessSecret)
		c.signed = oc.Client(oauth1.NoContext, tok)
		c.signed.Timeout = 20 * time.Second
	case AuthOAuth2:
		if cfg.BearerToken == "" {
			return nil, fmt.Errorf("oauth2 requires a bearer token")
		}
		c.signed = &http.Client{Timeout: 20 * time.Second}
	default:
		return nil, fmt.Errorf("unknown auth method %q", cfg.Method)
	}
	return c, nil
}

// SetDryRun flips dry-run mode at runtime (config hot reload).
func (c *Client) SetDryRun(v bool) { c.dryRun.Store(v) }

// DryRun reports the current mode.
func (c *Client) DryRun() bool { return c.dryRun.Load() }

type tweetRequest struct {
	Text  string      `json:"text"`
	Media *tweetMedia `json:"media,omitempty"`
}

type tweetMedia struct {
	MediaIDs []string `json:"media_ids"`
}

type tweetResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Post publishes text (optionally with uploaded media). Before a real
// publish it waits PreviewWait so the link card has time to render; the wait
// and the network call are both skipped in dry-run mode.
func (c *Client) Post(ctx context.Context, text string, mediaIDs []string) (Outcome, error) {
	req := tweetRequest{Text: text}
	if len(mediaIDs) > 0 {
		req.Media = &tweetMedia{MediaIDs: mediaIDs}
	}

	if c.dryRun.Load() {
		c.log.Info().Str("text", text).Int("media", len(mediaIDs)).Msg("dry-run: would create post")
		return Outcome{DryRun: true}, nil
	}

	if c.cfg.PreviewWait > 0 {
		c.log.Debug().Dur("wait", c.cfg.PreviewWait).Msg("pre-publish preview wait")
		select {
		case <-time.After(c.cfg.PreviewWait):
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		}
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Outcome{}, err
	}

	body, err := json.Marshal(req)
	if err != nil {
		return Outcome{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+"/tweets", bytes.NewReader(body))
	if err != nil {
		return Outcome{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if strings.ToLower(c.cfg.Method) == AuthOAuth2 {
		httpReq.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)
	}

	resp, err := c.signed.Do(httpReq)
	if err != nil {
		return Outcome{}, fmt.Errorf("post tweet: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		c.log.Error().Int("status", resp.StatusCode).Str("body", string(respBody)).Msg("x api error")
		return Outcome{}, fmt.Errorf("post tweet: status %d", resp.StatusCode)
	}

	var tr tweetResponse
	if err := json.Unmarshal(respBody, &tr); err != nil {
		return Outcome{}, fmt.Errorf("post tweet: decode response: %w", err)
	}
	return Outcome{TweetID: tr.Data.ID}, nil
}
