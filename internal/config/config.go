// Package config loads and validates the bot configuration.
//
// The file is YAML. Secrets (X credentials, Telegram token) and the dry-run
// toggle can be overridden through XBOT_* environment variables so that a
// config file checked into a deploy repo never has to carry them.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "go.yaml.in/yaml/v3"
)

type Config struct {
	Timezone string `yaml:"timezone"`

	// Slots are local times of day ("HH:MM" or "HH") at which one post fires.
	Slots []string `yaml:"slots"`
	// BuildTime is the local time at which the daily queue is planned.
	BuildTime string `yaml:"build_time"`

	// Jitter delays each slot firing by a uniform random offset in [0, jitter].
	Jitter string `yaml:"jitter"`
	// MisfireGrace is how late a slot may start and still fire.
	MisfireGrace string `yaml:"misfire_grace"`

	CooldownDays     int `yaml:"cooldown_days"`
	RecentWindowDays int `yaml:"recent_window_days"`
	// LivePickTop bounds the randomized fallback pick to the top-N ranked candidates.
	LivePickTop int `yaml:"live_pick_top"`

	DryRun bool `yaml:"dry_run"`
	// PreviewWait is the fixed pause before publishing, letting the link card render.
	PreviewWait string `yaml:"preview_wait"`

	Headline         string    `yaml:"headline"`
	UTM              UTMConfig `yaml:"utm"`
	AttachThumbnail  bool      `yaml:"attach_thumbnail"`
	ThumbnailQuality string    `yaml:"thumbnail_quality"`

	Catalog  CatalogConfig  `yaml:"catalog"`
	Store    StoreConfig    `yaml:"store"`
	X        XConfig        `yaml:"x"`
	HTTP     HTTPConfig     `yaml:"http"`
	Telegram TelegramConfig `yaml:"telegram"`
	Logging  LoggingConfig  `yaml:"logging"`
}

type UTMConfig struct {
	Enabled bool   `yaml:"enabled"`
	Source  string `yaml:"source"`
	Medium  string `yaml:"medium"`
}

type CatalogConfig struct {
	Path string `yaml:"path"`
}

type StoreConfig struct {
	Path        string `yaml:"path"`
	BusyTimeout string `yaml:"busy_timeout"` // Go duration string
}

// XConfig selects the auth method for the X API.
// Method "oauth1" uses the four user-context keys (required for media upload),
// "oauth2" uses the app bearer token.
type XConfig struct {
	Method       string `yaml:"method"`
	BearerToken  string `yaml:"bearer_token"`
	APIKey       string `yaml:"api_key"`
	APISecret    string `yaml:"api_secret"`
	AccessToken  string `yaml:"access_token"`
	AccessSecret string `yaml:"access_secret"`
	// RatePerMin caps outgoing API calls client-side.
	RatePerMin int `yaml:"rate_per_min"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

type LoggingConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
	File    string `yaml:"file"`
}

// Load reads, overrides, defaults and validates a config file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes config bytes, applies env overrides and defaults, and validates.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("yaml decode: %w", err)
	}
	cfg.applyEnv()
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv() {
	if v, ok := os.LookupEnv("XBOT_DRY_RUN"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			c.DryRun = b
		}
	}
	envStr("XBOT_X_BEARER_TOKEN", &c.X.BearerToken)
	envStr("XBOT_X_API_KEY", &c.X.APIKey)
	envStr("XBOT_X_API_SECRET", &c.X.APISecret)
	envStr("XBOT_X_ACCESS_TOKEN", &c.X.AccessToken)
	envStr("XBOT_X_ACCESS_SECRET", &c.X.AccessSecret)
	envStr("XBOT_TELEGRAM_TOKEN", &c.Telegram.Token)
}

func envStr(key string, dst *string) {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		*dst = strings.TrimSpace(v)
	}
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.Timezone) == "" {
		c.Timezone = "Europe/Madrid"
	}
	if len(c.Slots) == 0 {
		c.Slots = []string{"10:00", "13:00", "16:00", "19:00", "22:00"}
	}
	if strings.TrimSpace(c.BuildTime) == "" {
		c.BuildTime = "08:30"
	}
	if strings.TrimSpace(c.Jitter) == "" {
		c.Jitter = "15m"
	}
	if strings.TrimSpace(c.MisfireGrace) == "" {
		c.MisfireGrace = "30m"
	}
	if c.CooldownDays <= 0 {
		c.CooldownDays = 30
	}
	if c.RecentWindowDays <= 0 {
		c.RecentWindowDays = 60
	}
	if c.LivePickTop <= 0 {
		c.LivePickTop = 5
	}
	if strings.TrimSpace(c.PreviewWait) == "" {
		c.PreviewWait = "15s"
	}
	if strings.TrimSpace(c.Headline) == "" {
		c.Headline = "¡Only Techouse For You!"
	}
	if strings.TrimSpace(c.UTM.Source) == "" {
		c.UTM.Source = "X"
	}
	if strings.TrimSpace(c.UTM.Medium) == "" {
		c.UTM.Medium = "social"
	}
	if strings.TrimSpace(c.ThumbnailQuality) == "" {
		c.ThumbnailQuality = "hqdefault"
	}
	if strings.TrimSpace(c.Catalog.Path) == "" {
		c.Catalog.Path = "./data/tracks.csv"
	}
	if strings.TrimSpace(c.Store.Path) == "" {
		c.Store.Path = "./data/xbot.db"
	}
	if strings.TrimSpace(c.Store.BusyTimeout) == "" {
		c.Store.BusyTimeout = "5s"
	}
	if strings.TrimSpace(c.X.Method) == "" {
		c.X.Method = "oauth2"
	}
	if c.X.RatePerMin <= 0 {
		c.X.RatePerMin = 10
	}
	if strings.TrimSpace(c.HTTP.Addr) == "" {
		c.HTTP.Addr = "127.0.0.1:8080"
	}
	if strings.TrimSpace(c.Logging.Level) == "" {
		c.Logging.Level = "info"
	}
}

func (c *Config) validate() error {
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return fmt.Errorf("timezone: %w", err)
	}
	for i, s := range c.Slots {
		if _, _, err := ParseHHMM(s); err != nil {
			return fmt.Errorf("slots[%d]: %w", i, err)
		}
	}
	if _, _, err := ParseHHMM(c.BuildTime); err != nil {
		return fmt.Errorf("build_time: %w", err)
	}
	for _, f := range []struct {
		name, raw string
	}{
		{"jitter", c.Jitter},
		{"misfire_grace", c.MisfireGrace},
		{"preview_wait", c.PreviewWait},
		{"store.busy_timeout", c.Store.BusyTimeout},
	} {
		if _, err := ParseDurationField(f.name, f.raw); err != nil {
			return err
		}
	}
	switch strings.ToLower(c.X.Method) {
	case "oauth1", "oauth2":
	default:
		return fmt.Errorf("x.method: unknown auth method %q", c.X.Method)
	}
	return nil
}

// Location resolves the configured timezone. Config is validated at load
// time, so failure here means the tz database changed underneath us.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Timezone)
}

// JitterDuration and friends re-parse validated duration fields.

func (c *Config) JitterDuration() time.Duration { return mustDuration(c.Jitter) }

func (c *Config) MisfireGraceDuration() time.Duration { return mustDuration(c.MisfireGrace) }

func (c *Config) PreviewWaitDuration() time.Duration { return mustDuration(c.PreviewWait) }

func mustDuration(raw string) time.Duration {
	d, _ := ParseDurationField("", raw)
	return d
}

// ParseHHMM parses a local time of day: "HH:MM" or bare "HH".
func ParseHHMM(s string) (hour, minute int, err error) {
	s = strings.TrimSpace(s)
	parts := strings.Split(s, ":")
	switch len(parts) {
	case 1:
		hour, err = strconv.Atoi(parts[0])
		if err != nil {
			return 0, 0, fmt.Errorf("invalid time %q, expected HH or HH:MM", s)
		}
	case 2:
		hour, err = strconv.Atoi(parts[0])
		if err == nil {
			minute, err = strconv.Atoi(parts[1])
		}
		if err != nil {
			return 0, 0, fmt.Errorf("invalid time %q, expected HH or HH:MM", s)
		}
	default:
		return 0, 0, fmt.Errorf("invalid time %q, expected HH or HH:MM", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time %q out of range", s)
	}
	return hour, minute, nil
}
