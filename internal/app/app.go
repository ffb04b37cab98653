// Package app wires the daemon together: config, store, catalog, publisher,
// executor, scheduler and the operational HTTP surface.
package app

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"xbot/internal/catalog"
	"xbot/internal/compose"
	"xbot/internal/config"
	"xbot/internal/executor"
	"xbot/internal/httpapi"
	"xbot/internal/logging"
	"xbot/internal/notify"
	"xbot/internal/preview"
	"xbot/internal/scheduler"
	"xbot/internal/store"
	"xbot/internal/xclient"
)

type App struct {
	cfg     *config.Config
	cfgPath string
	log     zerolog.Logger
	logStop func()

	st    *store.Store
	x     *xclient.Client
	sched *scheduler.Service
	api   *httpapi.Server

	watchCancel context.CancelFunc
}

// New loads config and constructs every component. Nothing is started yet.
func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log, logStop, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	a := &App{cfg: cfg, cfgPath: cfgPath, log: log, logStop: logStop}
	if err := a.build(); err != nil {
		logStop()
		return nil, err
	}
	return a, nil
}

func (a *App) build() error {
	cfg := a.cfg

	loc, err := cfg.Location()
	if err != nil {
		return fmt.Errorf("timezone %q: %w", cfg.Timezone, err)
	}

	busy, _ := time.ParseDuration(cfg.Store.BusyTimeout)
	st, err := store.Open(store.Config{Path: cfg.Store.Path, BusyTimeout: busy})
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	a.st = st

	cat := catalog.NewStore(cfg.Catalog.Path)

	x, err := xclient.New(xclient.Config{
		Method:       cfg.X.Method,
		BearerToken:  cfg.X.BearerToken,
		APIKey:       cfg.X.APIKey,
		APISecret:    cfg.X.APISecret,
		AccessToken:  cfg.X.AccessToken,
		AccessSecret: cfg.X.AccessSecret,
		DryRun:       cfg.DryRun,
		PreviewWait:  cfg.PreviewWaitDuration(),
		RatePerMin:   cfg.X.RatePerMin,
	}, a.log)
	if err != nil {
		return fmt.Errorf("x client: %w", err)
	}
	a.x = x

	notifier, err := notify.New(notify.Config{
		Token:  cfg.Telegram.Token,
		ChatID: cfg.Telegram.ChatID,
	}, a.log)
	if err != nil {
		// Outbound notifications are best-effort; a bad token must not
		// keep the poster down.
		a.log.Warn().Err(err).Msg("telegram notifier disabled")
		notifier = nil
	}

	var thumbs executor.Thumbnailer
	if cfg.AttachThumbnail {
		thumbs = preview.NewResolver(cfg.ThumbnailQuality)
	}

	exec := executor.New(executor.Config{
		CooldownDays:     cfg.CooldownDays,
		RecentWindowDays: cfg.RecentWindowDays,
		LivePickTop:      cfg.LivePickTop,
		Location:         loc,
		Compose: compose.Config{
			Headline:   cfg.Headline,
			UTMEnabled: cfg.UTM.Enabled,
			UTMSource:  cfg.UTM.Source,
			UTMMedium:  cfg.UTM.Medium,
		},
	}, st, cat, x, thumbs, notifier, a.log)

	slots, err := parseSlots(cfg.Slots)
	if err != nil {
		return err
	}
	buildH, buildM, err := config.ParseHHMM(cfg.BuildTime)
	if err != nil {
		return fmt.Errorf("build_time %q: %w", cfg.BuildTime, err)
	}
	a.sched = scheduler.New(scheduler.Config{
		Location:     loc,
		Slots:        slots,
		BuildTime:    scheduler.HHMM{Hour: buildH, Minute: buildM},
		Jitter:       cfg.JitterDuration(),
		MisfireGrace: cfg.MisfireGraceDuration(),
	}, exec, st, a.log)

	if cfg.HTTP.Enabled {
		a.api = httpapi.New(httpapi.Config{
			Addr:     cfg.HTTP.Addr,
			Timezone: cfg.Timezone,
		}, a.sched, x, a.log)
	}
	return nil
}

// Start brings the daemon up and begins watching the config file for
// runtime-applicable changes.
func (a *App) Start(ctx context.Context) error {
	if err := a.sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	if a.api != nil {
		if err := a.api.Start(ctx); err != nil {
			a.sched.Stop()
			return fmt.Errorf("start http api: %w", err)
		}
	}

	watchCtx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	if err := config.Watch(watchCtx, a.cfgPath, a.log, a.applyConfig); err != nil {
		a.log.Warn().Err(err).Msg("config watch unavailable; runtime reload disabled")
	}

	a.log.Info().
		Bool("dry_run", a.x.DryRun()).
		Str("tz", a.cfg.Timezone).
		Msg("xbot started")
	return nil
}

func (a *App) Stop(ctx context.Context) {
	if a.watchCancel != nil {
		a.watchCancel()
	}
	if a.api != nil {
		a.api.Stop(ctx)
	}
	a.sched.Stop()
	if err := a.st.Close(); err != nil {
		a.log.Warn().Err(err).Msg("store close failed")
	}
	a.log.Info().Msg("xbot stopped")
	a.logStop()
}

// applyConfig applies the reload-safe subset of a changed config file:
// log level and dry-run. Structural changes (slots, timezone, credentials)
// still need a restart.
func (a *App) applyConfig(next *config.Config) {
	if next.Logging.Level != a.cfg.Logging.Level {
		if lvl, err := zerolog.ParseLevel(next.Logging.Level); err == nil {
			zerolog.SetGlobalLevel(lvl)
			a.log.Info().Str("level", next.Logging.Level).Msg("log level changed")
		} else {
			a.log.Warn().Str("level", next.Logging.Level).Msg("invalid log level in config reload")
		}
	}
	if next.DryRun != a.x.DryRun() {
		a.x.SetDryRun(next.DryRun)
		a.log.Info().Bool("dry_run", next.DryRun).Msg("dry-run toggled via config reload")
	}
	a.cfg = next
}

func parseSlots(raw []string) ([]scheduler.HHMM, error) {
	slots := make([]scheduler.HHMM, 0, len(raw))
	for _, s := range raw {
		h, m, err := config.ParseHHMM(s)
		if err != nil {
			return nil, fmt.Errorf("slot %q: %w", s, err)
		}
		slots = append(slots, scheduler.HHMM{Hour: h, Minute: m})
	}
	return slots, nil
}
