// Package scheduler drives the daily cadence: one cron entry per posting
// slot plus one for the morning queue build, all evaluated in the configured
// timezone. Firings are decoupled from the executor through the Runner
// interface so the cadence logic stays testable without a real publish path.
package scheduler

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"xbot/internal/store"
)

// Runner is the slot executor seen from the cadence side.
type Runner interface {
	RunSlot(ctx context.Context, slot int)
	BuildQueue(ctx context.Context, now time.Time, slotTimes []time.Time) error
}

// QueueInspector is the read-only queue view used for catch-up decisions.
type QueueInspector interface {
	SlotStatus(ctx context.Context, day string, slot int) (status string, ok bool, err error)
	ListDay(ctx context.Context, day string) ([]store.QueueItem, error)
}

// HHMM is a wall-clock time of day.
type HHMM struct {
	Hour   int
	Minute int
}

func (h HHMM) String() string { return fmt.Sprintf("%02d:%02d", h.Hour, h.Minute) }

// spec renders the standard five-field cron line for a daily firing.
func (h HHMM) spec() string { return fmt.Sprintf("%d %d * * *", h.Minute, h.Hour) }

// at anchors the wall-clock time onto a concrete day in loc.
func (h HHMM) at(day time.Time, loc *time.Location) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), h.Hour, h.Minute, 0, 0, loc)
}

type Config struct {
	Location     *time.Location
	Slots        []HHMM
	BuildTime    HHMM
	Jitter       time.Duration
	MisfireGrace time.Duration
}

type Service struct {
	mu sync.Mutex

	cfg Config
	log zerolog.Logger

	runner Runner
	queue  QueueInspector

	c      *cron.Cron
	stopCh chan struct{}

	// one flag per slot index, plus one for the build job
	running      []bool
	buildRunning bool

	rngMu sync.Mutex
	rng   *rand.Rand
	now   func() time.Time
}

func New(cfg Config, runner Runner, queue QueueInspector, log zerolog.Logger) *Service {
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Service{
		cfg:     cfg,
		log:     log.With().Str("component", "scheduler").Logger(),
		runner:  runner,
		queue:   queue,
		running: make([]bool, len(cfg.Slots)),
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
		now:     time.Now,
	}
}

// SetClock replaces the wall clock, for tests.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

// SetRand replaces the jitter source, for tests.
func (s *Service) SetRand(rng *rand.Rand) { s.rng = rng }

// Start registers the cron entries and launches catch-up checks for
// firings missed while the process was down. Calling Start twice is a no-op.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh != nil {
		return nil
	}
	s.stopCh = make(chan struct{})

	s.c = cron.New(cron.WithLocation(s.cfg.Location))
	for i, slot := range s.cfg.Slots {
		i, slot := i, slot
		if _, err := s.c.AddFunc(slot.spec(), func() { s.fireSlot(ctx, i, slot, true) }); err != nil {
			return fmt.Errorf("register slot %d (%s): %w", i, slot, err)
		}
	}
	if _, err := s.c.AddFunc(s.cfg.BuildTime.spec(), func() { s.fireBuild(ctx) }); err != nil {
		return fmt.Errorf("register queue build (%s): %w", s.cfg.BuildTime, err)
	}
	s.c.Start()

	go s.catchUp(ctx, s.stopCh)

	s.log.Info().
		Int("slots", len(s.cfg.Slots)).
		Str("build_time", s.cfg.BuildTime.String()).
		Str("tz", s.cfg.Location.String()).
		Msg("scheduler started")
	return nil
}

func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopCh == nil {
		return
	}
	close(s.stopCh)
	s.stopCh = nil
	<-s.c.Stop().Done()
	s.c = nil
	s.log.Info().Msg("scheduler stopped")
}

// RunSlotNow fires one slot immediately, bypassing jitter and the misfire
// check. Used by the manual trigger surface.
func (s *Service) RunSlotNow(ctx context.Context, slot int) error {
	if slot < 0 || slot >= len(s.cfg.Slots) {
		return fmt.Errorf("slot %d out of range [0,%d)", slot, len(s.cfg.Slots))
	}
	go s.fireSlot(ctx, slot, s.cfg.Slots[slot], false)
	return nil
}

// Slots returns the configured wall-clock slot times.
func (s *Service) Slots() []HHMM { return append([]HHMM(nil), s.cfg.Slots...) }

// fireSlot is the cron entry body for one slot. scheduled=true applies the
// misfire check and random jitter; a manual trigger skips both.
func (s *Service) fireSlot(ctx context.Context, slot int, at HHMM, scheduled bool) {
	if !s.tryAcquireSlot(slot) {
		s.log.Warn().Int("slot", slot).Msg("previous firing still running; slot fire skipped")
		return
	}
	defer s.releaseSlot(slot)

	now := s.now()
	if scheduled {
		nominal := at.at(now.In(s.cfg.Location), s.cfg.Location)
		if late := now.Sub(nominal); late > s.cfg.MisfireGrace {
			s.log.Warn().Int("slot", slot).Dur("late", late).Msg("firing past misfire grace; dropped")
			return
		}
		if !s.sleepJitter(ctx) {
			return
		}
	}
	s.runner.RunSlot(ctx, slot)
}

func (s *Service) fireBuild(ctx context.Context) {
	s.mu.Lock()
	if s.buildRunning {
		s.mu.Unlock()
		s.log.Warn().Msg("previous queue build still running; build fire skipped")
		return
	}
	s.buildRunning = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.buildRunning = false
		s.mu.Unlock()
	}()

	now := s.now().In(s.cfg.Location)
	if err := s.runner.BuildQueue(ctx, now, s.slotTimesFor(now)); err != nil {
		s.log.Error().Err(err).Msg("queue build failed")
	}
}

// slotTimesFor anchors the configured slots onto a concrete day.
func (s *Service) slotTimesFor(day time.Time) []time.Time {
	times := make([]time.Time, len(s.cfg.Slots))
	for i, slot := range s.cfg.Slots {
		times[i] = slot.at(day, s.cfg.Location)
	}
	return times
}

// sleepJitter waits a uniform random delay before the publish so firings do
// not land on the exact minute. Returns false when the context ended first.
func (s *Service) sleepJitter(ctx context.Context) bool {
	if s.cfg.Jitter <= 0 {
		return true
	}
	s.rngMu.Lock()
	d := time.Duration(s.rng.Int63n(int64(s.cfg.Jitter) + 1))
	s.rngMu.Unlock()

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	case <-s.stopChan():
		return false
	}
}

// stopChan snapshots the current stop channel; nil (not started, or already
// stopped) blocks forever in a select.
func (s *Service) stopChan() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopCh
}

func (s *Service) tryAcquireSlot(slot int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running[slot] {
		return false
	}
	s.running[slot] = true
	return true
}

func (s *Service) releaseSlot(slot int) {
	s.mu.Lock()
	s.running[slot] = false
	s.mu.Unlock()
}

// catchUp reconciles after downtime: run the queue build if its time already
// passed today and no rows exist, then fire any slot whose nominal time
// passed within the misfire grace while its row is still pending. Runs once
// at Start; stop aborts it.
func (s *Service) catchUp(ctx context.Context, stop <-chan struct{}) {
	now := s.now().In(s.cfg.Location)
	day := store.DayOf(now)

	if now.After(s.cfg.BuildTime.at(now, s.cfg.Location)) {
		items, err := s.queue.ListDay(ctx, day)
		if err != nil {
			s.log.Error().Err(err).Msg("catch-up: queue read failed")
		} else if len(items) == 0 {
			s.log.Info().Str("day", day).Msg("catch-up: building missed queue")
			s.fireBuild(ctx)
		}
	}

	for i, slot := range s.cfg.Slots {
		select {
		case <-stop:
			return
		default:
		}
		nominal := slot.at(now, s.cfg.Location)
		late := now.Sub(nominal)
		if late <= 0 || late > s.cfg.MisfireGrace {
			continue
		}
		status, ok, err := s.queue.SlotStatus(ctx, day, i)
		if err != nil {
			s.log.Error().Err(err).Int("slot", i).Msg("catch-up: slot status read failed")
			continue
		}
		if !ok || status != store.StatusPending {
			continue
		}
		s.log.Info().Int("slot", i).Dur("late", late).Msg("catch-up: firing missed slot")
		go s.fireSlot(ctx, i, slot, false)
	}
}
