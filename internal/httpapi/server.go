// Package httpapi exposes the small operational surface: a liveness probe
// and a manual slot trigger. It is off unless an address is configured.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Trigger fires one slot outside its schedule.
type Trigger interface {
	RunSlotNow(ctx context.Context, slot int) error
}

// DryRunner reports whether publishing is currently simulated.
type DryRunner interface {
	DryRun() bool
}

type Config struct {
	Addr     string
	Timezone string
}

type Server struct {
	mu sync.Mutex

	cfg     Config
	log     zerolog.Logger
	trigger Trigger
	dry     DryRunner
	started atomic.Int64 // unix start time, 0 until Start

	ln  net.Listener
	srv *http.Server
}

func New(cfg Config, trigger Trigger, dry DryRunner, log zerolog.Logger) *Server {
	return &Server{
		cfg:     cfg,
		log:     log.With().Str("component", "httpapi").Logger(),
		trigger: trigger,
		dry:     dry,
	}
}

func (s *Server) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.srv != nil {
		return nil
	}

	ln, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		return err
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/post-now", s.handlePostNow(ctx))

	srv := &http.Server{
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.ln = ln
	s.srv = srv
	s.started.Store(time.Now().Unix())

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error().Err(err).Msg("http server stopped with error")
		}
	}()
	s.log.Info().Str("addr", ln.Addr().String()).Msg("http api listening")
	return nil
}

func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.srv
	s.srv = nil
	s.ln = nil
	s.mu.Unlock()
	if srv == nil {
		return
	}
	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.log.Warn().Err(err).Msg("http shutdown forced")
		_ = srv.Close()
	}
}

// Addr returns the bound listen address, for tests with Addr ":0".
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return ""
	}
	return s.ln.Addr().String()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	resp := struct {
		Status   string `json:"status"`
		DryRun   bool   `json:"dry_run"`
		Timezone string `json:"timezone"`
		UptimeS  int64  `json:"uptime_s"`
	}{
		Status:   "ok",
		DryRun:   s.dry != nil && s.dry.DryRun(),
		Timezone: s.cfg.Timezone,
		UptimeS:  time.Now().Unix() - s.started.Load(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

// handlePostNow triggers one slot immediately. The firing itself runs async;
// the response only acknowledges the trigger.
func (s *Server) handlePostNow(ctx context.Context) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		slot, err := strconv.Atoi(r.URL.Query().Get("slot"))
		if err != nil {
			http.Error(w, "slot must be an integer", http.StatusBadRequest)
			return
		}
		if err := s.trigger.RunSlotNow(ctx, slot); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		s.log.Info().Int("slot", slot).Str("remote", r.RemoteAddr).Msg("manual slot trigger accepted")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("triggered\n"))
	}
}
