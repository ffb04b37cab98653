// Package logging builds the process-wide zerolog logger from config.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"xbot/internal/config"
)

const consoleTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// New returns a configured logger plus a close function for the optional
// file sink. The returned logger is safe to copy and derive with With().
// The level is applied globally, not pinned per logger, so a config reload
// can raise verbosity through zerolog.SetGlobalLevel at runtime.
func New(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	zerolog.SetGlobalLevel(parseLevel(cfg.Level))

	var sinks []io.Writer
	if cfg.Console {
		sinks = append(sinks, zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: consoleTimeFormat})
	} else {
		sinks = append(sinks, os.Stdout)
	}

	closeFn := func() {}
	if strings.TrimSpace(cfg.File) != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), closeFn, err
		}
		sinks = append(sinks, f)
		closeFn = func() { _ = f.Close() }
	}

	w := sinks[0]
	if len(sinks) > 1 {
		w = zerolog.MultiLevelWriter(sinks...)
	}
	log := zerolog.New(w).With().Timestamp().Logger()
	return log, closeFn, nil
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "":
		return zerolog.InfoLevel
	default:
		return zerolog.InfoLevel
	}
}

// init pins zerolog's global time format so file (JSON) and console sinks agree.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}
