package obs

import (
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	loggerMu sync.RWMutex
	logger   = zerolog.New(os.Stdout).With().Timestamp().Logger()
)

// NewLogger builds a logger for service. The development environment gets
// human-readable console output, everything else JSON lines.
func NewLogger(service, env, level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339Nano

	var l zerolog.Logger
	if env == "development" {
		out := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
		l = zerolog.New(out).With().Timestamp().Str("service", service).Logger()
	} else {
		l = zerolog.New(os.Stdout).With().Timestamp().Str("service", service).Logger()
	}
	l = l.Level(lvl)
	if err != nil && level != "" {
		l.Warn().Str("log_level", level).Msg("invalid log level, using info")
	}
	return l
}

// SetLogger replaces the shared logger. Call once during startup.
func SetLogger(l zerolog.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

// Logger returns the shared structured logger used across the service.
func Logger() *zerolog.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	l := logger
	return &l
}
