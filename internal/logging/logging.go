package logging

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/pavelaron/pi-extender/internal/config"
)

// New builds the process logger from cfg.
func New(cfg config.Config) zerolog.Logger {
	return NewWithWriter(cfg, os.Stderr)
}

func NewWithWriter(cfg config.Config, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.LogPretty {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339}
	}
	return zerolog.New(w).Level(cfg.LogLevel).With().Timestamp().Str("service", "extenderd").Logger()
}
