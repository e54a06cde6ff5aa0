package app

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dukkani/dukkani/internal/config"
)

func init() {
	zerolog.TimeFieldFormat = time.RFC3339Nano
}

// NewLogger builds the root logger. Format "console" is meant for local
// runs; anything else writes JSON lines.
func NewLogger(cfg config.LogConfig, out io.Writer) (zerolog.Logger, error) {
	if out == nil {
		out = os.Stderr
	}
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
