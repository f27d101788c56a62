package main

import (
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog"

	"pizero-gpslog/internal/config"
)

// newLogger builds the root logger. tee, when set, receives every event as
// a JSON line regardless of the console format.
func newLogger(cfg config.LogConfig, out io.Writer, tee io.Writer) (zerolog.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level %q: %w", cfg.Level, err)
	}
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	if tee != nil {
		out = zerolog.MultiLevelWriter(out, tee)
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger(), nil
}
