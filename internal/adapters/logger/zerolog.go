package logger

import (
	"context"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// ZerologAdapter implements ports.Logger on top of zerolog.
type ZerologAdapter struct {
	log zerolog.Logger
}

// Config holds configuration for the zerolog adapter.
type Config struct {
	Level  string    // debug, info, warn, error (default info)
	Pretty bool      // Human-readable console output instead of JSON
	Out    io.Writer // Defaults to stderr
}

// New creates a zerolog-backed logger.
func New(cfg Config) *ZerologAdapter {
	out := cfg.Out
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05"}
	}

	level := parseLevel(cfg.Level)
	log := zerolog.New(out).Level(level).With().Timestamp().Logger()
	return &ZerologAdapter{log: log}
}

func parseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

func (z *ZerologAdapter) event(e *zerolog.Event, msg string, fields []map[string]interface{}) {
	for _, f := range fields {
		e = e.Fields(f)
	}
	e.Msg(msg)
}

func (z *ZerologAdapter) Debug(ctx context.Context, msg string, fields ...map[string]interface{}) {
	z.event(z.log.Debug(), msg, fields)
}

func (z *ZerologAdapter) Info(ctx context.Context, msg string, fields ...map[string]interface{}) {
	z.event(z.log.Info(), msg, fields)
}

func (z *ZerologAdapter) Warn(ctx context.Context, msg string, fields ...map[string]interface{}) {
	z.event(z.log.Warn(), msg, fields)
}

func (z *ZerologAdapter) Error(ctx context.Context, err error, msg string, fields ...map[string]interface{}) {
	z.event(z.log.Error().Err(err), msg, fields)
}
