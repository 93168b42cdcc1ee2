package events

import (
	"context"
	"io"
	"os"

	"github.com/rs/zerolog"

	"signalEngine/internal/ports"
)

// LogSink writes engine events as structured log lines on a dedicated
// zerolog stream, one JSON object per event. The event ID makes the stream
// safe to ship to an external collector and deduplicate there.
type LogSink struct {
	log zerolog.Logger
}

// NewLogSink creates a sink writing to out, or stdout when out is nil.
func NewLogSink(out io.Writer) *LogSink {
	if out == nil {
		out = os.Stdout
	}
	log := zerolog.New(out).With().Timestamp().Str("stream", "events").Logger()
	return &LogSink{log: log}
}

// Emit writes the event. It never blocks and never fails the caller.
func (s *LogSink) Emit(ctx context.Context, event ports.Event) {
	var e *zerolog.Event
	switch event.Level {
	case ports.EventError:
		e = s.log.Error()
	case ports.EventWarning:
		e = s.log.Warn()
	default:
		e = s.log.Info()
	}
	e = e.Str("eventID", event.ID).
		Str("source", event.Source).
		Time("at", event.At)
	if len(event.Fields) > 0 {
		e = e.Fields(event.Fields)
	}
	e.Msg(event.Message)
}

// Discard is an EventSink that drops everything. Useful in tests and tools
// that do not care about the event stream.
type Discard struct{}

func (Discard) Emit(ctx context.Context, event ports.Event) {}
