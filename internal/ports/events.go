package ports

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// EventLevel is the severity attached to an engine event.
type EventLevel string

const (
	EventInfo    EventLevel = "INFO"
	EventWarning EventLevel = "WARNING"
	EventError   EventLevel = "ERROR"
)

// Event is a structured record of an engine transition (approve, reject,
// execute, close) intended for an external observability sink.
type Event struct {
	ID      string                 // Stable identifier for deduplication downstream
	Source  string                 // Emitting component (e.g. "risk_manager", "execution")
	Level   EventLevel             // Severity
	Message string                 // Human-readable summary
	Fields  map[string]interface{} // Structured payload
	At      time.Time              // Emission time
}

// NewEvent builds an Event with a fresh ID and timestamp.
func NewEvent(source string, level EventLevel, msg string, fields map[string]interface{}) Event {
	return Event{
		ID:      uuid.NewString(),
		Source:  source,
		Level:   level,
		Message: msg,
		Fields:  fields,
		At:      time.Now().UTC(),
	}
}

// EventSink receives engine events. Implementations must be safe for
// concurrent use; a sink must never block the decision or monitor path.
type EventSink interface {
	Emit(ctx context.Context, event Event)
}
