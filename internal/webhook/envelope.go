package webhook

import (
	"time"

	"github.com/google/uuid"
)

// Envelope is the normalized wire representation of a domain event.
// One envelope is built per logical event and shared by every matching
// subscriber on the initial fan-out; retries build a fresh one so each
// attempt carries its own id and timestamp.
type Envelope struct {
	ID        string         `json:"id"`
	Event     string         `json:"event"`
	Timestamp int64          `json:"timestamp"`
	Data      map[string]any `json:"data"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// NewEnvelope builds an envelope with a fresh id and the current time
// in Unix milliseconds.
func NewEnvelope(eventType string, data, metadata map[string]any) *Envelope {
	return &Envelope{
		ID:        uuid.NewString(),
		Event:     eventType,
		Timestamp: time.Now().UnixMilli(),
		Data:      data,
		Metadata:  metadata,
	}
}
