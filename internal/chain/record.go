package chain

import "time"

// EventRecord is one decoded chain event awaiting (or past) processing.
// It is owned by the Pipeline for its processing lifetime; once
// processed it produces exactly one normalized envelope through the
// dispatcher.
type EventRecord struct {
	ID        string
	EventType string // raw chain event name, e.g. "CertificateIssued"
	Data      map[string]any
	Metadata  map[string]any // network, contractId, txHash, blockNumber, timestamp

	Processed   bool
	ProcessedAt time.Time
	RetryCount  int
	LastError   string
	NextAttempt time.Time
	CreatedAt   time.Time
}

// deliveryMetadata returns the metadata handed to processors and
// attached to outgoing envelopes. The record id rides along as
// sourceEventId so subscribers can deduplicate redundant notifications
// caused by processor retries.
func (r *EventRecord) deliveryMetadata() map[string]any {
	md := make(map[string]any, len(r.Metadata)+1)
	for key, value := range r.Metadata {
		md[key] = value
	}
	md["sourceEventId"] = r.ID
	return md
}
