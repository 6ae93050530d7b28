package webhook

import (
	"sync"
	"time"
)

// MinSecretLength is the minimum accepted secret size in bytes.
// Shorter secrets make the HMAC signature trivially brute-forceable.
const MinSecretLength = 16

// Options holds per-subscription delivery settings.
type Options struct {
	// Timeout applies to each individual HTTP delivery attempt
	Timeout time.Duration

	// MaxRetries is the redelivery ceiling after the initial attempt
	MaxRetries int

	// Headers are extra headers sent with every delivery
	Headers map[string]string
}

// Stats tracks delivery outcomes for a single subscription
type Stats struct {
	TotalCalls      int64     `json:"total_calls"`
	SuccessfulCalls int64     `json:"successful_calls"`
	FailedCalls     int64     `json:"failed_calls"`
	LastCallAt      time.Time `json:"last_call_at"`
}

// Subscription is a registered webhook endpoint plus the event types it
// wants delivered. It is owned by the Registry; the Dispatcher only
// mutates its stats.
type Subscription struct {
	ID        string
	URL       string
	Secret    string
	Events    map[string]bool
	Options   Options
	CreatedAt time.Time

	// mu protects isActive and stats, which are updated concurrently
	// by the dispatcher fan-out
	mu       sync.Mutex
	isActive bool
	stats    Stats
}

// IsActive reports whether the subscription currently receives events.
func (s *Subscription) IsActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.isActive
}

// deactivate flips the subscription inactive and reports whether this
// call changed the state, so concurrent callers cannot both claim the
// transition.
func (s *Subscription) deactivate() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.isActive {
		return false
	}
	s.isActive = false
	return true
}

// Stats returns a snapshot of the subscription's delivery counters.
func (s *Subscription) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// recordAttempt counts a delivery attempt before it is made, matching
// the totalCalls-increments-on-every-attempt contract.
func (s *Subscription) recordAttempt(now time.Time) {
	s.mu.Lock()
	s.stats.TotalCalls++
	s.stats.LastCallAt = now
	s.mu.Unlock()
}

func (s *Subscription) recordSuccess() {
	s.mu.Lock()
	s.stats.SuccessfulCalls++
	s.mu.Unlock()
}

func (s *Subscription) recordFailure() {
	s.mu.Lock()
	s.stats.FailedCalls++
	s.mu.Unlock()
}

// lastCall returns the time of the most recent delivery attempt.
func (s *Subscription) lastCall() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats.LastCallAt
}

// EventTypes returns the subscribed event types as a slice.
func (s *Subscription) EventTypes() []string {
	types := make([]string, 0, len(s.Events))
	for eventType := range s.Events {
		types = append(types, eventType)
	}
	return types
}
