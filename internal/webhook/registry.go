package webhook

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"eventrelay/internal/metrics"

	"github.com/google/uuid"
)

const (
	defaultTimeout    = 10 * time.Second
	defaultMaxRetries = 5
)

// Registry holds webhook subscriptions and answers which ones listen to
// a given event type.
type Registry struct {
	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	order         []string // insertion order, kept for deterministic fan-out
}

// RegistryStats summarizes the registry and every subscription in it.
type RegistryStats struct {
	TotalSubscriptions  int                `json:"total_subscriptions"`
	ActiveSubscriptions int                `json:"active_subscriptions"`
	Subscriptions       []SubscriptionInfo `json:"subscriptions"`
}

// SubscriptionInfo is the externally visible view of a subscription.
// The secret is deliberately omitted.
type SubscriptionInfo struct {
	ID         string    `json:"id"`
	URL        string    `json:"url"`
	EventTypes []string  `json:"event_types"`
	IsActive   bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
	Stats      Stats     `json:"stats"`
}

// NewRegistry creates an empty subscription registry.
func NewRegistry() *Registry {
	return &Registry{
		subscriptions: make(map[string]*Subscription),
	}
}

// Register adds a subscription and returns its id. The secret must be
// at least MinSecretLength bytes and eventTypes must be non-empty.
func (r *Registry) Register(url, secret string, eventTypes []string, opts Options) (string, error) {
	if url == "" {
		return "", fmt.Errorf("registry: url is required")
	}
	if len(secret) < MinSecretLength {
		return "", fmt.Errorf("registry: secret must be at least %d bytes", MinSecretLength)
	}
	if len(eventTypes) == 0 {
		return "", fmt.Errorf("registry: at least one event type is required")
	}

	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	} else if opts.MaxRetries == 0 {
		opts.MaxRetries = defaultMaxRetries
	}

	events := make(map[string]bool, len(eventTypes))
	for _, eventType := range eventTypes {
		if eventType == "" {
			return "", fmt.Errorf("registry: empty event type")
		}
		events[eventType] = true
	}

	sub := &Subscription{
		ID:        uuid.NewString(),
		URL:       url,
		Secret:    secret,
		Events:    events,
		Options:   opts,
		CreatedAt: time.Now().UTC(),
		isActive:  true,
	}

	r.mu.Lock()
	r.subscriptions[sub.ID] = sub
	r.order = append(r.order, sub.ID)
	r.mu.Unlock()

	metrics.ActiveSubscriptions.Inc()
	slog.Info("Webhook subscription registered",
		"subscription_id", sub.ID,
		"url", sub.URL,
		"event_types", eventTypes,
	)

	return sub.ID, nil
}

// Unregister removes a subscription. Returns false if the id is unknown.
func (r *Registry) Unregister(id string) bool {
	r.mu.Lock()
	sub, ok := r.subscriptions[id]
	if ok {
		delete(r.subscriptions, id)
		for i, sid := range r.order {
			if sid == id {
				r.order = append(r.order[:i], r.order[i+1:]...)
				break
			}
		}
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if sub.deactivate() {
		metrics.ActiveSubscriptions.Dec()
	}
	slog.Info("Webhook subscription unregistered", "subscription_id", id)
	return true
}

// Deactivate stops deliveries to a subscription without removing it.
func (r *Registry) Deactivate(id string) bool {
	r.mu.RLock()
	sub, ok := r.subscriptions[id]
	r.mu.RUnlock()

	if !ok {
		return false
	}
	if sub.deactivate() {
		metrics.ActiveSubscriptions.Dec()
		slog.Info("Webhook subscription deactivated", "subscription_id", id)
	}
	return true
}

// Get looks up a subscription by id.
func (r *Registry) Get(id string) (*Subscription, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sub, ok := r.subscriptions[id]
	return sub, ok
}

// Matching returns the active subscriptions listening for eventType, in
// insertion order.
func (r *Registry) Matching(eventType string) []*Subscription {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var matching []*Subscription
	for _, id := range r.order {
		sub := r.subscriptions[id]
		if sub != nil && sub.IsActive() && sub.Events[eventType] {
			matching = append(matching, sub)
		}
	}
	return matching
}

// Stats returns registry-wide counters plus per-subscription detail.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{
		TotalSubscriptions: len(r.subscriptions),
		Subscriptions:      make([]SubscriptionInfo, 0, len(r.subscriptions)),
	}
	for _, id := range r.order {
		sub := r.subscriptions[id]
		if sub == nil {
			continue
		}
		active := sub.IsActive()
		if active {
			stats.ActiveSubscriptions++
		}
		stats.Subscriptions = append(stats.Subscriptions, SubscriptionInfo{
			ID:         sub.ID,
			URL:        sub.URL,
			EventTypes: sub.EventTypes(),
			IsActive:   active,
			CreatedAt:  sub.CreatedAt,
			Stats:      sub.Stats(),
		})
	}
	return stats
}

// CleanupInactive removes inactive subscriptions whose last delivery
// attempt is older than maxAge. Returns the number removed.
func (r *Registry) CleanupInactive(maxAge time.Duration) int {
	now := time.Now().UTC()

	r.mu.Lock()
	var removed []string
	for id, sub := range r.subscriptions {
		if sub.IsActive() {
			continue
		}
		last := sub.lastCall()
		if last.IsZero() {
			last = sub.CreatedAt
		}
		if now.Sub(last) > maxAge {
			delete(r.subscriptions, id)
			removed = append(removed, id)
		}
	}
	if len(removed) > 0 {
		kept := r.order[:0]
		for _, id := range r.order {
			if _, ok := r.subscriptions[id]; ok {
				kept = append(kept, id)
			}
		}
		r.order = kept
	}
	r.mu.Unlock()

	if len(removed) > 0 {
		slog.Info("Cleaned up inactive webhook subscriptions", "removed", len(removed))
	}
	return len(removed)
}
