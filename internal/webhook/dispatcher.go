package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"eventrelay/internal/metrics"
)

const userAgent = "eventrelay-webhook/1.0"

// DispatcherConfig controls the delivery fan-out.
type DispatcherConfig struct {
	// MaxConcurrentDeliveries bounds the fan-out across all subscribers
	MaxConcurrentDeliveries int
}

// DefaultDispatcherConfig returns the dispatcher defaults.
func DefaultDispatcherConfig() DispatcherConfig {
	return DispatcherConfig{
		MaxConcurrentDeliveries: 10,
	}
}

// Dispatcher fans events out to matching subscriptions, performs the
// HTTP deliveries, records per-subscription stats, and hands failed
// attempts to the retry scheduler.
type Dispatcher struct {
	registry  *Registry
	scheduler *RetryScheduler
	client    *http.Client
	sem       chan struct{}
}

// NewDispatcher creates a dispatcher. The scheduler may be nil, in
// which case failed deliveries are never retried.
func NewDispatcher(registry *Registry, scheduler *RetryScheduler, config DispatcherConfig) *Dispatcher {
	if config.MaxConcurrentDeliveries <= 0 {
		config.MaxConcurrentDeliveries = DefaultDispatcherConfig().MaxConcurrentDeliveries
	}
	return &Dispatcher{
		registry:  registry,
		scheduler: scheduler,
		client:    &http.Client{},
		sem:       make(chan struct{}, config.MaxConcurrentDeliveries),
	}
}

// SendEvent builds one envelope for the logical event and delivers it
// concurrently to every matching subscription. Zero matching
// subscriptions is a no-op, not an error. The call returns once all
// initial attempts have settled; individual failures are isolated and
// queued for retry instead of being surfaced to the publisher.
func (d *Dispatcher) SendEvent(ctx context.Context, eventType string, data, metadata map[string]any) {
	subs := d.registry.Matching(eventType)
	if len(subs) == 0 {
		slog.Debug("No webhook subscriptions for event", "event_type", eventType)
		return
	}

	envelope := NewEnvelope(eventType, data, metadata)
	metrics.EventsDispatched.WithLabelValues(eventType).Inc()
	slog.Info("Dispatching event to subscribers",
		"event_type", eventType,
		"envelope_id", envelope.ID,
		"subscribers", len(subs),
	)

	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(sub *Subscription) {
			defer wg.Done()
			d.sem <- struct{}{}
			defer func() { <-d.sem }()

			if err := d.attempt(ctx, sub, envelope); err != nil {
				d.handleFailure(sub, eventType, data, metadata, err)
			}
		}(sub)
	}
	wg.Wait()
}

// Redeliver performs one retry attempt for an item popped from the
// retry queue. A fresh envelope is built so the attempt carries its own
// id, timestamp, and signature.
func (d *Dispatcher) Redeliver(ctx context.Context, item *RetryItem) error {
	envelope := NewEnvelope(item.EventType, item.Data, item.Metadata)
	return d.attempt(ctx, item.Subscription, envelope)
}

// attempt performs a single HTTP delivery to one subscription and
// updates its stats. Any non-2xx response, transport error, or timeout
// is a failure.
func (d *Dispatcher) attempt(ctx context.Context, sub *Subscription, envelope *Envelope) error {
	body, err := json.Marshal(envelope)
	if err != nil {
		sub.recordAttempt(time.Now().UTC())
		sub.recordFailure()
		return fmt.Errorf("marshal envelope: %w", err)
	}

	// A missing secret is fatal to this attempt only; registration
	// enforces the minimum length so this should not happen in practice
	if sub.Secret == "" {
		sub.recordAttempt(time.Now().UTC())
		sub.recordFailure()
		return fmt.Errorf("subscription %s has no signing secret", sub.ID)
	}
	signature := Sign(sub.Secret, body)

	attemptCtx, cancel := context.WithTimeout(ctx, sub.Options.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(attemptCtx, http.MethodPost, sub.URL, bytes.NewReader(body))
	if err != nil {
		sub.recordAttempt(time.Now().UTC())
		sub.recordFailure()
		return fmt.Errorf("create delivery request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", envelope.Event)
	req.Header.Set("X-Webhook-ID", sub.ID)
	req.Header.Set("User-Agent", userAgent)
	for key, value := range sub.Options.Headers {
		req.Header.Set(key, value)
	}

	start := time.Now()
	sub.recordAttempt(start.UTC())

	resp, err := d.client.Do(req)
	metrics.DeliveryDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		sub.recordFailure()
		metrics.DeliveryAttempts.WithLabelValues("error").Inc()
		return fmt.Errorf("deliver to %s: %w", sub.URL, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		sub.recordSuccess()
		metrics.DeliveryAttempts.WithLabelValues("success").Inc()
		slog.Info("Webhook delivered",
			"subscription_id", sub.ID,
			"envelope_id", envelope.ID,
			"status", resp.StatusCode,
		)
		return nil
	}

	sub.recordFailure()
	metrics.DeliveryAttempts.WithLabelValues("failure").Inc()
	return fmt.Errorf("endpoint returned status %d", resp.StatusCode)
}

// handleFailure queues a failed initial delivery for retry, or logs it
// as terminal when the subscription has no retry budget.
func (d *Dispatcher) handleFailure(sub *Subscription, eventType string, data, metadata map[string]any, cause error) {
	slog.Error("Webhook delivery failed",
		"subscription_id", sub.ID,
		"event_type", eventType,
		"error", cause,
	)

	if d.scheduler == nil || sub.Options.MaxRetries <= 0 {
		metrics.RetriesExhausted.Inc()
		slog.Error("Webhook delivery permanently failed, no retries configured",
			"subscription_id", sub.ID,
			"event_type", eventType,
		)
		return
	}

	d.scheduler.Enqueue(&RetryItem{
		Subscription: sub,
		EventType:    eventType,
		Data:         data,
		Metadata:     metadata,
	})
}
