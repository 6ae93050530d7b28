package webhook

import (
	"context"
	"log/slog"
	"math"
	"sync"
	"time"

	"eventrelay/internal/metrics"
)

// RetryItem is one pending redelivery. The item references, but does
// not own, its subscription.
type RetryItem struct {
	Subscription *Subscription
	EventType    string
	Data         map[string]any
	Metadata     map[string]any
	RetryCount   int
	NextRetryAt  time.Time
	CreatedAt    time.Time
}

// DeliveryTarget is what the scheduler re-invokes for due items. The
// Dispatcher implements it.
type DeliveryTarget interface {
	Redeliver(ctx context.Context, item *RetryItem) error
}

// SchedulerConfig controls retry timing.
type SchedulerConfig struct {
	// BaseDelay is the delay before the first retry; the Nth retry is
	// delayed by BaseDelay * 2^N
	BaseDelay time.Duration

	// TickInterval is how often the queue is scanned for due items
	TickInterval time.Duration
}

// DefaultSchedulerConfig returns the scheduler defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		BaseDelay:    5 * time.Second,
		TickInterval: time.Second,
	}
}

// RetryScheduler holds failed deliveries and re-dispatches them with
// exponential backoff until success or the per-subscription ceiling.
// Retry timing is tick-driven, so actual retry times have jitter
// bounded by the tick interval.
type RetryScheduler struct {
	config SchedulerConfig

	mu    sync.Mutex
	items []*RetryItem

	now func() time.Time
}

// NewRetryScheduler creates a scheduler; Start must be called to drive
// the tick loop.
func NewRetryScheduler(config SchedulerConfig) *RetryScheduler {
	defaults := DefaultSchedulerConfig()
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	return &RetryScheduler{
		config: config,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

// Enqueue adds a failed delivery to the retry queue. The first retry is
// scheduled one base delay from now.
func (s *RetryScheduler) Enqueue(item *RetryItem) {
	now := s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	if item.NextRetryAt.IsZero() {
		item.NextRetryAt = now.Add(s.backoffDelay(item.RetryCount))
	}

	s.mu.Lock()
	s.items = append(s.items, item)
	depth := len(s.items)
	s.mu.Unlock()

	metrics.RetryQueueDepth.Set(float64(depth))
	slog.Info("Delivery queued for retry",
		"subscription_id", item.Subscription.ID,
		"event_type", item.EventType,
		"retry_count", item.RetryCount,
		"next_retry_at", item.NextRetryAt,
	)
}

// Start runs the tick loop until ctx is cancelled. Each due item is
// retried in its own goroutine so slow deliveries never block the tick.
func (s *RetryScheduler) Start(ctx context.Context, target DeliveryTarget) {
	go func() {
		ticker := time.NewTicker(s.config.TickInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.dispatchDue(ctx, target)
			}
		}
	}()
}

// Size returns the number of items currently queued.
func (s *RetryScheduler) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// dispatchDue removes every due item from the queue and retries each
// concurrently. An item is out of the queue while its attempt is in
// flight, so there is never more than one concurrent attempt per item.
func (s *RetryScheduler) dispatchDue(ctx context.Context, target DeliveryTarget) {
	now := s.now()

	s.mu.Lock()
	var due []*RetryItem
	kept := s.items[:0]
	for _, item := range s.items {
		if !item.NextRetryAt.After(now) {
			due = append(due, item)
		} else {
			kept = append(kept, item)
		}
	}
	s.items = kept
	depth := len(s.items)
	s.mu.Unlock()

	metrics.RetryQueueDepth.Set(float64(depth))

	for _, item := range due {
		go s.retryOne(ctx, target, item)
	}
}

// retryOne performs a single retry attempt and either drops the item on
// success, reschedules it with exponential backoff, or abandons it when
// the subscription's ceiling is reached.
func (s *RetryScheduler) retryOne(ctx context.Context, target DeliveryTarget, item *RetryItem) {
	err := target.Redeliver(ctx, item)
	if err == nil {
		slog.Info("Webhook retry succeeded",
			"subscription_id", item.Subscription.ID,
			"event_type", item.EventType,
			"retry_count", item.RetryCount+1,
		)
		return
	}

	item.RetryCount++
	if item.RetryCount >= item.Subscription.Options.MaxRetries {
		metrics.RetriesExhausted.Inc()
		slog.Error("Webhook delivery permanently failed, dropping from retry queue",
			"subscription_id", item.Subscription.ID,
			"event_type", item.EventType,
			"retry_count", item.RetryCount,
			"error", err,
		)
		return
	}

	item.NextRetryAt = s.now().Add(s.backoffDelay(item.RetryCount))
	slog.Warn("Webhook retry failed, rescheduling",
		"subscription_id", item.Subscription.ID,
		"event_type", item.EventType,
		"retry_count", item.RetryCount,
		"next_retry_at", item.NextRetryAt,
		"error", err,
	)

	s.mu.Lock()
	s.items = append(s.items, item)
	depth := len(s.items)
	s.mu.Unlock()

	metrics.RetryQueueDepth.Set(float64(depth))
}

// backoffDelay returns BaseDelay * 2^retryCount.
func (s *RetryScheduler) backoffDelay(retryCount int) time.Duration {
	if retryCount < 0 {
		retryCount = 0
	}
	multiplier := math.Pow(2, float64(retryCount))
	delay := time.Duration(float64(s.config.BaseDelay) * multiplier)
	if delay < 0 {
		return s.config.BaseDelay
	}
	return delay
}
