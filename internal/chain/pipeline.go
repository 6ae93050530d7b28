package chain

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"eventrelay/internal/metrics"

	"github.com/google/uuid"
)

// EventSink is where processed events are published. The webhook
// dispatcher implements it.
type EventSink interface {
	SendEvent(ctx context.Context, eventType string, data, metadata map[string]any)
}

// ProcessorFunc handles one decoded chain event: it builds the
// normalized payload and publishes it through the sink.
type ProcessorFunc func(ctx context.Context, data, metadata map[string]any) error

// PipelineConfig controls ingestion retry timing.
type PipelineConfig struct {
	// MaxAttempts is the ingestion retry ceiling, distinct from the
	// delivery retry ceiling
	MaxAttempts int

	// BackoffStep delays the Nth reprocessing attempt by BackoffStep * N
	BackoffStep time.Duration

	// TickInterval is how often the pending queue is drained
	TickInterval time.Duration
}

// DefaultPipelineConfig returns the ingestion defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxAttempts:  3,
		BackoffStep:  5 * time.Second,
		TickInterval: time.Second,
	}
}

// PipelineStats summarizes the state of the ingestion pipeline.
type PipelineStats struct {
	TotalEvents     int            `json:"total_events"`
	PendingEvents   int            `json:"pending_events"`
	ProcessedEvents int            `json:"processed_events"`
	FailedEvents    int            `json:"failed_events"`
	EventTypes      map[string]int `json:"event_types"`
}

// Pipeline owns decoded chain event records and drains them through the
// per-event-type processor registry. Listeners register events
// concurrently; processing itself is a single serialized consumer so
// one event's side effects settle before the next begins.
type Pipeline struct {
	config     PipelineConfig
	sink       EventSink
	processors map[string]ProcessorFunc

	mu      sync.Mutex
	records map[string]*EventRecord
	pending []string

	kick chan struct{}
}

// NewPipeline creates an ingestion pipeline publishing into sink.
func NewPipeline(sink EventSink, config PipelineConfig) *Pipeline {
	defaults := DefaultPipelineConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.BackoffStep <= 0 {
		config.BackoffStep = defaults.BackoffStep
	}
	if config.TickInterval <= 0 {
		config.TickInterval = defaults.TickInterval
	}
	return &Pipeline{
		config:     config,
		sink:       sink,
		processors: make(map[string]ProcessorFunc),
		records:    make(map[string]*EventRecord),
		kick:       make(chan struct{}, 1),
	}
}

// RegisterProcessor binds a processor to a raw chain event name.
// Processors must be registered before Run; the registry is static
// afterwards.
func (p *Pipeline) RegisterProcessor(eventType string, fn ProcessorFunc) {
	p.processors[eventType] = fn
}

// Register queues a decoded chain event for processing and returns the
// record id. Safe to call concurrently from any listener.
func (p *Pipeline) Register(eventType string, data, metadata map[string]any) string {
	record := &EventRecord{
		ID:        uuid.NewString(),
		EventType: eventType,
		Data:      data,
		Metadata:  metadata,
		CreatedAt: time.Now().UTC(),
	}

	p.mu.Lock()
	p.records[record.ID] = record
	p.pending = append(p.pending, record.ID)
	pending := len(p.pending)
	p.mu.Unlock()

	metrics.ChainEventsIngested.WithLabelValues(eventType).Inc()
	metrics.PendingChainEvents.Set(float64(pending))
	slog.Info("Chain event registered",
		"event_id", record.ID,
		"event_type", eventType,
		"pending", pending,
	)

	// Wake the processing loop without blocking the listener
	select {
	case p.kick <- struct{}{}:
	default:
	}

	return record.ID
}

// Run drives the serialized processing loop until ctx is cancelled.
func (p *Pipeline) Run(ctx context.Context) {
	ticker := time.NewTicker(p.config.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.kick:
			p.drainPending(ctx)
		case <-ticker.C:
			p.drainPending(ctx)
		}
	}
}

// drainPending processes due records one at a time in FIFO order of
// arrival. Records waiting on a retry delay are left in place.
func (p *Pipeline) drainPending(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		record := p.nextDue()
		if record == nil {
			return
		}
		p.processOne(ctx, record)
	}
}

// nextDue pops the first pending record whose retry delay has elapsed,
// compacting away ids whose records were garbage-collected.
func (p *Pipeline) nextDue() *EventRecord {
	now := time.Now().UTC()

	p.mu.Lock()
	defer p.mu.Unlock()

	for i := 0; i < len(p.pending); {
		record, ok := p.records[p.pending[i]]
		if !ok {
			p.pending = append(p.pending[:i], p.pending[i+1:]...)
			continue
		}
		if record.NextAttempt.After(now) {
			i++
			continue
		}
		p.pending = append(p.pending[:i], p.pending[i+1:]...)
		metrics.PendingChainEvents.Set(float64(len(p.pending)))
		return record
	}
	metrics.PendingChainEvents.Set(float64(len(p.pending)))
	return nil
}

// processOne runs the registered processor for a record and applies the
// ingestion retry policy on failure.
func (p *Pipeline) processOne(ctx context.Context, record *EventRecord) {
	processor, ok := p.processors[record.EventType]
	if !ok {
		// Configuration gap, not a runtime error: log, skip, and mark
		// handled so the record can be garbage-collected
		metrics.ChainEventsUnrecognized.Inc()
		slog.Warn("No processor registered for chain event, skipping",
			"event_id", record.ID,
			"event_type", record.EventType,
		)
		p.markProcessed(record)
		return
	}

	md := record.deliveryMetadata()
	if err := processor(ctx, record.Data, md); err != nil {
		p.handleProcessorFailure(record, err)
		return
	}

	p.markProcessed(record)
	metrics.ChainEventsProcessed.Inc()
	slog.Info("Chain event processed",
		"event_id", record.ID,
		"event_type", record.EventType,
	)

	// Generic catch-all for subscribers listening to every chain event
	p.sink.SendEvent(ctx, "blockchain.event", map[string]any{
		"eventType": record.EventType,
		"eventData": record.Data,
	}, md)
}

func (p *Pipeline) markProcessed(record *EventRecord) {
	p.mu.Lock()
	record.Processed = true
	record.ProcessedAt = time.Now().UTC()
	p.mu.Unlock()
}

// handleProcessorFailure reschedules the record with linear backoff
// (BackoffStep * retryCount) or marks it permanently failed at the
// ceiling.
func (p *Pipeline) handleProcessorFailure(record *EventRecord, cause error) {
	p.mu.Lock()
	record.RetryCount++
	record.LastError = cause.Error()
	retryCount := record.RetryCount
	if retryCount < p.config.MaxAttempts {
		record.NextAttempt = time.Now().UTC().Add(time.Duration(retryCount) * p.config.BackoffStep)
		p.pending = append(p.pending, record.ID)
	}
	pending := len(p.pending)
	p.mu.Unlock()

	metrics.PendingChainEvents.Set(float64(pending))

	if retryCount < p.config.MaxAttempts {
		slog.Error("Chain event processing failed, will retry",
			"event_id", record.ID,
			"event_type", record.EventType,
			"retry_count", retryCount,
			"error", cause,
		)
		return
	}

	metrics.ChainEventsFailed.Inc()
	slog.Error("Chain event permanently failed",
		"event_id", record.ID,
		"event_type", record.EventType,
		"retry_count", retryCount,
		"error", cause,
	)
}

// Stats returns pipeline counters and a per-event-type histogram.
func (p *Pipeline) Stats() PipelineStats {
	p.mu.Lock()
	defer p.mu.Unlock()

	stats := PipelineStats{
		TotalEvents:   len(p.records),
		PendingEvents: len(p.pending),
		EventTypes:    make(map[string]int),
	}
	for _, record := range p.records {
		if record.Processed {
			stats.ProcessedEvents++
		} else if record.RetryCount >= p.config.MaxAttempts {
			stats.FailedEvents++
		}
		stats.EventTypes[record.EventType]++
	}
	return stats
}

// CleanupProcessed drops processed records older than maxAge and
// returns the number removed.
func (p *Pipeline) CleanupProcessed(maxAge time.Duration) int {
	now := time.Now().UTC()

	p.mu.Lock()
	cleaned := 0
	for id, record := range p.records {
		if record.Processed && now.Sub(record.ProcessedAt) > maxAge {
			delete(p.records, id)
			cleaned++
		}
	}
	p.mu.Unlock()

	if cleaned > 0 {
		slog.Info("Cleaned up processed chain events", "removed", cleaned)
	}
	return cleaned
}
