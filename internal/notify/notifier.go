// Package notify is the boundary to the advanced-notification system.
// Calls into it from the ingestion pipeline are best-effort: errors are
// logged by the caller and never affect event processing state.
package notify

import (
	"context"
	"fmt"
	"log/slog"
)

// Notifier receives selected chain events for user-facing notification
// fan-out (email, push, in-app) handled outside this service.
type Notifier interface {
	ProcessChainEvent(ctx context.Context, eventType string, payload, metadata map[string]any) error
}

// LogNotifier writes notifications to the log. Used in development and
// wherever the real notification backend is not configured.
type LogNotifier struct{}

// NewLogNotifier creates a log-backed notifier.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{}
}

func (n *LogNotifier) ProcessChainEvent(ctx context.Context, eventType string, payload, metadata map[string]any) error {
	slog.Info("NOTIFICATION",
		"event_type", eventType,
		"payload_fields", len(payload),
	)
	return nil
}

// MultiNotifier fans a notification out to several notifiers. It fails
// only when every notifier fails.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier creates a notifier that fans out to all given
// notifiers.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

func (m *MultiNotifier) ProcessChainEvent(ctx context.Context, eventType string, payload, metadata map[string]any) error {
	var lastErr error
	succeeded := 0

	for _, n := range m.notifiers {
		if err := n.ProcessChainEvent(ctx, eventType, payload, metadata); err != nil {
			lastErr = err
		} else {
			succeeded++
		}
	}

	if succeeded == 0 && len(m.notifiers) > 0 {
		return fmt.Errorf("all notifiers failed: %w", lastErr)
	}
	return nil
}
