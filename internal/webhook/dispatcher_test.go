package webhook

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestDispatcher_DeliversSignedEnvelope(t *testing.T) {
	type received struct {
		body      []byte
		signature string
		event     string
		webhookID string
		userAgent string
		custom    string
	}
	got := make(chan received, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got <- received{
			body:      body,
			signature: r.Header.Get("X-Webhook-Signature"),
			event:     r.Header.Get("X-Webhook-Event"),
			webhookID: r.Header.Get("X-Webhook-ID"),
			userAgent: r.Header.Get("User-Agent"),
			custom:    r.Header.Get("X-Custom"),
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	id, err := registry.Register(server.URL, testSecret, []string{"token.transfer"}, Options{
		Headers: map[string]string{"X-Custom": "yes"},
	})
	if err != nil {
		t.Fatalf("Failed to register subscription: %v", err)
	}

	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(),
		"token.transfer",
		map[string]any{"value": "100"},
		map[string]any{"network": "arbitrum"},
	)

	var rec received
	select {
	case rec = <-got:
	case <-time.After(2 * time.Second):
		t.Fatal("Expected a delivery, got none")
	}

	if rec.event != "token.transfer" {
		t.Errorf("Expected X-Webhook-Event token.transfer, got: %s", rec.event)
	}
	if rec.webhookID != id {
		t.Errorf("Expected X-Webhook-ID %s, got: %s", id, rec.webhookID)
	}
	if rec.userAgent != "eventrelay-webhook/1.0" {
		t.Errorf("Unexpected User-Agent: %s", rec.userAgent)
	}
	if rec.custom != "yes" {
		t.Errorf("Expected custom header to be forwarded, got: %q", rec.custom)
	}

	// The signature must cover the exact bytes that were sent
	if want := Sign(testSecret, rec.body); rec.signature != want {
		t.Errorf("Signature does not match body: expected %s, got %s", want, rec.signature)
	}

	var envelope Envelope
	if err := json.Unmarshal(rec.body, &envelope); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if envelope.Event != "token.transfer" {
		t.Errorf("Expected envelope event token.transfer, got: %s", envelope.Event)
	}
	if envelope.ID == "" {
		t.Error("Expected a non-empty envelope id")
	}
	if envelope.Data["value"] != "100" {
		t.Errorf("Expected data.value 100, got: %v", envelope.Data["value"])
	}
	if envelope.Metadata["network"] != "arbitrum" {
		t.Errorf("Expected metadata.network arbitrum, got: %v", envelope.Metadata["network"])
	}

	stats := mustGet(t, registry, id).Stats()
	if stats.TotalCalls != 1 || stats.SuccessfulCalls != 1 || stats.FailedCalls != 0 {
		t.Errorf("Unexpected stats after success: %+v", stats)
	}
}

func TestDispatcher_NoSubscribersIsNoOp(t *testing.T) {
	registry := NewRegistry()
	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{})

	// Must return without error or panic
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{}, nil)
}

func TestDispatcher_SharedEnvelopeAcrossSubscribers(t *testing.T) {
	ids := make(chan string, 2)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var envelope Envelope
		json.NewDecoder(r.Body).Decode(&envelope)
		ids <- envelope.ID
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	registry.Register(server.URL, testSecret, []string{"token.transfer"}, Options{})
	registry.Register(server.URL, testSecret, []string{"token.transfer"}, Options{})

	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{}, nil)

	first, second := <-ids, <-ids
	if first != second {
		t.Errorf("Expected both subscribers to receive the same envelope id, got %s and %s", first, second)
	}
}

func TestDispatcher_FailureEnqueuesRetry(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := NewRegistry()
	id, _ := registry.Register(server.URL, testSecret, []string{"token.transfer"}, Options{})

	scheduler := NewRetryScheduler(SchedulerConfig{})
	dispatcher := NewDispatcher(registry, scheduler, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{"value": "1"}, nil)

	if scheduler.Size() != 1 {
		t.Fatalf("Expected 1 queued retry, got: %d", scheduler.Size())
	}

	stats := mustGet(t, registry, id).Stats()
	if stats.FailedCalls != 1 || stats.SuccessfulCalls != 0 {
		t.Errorf("Unexpected stats after failure: %+v", stats)
	}
}

func TestDispatcher_FailureWithRetriesDisabledIsTerminal(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	registry := NewRegistry()
	registry.Register(server.URL, testSecret, []string{"token.transfer"}, Options{MaxRetries: -1})

	scheduler := NewRetryScheduler(SchedulerConfig{})
	dispatcher := NewDispatcher(registry, scheduler, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{}, nil)

	if scheduler.Size() != 0 {
		t.Errorf("Expected no queued retries when retries are disabled, got: %d", scheduler.Size())
	}
}

func TestDispatcher_FailureIsolation(t *testing.T) {
	var healthyCalls atomic.Int64
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()

	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer broken.Close()

	registry := NewRegistry()
	registry.Register(broken.URL, testSecret, []string{"token.transfer"}, Options{})
	healthyID, _ := registry.Register(healthy.URL, testSecret, []string{"token.transfer"}, Options{})

	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{}, nil)

	if healthyCalls.Load() != 1 {
		t.Errorf("Expected healthy subscriber to receive the event, calls: %d", healthyCalls.Load())
	}
	stats := mustGet(t, registry, healthyID).Stats()
	if stats.SuccessfulCalls != 1 {
		t.Errorf("Expected healthy subscriber success to be recorded: %+v", stats)
	}
}

func TestDispatcher_MissingSecretFailsAttemptOnly(t *testing.T) {
	var healthyCalls, brokenCalls atomic.Int64
	healthy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		healthyCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer healthy.Close()
	broken := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		brokenCalls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer broken.Close()

	registry := NewRegistry()
	brokenID, _ := registry.Register(broken.URL, testSecret, []string{"token.transfer"}, Options{})
	healthyID, _ := registry.Register(healthy.URL, testSecret, []string{"token.transfer"}, Options{})

	// Registration enforces the secret length, so a blank secret can
	// only appear through later state corruption; it must sink this
	// subscription's attempt without touching anyone else's
	brokenSub := mustGet(t, registry, brokenID)
	brokenSub.Secret = ""

	dispatcher := NewDispatcher(registry, nil, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{}, nil)

	if brokenCalls.Load() != 0 {
		t.Errorf("Expected no HTTP delivery without a signing secret, calls: %d", brokenCalls.Load())
	}
	brokenStats := brokenSub.Stats()
	if brokenStats.TotalCalls != 1 || brokenStats.FailedCalls != 1 || brokenStats.SuccessfulCalls != 0 {
		t.Errorf("Expected the secretless attempt counted as a failure: %+v", brokenStats)
	}

	if healthyCalls.Load() != 1 {
		t.Errorf("Expected the other subscriber to receive the event, calls: %d", healthyCalls.Load())
	}
	healthyStats := mustGet(t, registry, healthyID).Stats()
	if healthyStats.SuccessfulCalls != 1 {
		t.Errorf("Expected the other subscriber's success recorded: %+v", healthyStats)
	}
}

func TestDispatcher_RedeliverMissingSecret(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sub := &Subscription{
		ID:      "sub-no-secret",
		URL:     server.URL,
		Options: Options{Timeout: time.Second, MaxRetries: 5},
	}
	dispatcher := NewDispatcher(NewRegistry(), nil, DispatcherConfig{})

	err := dispatcher.Redeliver(context.Background(), &RetryItem{
		Subscription: sub,
		EventType:    "token.transfer",
	})
	if err == nil {
		t.Fatal("Expected redelivery without a signing secret to fail")
	}
	if calls.Load() != 0 {
		t.Errorf("Expected no HTTP delivery without a signing secret, calls: %d", calls.Load())
	}
	if stats := sub.Stats(); stats.FailedCalls != 1 {
		t.Errorf("Expected the failed attempt recorded: %+v", stats)
	}
}

func TestDispatcher_TimeoutIsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	registry := NewRegistry()
	id, _ := registry.Register(server.URL, testSecret, []string{"token.transfer"}, Options{
		Timeout: 20 * time.Millisecond,
	})

	scheduler := NewRetryScheduler(SchedulerConfig{})
	dispatcher := NewDispatcher(registry, scheduler, DispatcherConfig{})
	dispatcher.SendEvent(context.Background(), "token.transfer", map[string]any{}, nil)

	if scheduler.Size() != 1 {
		t.Errorf("Expected timed-out delivery to be queued for retry, queue: %d", scheduler.Size())
	}
	stats := mustGet(t, registry, id).Stats()
	if stats.FailedCalls != 1 {
		t.Errorf("Expected timeout to count as failure: %+v", stats)
	}
}

func mustGet(t *testing.T, registry *Registry, id string) *Subscription {
	t.Helper()
	sub, ok := registry.Get(id)
	if !ok {
		t.Fatalf("Subscription %s not found", id)
	}
	return sub
}
