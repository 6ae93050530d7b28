package retry

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestExponentialBackoffStrategy_Success(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(3, 10*time.Millisecond, 100*time.Millisecond)

	err := strategy.Execute(context.Background(), func() error {
		return nil // Success on first try
	})

	if err != nil {
		t.Errorf("Expected no error, got: %v", err)
	}
}

func TestExponentialBackoffStrategy_SuccessAfterRetries(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(5, 10*time.Millisecond, 100*time.Millisecond)

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset by peer")
		}
		return nil // Success on 3rd attempt
	})

	if err != nil {
		t.Errorf("Expected no error after retries, got: %v", err)
	}

	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got: %d", attempts)
	}
}

func TestExponentialBackoffStrategy_MaxRetriesExceeded(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(3, 10*time.Millisecond, 100*time.Millisecond)

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		return errors.New("connection refused")
	})

	if err == nil {
		t.Error("Expected error after max retries exceeded")
	}

	expectedAttempts := 4 // 1 initial + 3 retries
	if attempts != expectedAttempts {
		t.Errorf("Expected %d attempts, got: %d", expectedAttempts, attempts)
	}
}

func TestExponentialBackoffStrategy_ContextCancellation(t *testing.T) {
	strategy := NewExponentialBackoffStrategy(10, 50*time.Millisecond, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	err := strategy.Execute(ctx, func() error {
		return errors.New("timeout")
	})

	if err == nil {
		t.Error("Expected error after context cancellation")
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled in error chain, got: %v", err)
	}
}

func TestNoRetryStrategy_SingleAttempt(t *testing.T) {
	strategy := NewNoRetryStrategy()

	attempts := 0
	err := strategy.Execute(context.Background(), func() error {
		attempts++
		return errors.New("timeout")
	})

	if err == nil {
		t.Error("Expected error from failing operation")
	}
	if attempts != 1 {
		t.Errorf("Expected exactly 1 attempt, got: %d", attempts)
	}
}

func TestNewStrategy_Selection(t *testing.T) {
	if name := NewStrategy(Config{Enabled: false}).Name(); name != "NoRetry" {
		t.Errorf("Expected NoRetry strategy when disabled, got: %s", name)
	}

	config := DefaultConfig()
	if name := NewStrategy(config).Name(); name != "ExponentialBackoff" {
		t.Errorf("Expected ExponentialBackoff strategy when enabled, got: %s", name)
	}
}
