package retry

import (
	"context"
	"log/slog"
	"time"
)

// Strategy defines the interface for retry strategies used by chain
// listeners when their log subscription drops.
type Strategy interface {
	// Execute runs the operation with the configured retry logic
	Execute(ctx context.Context, operation Operation) error

	// Name returns the name of the strategy for logging
	Name() string
}

// Operation is a function that can be retried
type Operation func() error

// Config holds retry configuration for listener reconnects.
type Config struct {
	Enabled      bool          // Enable/disable the retry mechanism
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
}

// DefaultConfig returns the reconnect defaults.
func DefaultConfig() Config {
	return Config{
		Enabled:      true,
		MaxRetries:   10,
		InitialDelay: time.Second,
		MaxDelay:     60 * time.Second,
	}
}

// NewStrategy creates a retry strategy based on configuration.
func NewStrategy(config Config) Strategy {
	if !config.Enabled {
		slog.Info("Listener reconnect retry disabled, using NoRetryStrategy")
		return NewNoRetryStrategy()
	}

	slog.Info("Listener reconnect retry enabled, using ExponentialBackoffStrategy",
		"max_retries", config.MaxRetries,
		"initial_delay", config.InitialDelay,
		"max_delay", config.MaxDelay,
	)

	return NewExponentialBackoffStrategy(
		config.MaxRetries,
		config.InitialDelay,
		config.MaxDelay,
	)
}
