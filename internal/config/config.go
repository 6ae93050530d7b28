package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"eventrelay/internal/chain/retry"
)

// Network is one EVM network the relay can listen on.
type Network struct {
	Name   string
	RPCURL string
}

// Contract is one (network, contract address) pair to listen to.
type Contract struct {
	Network string
	Address string
}

type Config struct {
	// Log level: debug, info, warn, error
	LogLevel string

	// Port for the stats/metrics HTTP server
	APIPort int

	// Networks available for listeners, keyed by name
	Networks map[string]Network

	// Contracts to listen to, parsed from CONTRACTS as
	// "network:0xaddress,network:0xaddress"
	Contracts []Contract

	// Delivery fan-out bound across all subscribers
	MaxConcurrentDeliveries int

	// Base delay for webhook redelivery backoff
	RetryBaseDelay time.Duration

	// Retry queue scan interval
	RetryTick time.Duration

	// Ingestion reprocessing backoff step
	IngestBackoffStep time.Duration

	// Pending event scan interval
	IngestTick time.Duration

	// Listener resubscribe backoff
	Reconnect retry.Config

	// Periodic cleanup cadence and retention
	CleanupInterval    time.Duration
	SubscriptionMaxAge time.Duration
	RecordMaxAge       time.Duration
}

// Load returns the configuration for the relay, read from env vars.
func Load() *Config {
	networks := map[string]Network{
		"arbitrum": {
			Name:   "Arbitrum One",
			RPCURL: getEnv("ARBITRUM_RPC_URL", "wss://arb1.arbitrum.io/ws"),
		},
		"arbitrumSepolia": {
			Name:   "Arbitrum Sepolia",
			RPCURL: getEnv("ARBITRUM_SEPOLIA_RPC_URL", "wss://sepolia-rollup.arbitrum.io/ws"),
		},
		"ethereum": {
			Name:   "Ethereum Mainnet",
			RPCURL: getEnv("ETHEREUM_RPC_URL", ""),
		},
	}

	return &Config{
		LogLevel:                getEnv("LOG_LEVEL", "info"),
		APIPort:                 getEnvAsInt("API_PORT", 8080),
		Networks:                networks,
		Contracts:               parseContracts(getEnv("CONTRACTS", "")),
		MaxConcurrentDeliveries: getEnvAsInt("MAX_CONCURRENT_DELIVERIES", 10),
		RetryBaseDelay:          getEnvAsMillis("RETRY_BASE_DELAY_MS", 5000),
		RetryTick:               getEnvAsMillis("RETRY_TICK_MS", 1000),
		IngestBackoffStep:       getEnvAsMillis("INGEST_BACKOFF_MS", 5000),
		IngestTick:              getEnvAsMillis("INGEST_TICK_MS", 1000),
		Reconnect: retry.Config{
			Enabled:      getEnvAsBool("RECONNECT_ENABLED", true),
			MaxRetries:   getEnvAsInt("RECONNECT_MAX_RETRIES", 10),
			InitialDelay: getEnvAsMillis("RECONNECT_INITIAL_DELAY_MS", 1000),
			MaxDelay:     getEnvAsMillis("RECONNECT_MAX_DELAY_MS", 60000),
		},
		CleanupInterval:    getEnvAsMillis("CLEANUP_INTERVAL_MS", 3600_000),
		SubscriptionMaxAge: getEnvAsMillis("SUBSCRIPTION_MAX_AGE_MS", int64(30*24*time.Hour/time.Millisecond)),
		RecordMaxAge:       getEnvAsMillis("RECORD_MAX_AGE_MS", int64(24*time.Hour/time.Millisecond)),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.APIPort <= 0 || c.APIPort > 65535 {
		return fmt.Errorf("invalid API port: %d", c.APIPort)
	}
	if c.MaxConcurrentDeliveries <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_DELIVERIES must be positive")
	}
	for _, contract := range c.Contracts {
		network, ok := c.Networks[contract.Network]
		if !ok {
			return fmt.Errorf("contract %s references unknown network %q", contract.Address, contract.Network)
		}
		if network.RPCURL == "" {
			return fmt.Errorf("network %q has no RPC URL configured", contract.Network)
		}
		if !strings.HasPrefix(contract.Address, "0x") {
			return fmt.Errorf("invalid contract address %q", contract.Address)
		}
	}
	return nil
}

// parseContracts splits "network:0xaddr,network:0xaddr" into pairs.
// Entries without a network prefix are skipped.
func parseContracts(raw string) []Contract {
	var contracts []Contract
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		network, address, found := strings.Cut(entry, ":")
		if !found {
			continue
		}
		contracts = append(contracts, Contract{
			Network: strings.TrimSpace(network),
			Address: strings.TrimSpace(address),
		})
	}
	return contracts
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvAsInt(key string, defaultVal int) int {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsBool(key string, defaultVal bool) bool {
	valStr := os.Getenv(key)
	if valStr == "" {
		return defaultVal
	}
	val, err := strconv.ParseBool(valStr)
	if err != nil {
		return defaultVal
	}
	return val
}

func getEnvAsMillis(key string, defaultMs int64) time.Duration {
	valStr := os.Getenv(key)
	if valStr == "" {
		return time.Duration(defaultMs) * time.Millisecond
	}
	val, err := strconv.ParseInt(valStr, 10, 64)
	if err != nil {
		return time.Duration(defaultMs) * time.Millisecond
	}
	return time.Duration(val) * time.Millisecond
}
