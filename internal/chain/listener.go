package chain

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"eventrelay/internal/chain/retry"
	"eventrelay/internal/metrics"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// resubscribeDelay is the minimum pause between subscription cycles.
const resubscribeDelay = time.Second

// Backend is the slice of the EVM client a listener needs. Satisfied by
// *ethclient.Client; tests substitute a fake.
type Backend interface {
	SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error)
}

// Listener subscribes to one (network, contract) pair, decodes raw
// logs through the event catalogue, and registers the results with the
// ingestion pipeline. Listeners run independently; there is no
// coordination between them.
type Listener struct {
	network  string
	contract common.Address
	backend  Backend
	decoder  *Decoder
	pipeline *Pipeline
	strategy retry.Strategy

	done chan struct{}
}

// NewListener creates a listener for one contract on one network.
func NewListener(network string, contract common.Address, backend Backend, decoder *Decoder, pipeline *Pipeline, strategy retry.Strategy) *Listener {
	if strategy == nil {
		strategy = retry.NewStrategy(retry.DefaultConfig())
	}
	return &Listener{
		network:  network,
		contract: contract,
		backend:  backend,
		decoder:  decoder,
		pipeline: pipeline,
		strategy: strategy,
		done:     make(chan struct{}),
	}
}

// ContractID returns the network-qualified contract identifier.
func (l *Listener) ContractID() string {
	return fmt.Sprintf("%s:%s", l.network, l.contract.Hex())
}

// Start launches the subscribe-and-consume loop. The listener
// resubscribes with backoff when the subscription drops and exits when
// ctx is cancelled.
func (l *Listener) Start(ctx context.Context) {
	metrics.ActiveListeners.Inc()
	slog.Info("Chain listener starting",
		"network", l.network,
		"contract", l.contract.Hex(),
	)

	go l.run(ctx)
}

// Done is closed when the listener has fully stopped.
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) run(ctx context.Context) {
	defer close(l.done)
	defer metrics.ActiveListeners.Dec()

	for ctx.Err() == nil {
		if err := l.subscribeAndConsume(ctx); err != nil && ctx.Err() == nil {
			slog.Error("Chain listener subscription lost",
				"network", l.network,
				"contract", l.contract.Hex(),
				"error", err,
			)
		}

		// Pause before resubscribing; with retries disabled a dead
		// backend would otherwise spin this loop
		select {
		case <-ctx.Done():
		case <-time.After(resubscribeDelay):
		}
	}

	slog.Info("Chain listener stopped",
		"network", l.network,
		"contract", l.contract.Hex(),
	)
}

// subscribeAndConsume establishes one log subscription (with reconnect
// backoff) and consumes it until it errors or ctx is cancelled.
func (l *Listener) subscribeAndConsume(ctx context.Context) error {
	logs := make(chan types.Log, 256)
	query := ethereum.FilterQuery{
		Addresses: []common.Address{l.contract},
		Topics:    [][]common.Hash{l.decoder.Topics()},
	}

	var sub ethereum.Subscription
	err := l.strategy.Execute(ctx, func() error {
		var subErr error
		sub, subErr = l.backend.SubscribeFilterLogs(ctx, query, logs)
		return subErr
	})
	if err != nil {
		return fmt.Errorf("subscribe to logs: %w", err)
	}
	defer sub.Unsubscribe()

	slog.Info("Chain listener subscribed",
		"network", l.network,
		"contract", l.contract.Hex(),
		"event_types", len(l.decoder.Topics()),
	)

	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-sub.Err():
			return err
		case lg := <-logs:
			l.handleLog(lg)
		}
	}
}

// handleLog decodes one raw log and queues it for processing. Decode
// failures are logged and dropped; they never stall the subscription.
func (l *Listener) handleLog(lg types.Log) {
	// Logs removed by a chain reorg must not produce deliveries
	if lg.Removed {
		slog.Warn("Skipping log removed by reorg",
			"network", l.network,
			"tx_hash", lg.TxHash.Hex(),
		)
		return
	}

	name, args, err := l.decoder.Decode(lg)
	if err != nil {
		slog.Error("Failed to decode chain log",
			"network", l.network,
			"contract", l.contract.Hex(),
			"tx_hash", lg.TxHash.Hex(),
			"error", err,
		)
		return
	}

	l.pipeline.Register(name, args, map[string]any{
		"network":     l.network,
		"contractId":  l.ContractID(),
		"txHash":      lg.TxHash.Hex(),
		"blockNumber": lg.BlockNumber,
		"timestamp":   time.Now().UnixMilli(),
	})
}
