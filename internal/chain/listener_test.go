package chain

import (
	"context"
	"errors"
	"math/big"
	"sync/atomic"
	"testing"
	"time"

	"eventrelay/internal/chain/retry"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

type fakeSubscription struct {
	errs chan error
}

func (s *fakeSubscription) Unsubscribe()      {}
func (s *fakeSubscription) Err() <-chan error { return s.errs }

type fakeBackend struct {
	logs  chan<- types.Log
	query ethereum.FilterQuery
	ready chan struct{}
}

func (b *fakeBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.logs = ch
	b.query = query
	select {
	case b.ready <- struct{}{}:
	default:
	}
	return &fakeSubscription{errs: make(chan error)}, nil
}

func transferLog(t *testing.T, decoder *Decoder, removed bool) types.Log {
	t.Helper()

	from := common.HexToAddress("0x1111111111111111111111111111111111111111")
	to := common.HexToAddress("0x2222222222222222222222222222222222222222")
	token := common.HexToAddress("0x3333333333333333333333333333333333333333")

	event := decoder.abi.Events["Transfer"]
	data, err := event.Inputs.NonIndexed().Pack(big.NewInt(42), token)
	if err != nil {
		t.Fatalf("Failed to pack log data: %v", err)
	}

	return types.Log{
		Topics: []common.Hash{
			event.ID,
			common.BytesToHash(from.Bytes()),
			common.BytesToHash(to.Bytes()),
		},
		Data:        data,
		BlockNumber: 100,
		TxHash:      common.HexToHash("0xabc"),
		Removed:     removed,
	}
}

func TestListener_RegistersDecodedLogs(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("Failed to build decoder: %v", err)
	}

	sink := &captureSink{}
	pipeline := NewPipeline(sink, fastPipelineConfig())
	backend := &fakeBackend{ready: make(chan struct{}, 1)}
	contract := common.HexToAddress("0x9999999999999999999999999999999999999999")

	listener := NewListener("arbitrum", contract, backend, decoder, pipeline, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	listener.Start(ctx)

	select {
	case <-backend.ready:
	case <-time.After(2 * time.Second):
		t.Fatal("Listener never subscribed")
	}

	// The subscription must be scoped to the contract and its topics
	if len(backend.query.Addresses) != 1 || backend.query.Addresses[0] != contract {
		t.Errorf("Expected query scoped to contract, got: %v", backend.query.Addresses)
	}
	if len(backend.query.Topics) != 1 || len(backend.query.Topics[0]) != len(decoder.Topics()) {
		t.Error("Expected query to filter on the catalogue topics")
	}

	backend.logs <- transferLog(t, decoder, false)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if pipeline.Stats().TotalEvents == 1 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stats := pipeline.Stats()
	if stats.TotalEvents != 1 {
		t.Fatalf("Expected 1 registered event, got: %d", stats.TotalEvents)
	}
	if stats.EventTypes["Transfer"] != 1 {
		t.Errorf("Expected a Transfer record, got: %v", stats.EventTypes)
	}
}

func TestListener_SkipsReorgRemovedLogs(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("Failed to build decoder: %v", err)
	}

	sink := &captureSink{}
	pipeline := NewPipeline(sink, fastPipelineConfig())
	listener := NewListener("arbitrum", common.Address{}, nil, decoder, pipeline, nil)

	listener.handleLog(transferLog(t, decoder, true))

	if stats := pipeline.Stats(); stats.TotalEvents != 0 {
		t.Errorf("Expected reorg-removed log to be dropped, got: %d events", stats.TotalEvents)
	}
}

func TestListener_DropsUndecodableLogs(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("Failed to build decoder: %v", err)
	}

	sink := &captureSink{}
	pipeline := NewPipeline(sink, fastPipelineConfig())
	listener := NewListener("arbitrum", common.Address{}, nil, decoder, pipeline, nil)

	listener.handleLog(types.Log{
		Topics: []common.Hash{common.HexToHash("0xffff")},
	})

	if stats := pipeline.Stats(); stats.TotalEvents != 0 {
		t.Errorf("Expected undecodable log to be dropped, got: %d events", stats.TotalEvents)
	}
}

type failingBackend struct {
	attempts atomic.Int64
}

func (b *failingBackend) SubscribeFilterLogs(ctx context.Context, query ethereum.FilterQuery, ch chan<- types.Log) (ethereum.Subscription, error) {
	b.attempts.Add(1)
	return nil, errors.New("connection refused")
}

func TestListener_PausesBetweenFailedSubscribeCycles(t *testing.T) {
	decoder, err := NewDecoder()
	if err != nil {
		t.Fatalf("Failed to build decoder: %v", err)
	}

	sink := &captureSink{}
	pipeline := NewPipeline(sink, fastPipelineConfig())
	backend := &failingBackend{}

	// With retries disabled every subscribe failure surfaces
	// immediately; the run loop itself must provide the pacing
	listener := NewListener("arbitrum", common.Address{}, backend, decoder, pipeline,
		retry.NewStrategy(retry.Config{Enabled: false}))

	ctx, cancel := context.WithCancel(context.Background())
	listener.Start(ctx)

	time.Sleep(150 * time.Millisecond)
	cancel()

	if got := backend.attempts.Load(); got > 2 {
		t.Errorf("Expected the listener to pace failed subscribe cycles, got %d attempts in 150ms", got)
	}

	select {
	case <-listener.Done():
	case <-time.After(3 * time.Second):
		t.Fatal("Listener did not stop after context cancellation")
	}
}

func TestListener_ContractID(t *testing.T) {
	contract := common.HexToAddress("0x9999999999999999999999999999999999999999")
	listener := NewListener("arbitrum", contract, nil, nil, nil, nil)

	want := "arbitrum:" + contract.Hex()
	if got := listener.ContractID(); got != want {
		t.Errorf("Expected contract id %s, got: %s", want, got)
	}
}
