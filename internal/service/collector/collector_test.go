package collector

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/ledger"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// fakeLedger serves a scripted chain of blocks and supports swapping the
// tip to a competing fork mid-test.
type fakeLedger struct {
	mu      sync.Mutex
	chainID chain.ChainID
	blocks  map[int64]*chain.Block
	head    int64
	fails   int
}

func newFakeLedger(chainID chain.ChainID) *fakeLedger {
	return &fakeLedger{chainID: chainID, blocks: make(map[int64]*chain.Block)}
}

func (f *fakeLedger) extend(from, to int64, fork string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for h := from; h <= to; h++ {
		block := &chain.Block{
			Chain:     f.chainID,
			Height:    h,
			Hash:      fmt.Sprintf("%s-hash-%d", fork, h),
			Timestamp: time.Now().UTC(),
		}
		tx, _ := chain.NewTransaction(f.chainID, fmt.Sprintf("%s-tx-%d", fork, h), h, block.Hash, block.Timestamp)
		tx.Outputs = []chain.Movement{{Address: "addr", Asset: "BTC", Amount: decimal.NewFromInt(1)}}
		block.Transactions = []*chain.Transaction{tx}
		f.blocks[h] = block
	}
	if to > f.head || fork != "main" {
		f.head = to
	}
}

func (f *fakeLedger) ChainID() chain.ChainID { return f.chainID }

func (f *fakeLedger) Head(ctx context.Context) (ledger.Head, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fails > 0 {
		f.fails--
		return ledger.Head{}, fmt.Errorf("simulated outage")
	}
	return ledger.Head{Height: f.head, Hash: f.blocks[f.head].Hash}, nil
}

func (f *fakeLedger) BlockByHeight(ctx context.Context, height int64) (*chain.Block, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.blocks[height]
	if !ok {
		return nil, fmt.Errorf("no block at %d", height)
	}
	return block, nil
}

func (f *fakeLedger) BlockHash(ctx context.Context, height int64) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	block, ok := f.blocks[height]
	if !ok {
		return "", fmt.Errorf("no block at %d", height)
	}
	return block.Hash, nil
}

func (f *fakeLedger) Balance(ctx context.Context, address string) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func (f *fakeLedger) Close() error { return nil }

// memCursorStore is an in-memory CursorStore
type memCursorStore struct {
	mu       sync.Mutex
	cursors  map[chain.ChainID]int64
	hashes   map[chain.ChainID]map[int64]string
	txHashes map[chain.ChainID]map[int64][]string
}

func newMemCursorStore() *memCursorStore {
	return &memCursorStore{
		cursors:  make(map[chain.ChainID]int64),
		hashes:   make(map[chain.ChainID]map[int64]string),
		txHashes: make(map[chain.ChainID]map[int64][]string),
	}
}

func (s *memCursorStore) Cursor(ctx context.Context, chainID chain.ChainID) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursors[chainID], nil
}

func (s *memCursorStore) StoredHash(ctx context.Context, chainID chain.ChainID, height int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hashes[chainID][height], nil
}

func (s *memCursorStore) StoredTxHashes(ctx context.Context, chainID chain.ChainID, from, to int64) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []string
	for h := from; h <= to; h++ {
		out = append(out, s.txHashes[chainID][h]...)
	}
	return out, nil
}

func (s *memCursorStore) CommitBatch(ctx context.Context, chainID chain.ChainID, blocks []*chain.Block, newCursor int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.hashes[chainID] == nil {
		s.hashes[chainID] = make(map[int64]string)
		s.txHashes[chainID] = make(map[int64][]string)
	}
	for _, block := range blocks {
		s.hashes[chainID][block.Height] = block.Hash
		var txs []string
		for _, tx := range block.Transactions {
			txs = append(txs, tx.Hash)
		}
		s.txHashes[chainID][block.Height] = txs
	}
	s.cursors[chainID] = newCursor
	return nil
}

func (s *memCursorStore) Rewind(ctx context.Context, chainID chain.ChainID, toHeight int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for h := range s.hashes[chainID] {
		if h > toHeight {
			delete(s.hashes[chainID], h)
			delete(s.txHashes[chainID], h)
		}
	}
	s.cursors[chainID] = toHeight
	return nil
}

func testOptions() Options {
	return Options{
		BatchSize:     10,
		PollInterval:  5 * time.Millisecond,
		BackoffBase:   time.Millisecond,
		BackoffMax:    10 * time.Millisecond,
		DegradedAfter: 2,
		ReorgDepth:    50,
	}
}

func drain(out <-chan chain.TxEnvelope, n int, timeout time.Duration) []chain.TxEnvelope {
	var envelopes []chain.TxEnvelope
	deadline := time.After(timeout)
	for len(envelopes) < n {
		select {
		case env := <-out:
			envelopes = append(envelopes, env)
		case <-deadline:
			return envelopes
		}
	}
	return envelopes
}

func TestCollectorProcessesBlocks(t *testing.T) {
	fake := newFakeLedger(chain.ChainBitcoin)
	fake.extend(1, 5, "main")
	store := newMemCursorStore()
	out := make(chan chain.TxEnvelope, 100)

	c := New(fake, store, out, testOptions(), zap.NewNop(), telemetry.NewNopMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = c.Run(ctx) }()

	envelopes := drain(out, 5, time.Second)
	cancel()

	require.Len(t, envelopes, 5)
	for i, env := range envelopes {
		assert.Equal(t, int64(i+1), env.Tx.BlockHeight, "delivery follows block-height order")
		assert.False(t, env.Orphaned)
	}

	cursor, _ := store.Cursor(context.Background(), chain.ChainBitcoin)
	assert.Equal(t, int64(5), cursor)
}

func TestCollectorReorgRewind(t *testing.T) {
	fake := newFakeLedger(chain.ChainBitcoin)
	fake.extend(1, 100, "main")
	store := newMemCursorStore()
	out := make(chan chain.TxEnvelope, 1000)

	c := New(fake, store, out, testOptions(), zap.NewNop(), telemetry.NewNopMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	// Collector reaches height 100, then the chain extends to 105 on fork A
	drain(out, 100, 2*time.Second)
	fake.extend(101, 105, "main")
	first := drain(out, 5, time.Second)
	require.Len(t, first, 5)

	// Fork B wins: heights 101-105 are replaced
	fake.extend(101, 105, "forkb")

	// Expect 5 orphan retractions then 5 reprocessed transactions
	next := drain(out, 10, 2*time.Second)
	require.Len(t, next, 10)

	var orphans, replays []chain.TxEnvelope
	for _, env := range next {
		if env.Orphaned {
			orphans = append(orphans, env)
		} else {
			replays = append(replays, env)
		}
	}
	require.Len(t, orphans, 5, "each abandoned height is retracted")
	require.Len(t, replays, 5, "canonical blocks are reprocessed")
	for _, env := range orphans {
		assert.Equal(t, chain.TxOrphaned, env.Tx.Status)
	}
	for i, env := range replays {
		assert.Equal(t, int64(101+i), env.Tx.BlockHeight)
		assert.Contains(t, env.Tx.Hash, "forkb")
	}

	// Final cursor back at the tip, via the common ancestor
	require.Eventually(t, func() bool {
		cursor, _ := store.Cursor(context.Background(), chain.ChainBitcoin)
		return cursor == 105
	}, time.Second, 5*time.Millisecond)
}

func TestCollectorBackoffAndHealth(t *testing.T) {
	fake := newFakeLedger(chain.ChainBitcoin)
	fake.extend(1, 3, "main")
	fake.mu.Lock()
	fake.fails = 5
	fake.mu.Unlock()

	store := newMemCursorStore()
	out := make(chan chain.TxEnvelope, 100)
	c := New(fake, store, out, testOptions(), zap.NewNop(), telemetry.NewNopMetrics())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = c.Run(ctx) }()

	// Degraded while the outage lasts, healthy after recovery
	require.Eventually(t, func() bool {
		return c.Status().Health == HealthDegraded
	}, time.Second, time.Millisecond)

	require.Eventually(t, func() bool {
		return c.Status().Health == HealthHealthy
	}, 2*time.Second, time.Millisecond)

	assert.Empty(t, c.Status().LastError)
}

func TestPoolStartStop(t *testing.T) {
	fakeA := newFakeLedger(chain.ChainBitcoin)
	fakeA.extend(1, 3, "main")
	fakeB := newFakeLedger(chain.ChainEthereum)
	fakeB.extend(1, 3, "main")

	pool := NewPool(
		[]ledger.Client{fakeA, fakeB},
		newMemCursorStore(),
		testOptions(), 100, time.Second,
		zap.NewNop(), telemetry.NewNopMetrics(),
	)

	pool.StartAll(context.Background())
	pool.StartAll(context.Background()) // idempotent

	envelopes := drain(pool.Queue(), 6, 2*time.Second)
	assert.Len(t, envelopes, 6)

	pool.StopAll()

	statuses := pool.Status()
	require.Len(t, statuses, 2)
	for _, status := range statuses {
		assert.Equal(t, HealthStopped, status.Health)
	}
}
