package attribution

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
)

type memLinkStore struct {
	log []*entity.LinkRecord
}

func (s *memLinkStore) AppendLink(ctx context.Context, record *entity.LinkRecord) error {
	s.log = append(s.log, record)
	return nil
}

func (s *memLinkStore) LinkLog(ctx context.Context) ([]*entity.LinkRecord, error) {
	return s.log, nil
}

func key(addr string) chain.AddressKey {
	return chain.AddressKey{Chain: chain.ChainBitcoin, Address: addr}
}

func newTestEngine(t *testing.T, store LinkStore) *Engine {
	t.Helper()
	engine, err := NewEngine(context.Background(), store, zap.NewNop())
	require.NoError(t, err)
	return engine
}

func TestRecordLinkMergesClusters(t *testing.T) {
	store := &memLinkStore{}
	e := newTestEngine(t, store)
	ctx := context.Background()

	_, err := e.RecordLink(ctx, key("a"), key("b"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	_, err = e.RecordLink(ctx, key("b"), key("c"), entity.ReasonCommonChange, 0.7, "test")
	require.NoError(t, err)

	assert.True(t, e.SameEntity(key("a"), key("c")))
	assert.Equal(t, 3, e.ClusterSize(key("a")))
	assert.Equal(t, []chain.AddressKey{key("a"), key("b"), key("c")}, e.ClusterOf(key("b")))
	assert.Equal(t, 1, e.TotalClusters())
}

func TestRecordLinkRejectsSelfLink(t *testing.T) {
	e := newTestEngine(t, &memLinkStore{})
	_, err := e.RecordLink(context.Background(), key("a"), key("a"), entity.ReasonManual, 1.0, "test")
	assert.Error(t, err)
}

func TestReplayReconstructsState(t *testing.T) {
	store := &memLinkStore{}
	e := newTestEngine(t, store)
	ctx := context.Background()

	_, err := e.RecordLink(ctx, key("a"), key("b"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	_, err = e.RecordLink(ctx, key("c"), key("d"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	_, err = e.RecordLink(ctx, key("b"), key("c"), entity.ReasonSharedLabel, 0.8, "test")
	require.NoError(t, err)

	// A fresh engine over the same log lands in the same state
	replayed := newTestEngine(t, store)
	for _, addr := range []string{"a", "b", "c", "d"} {
		assert.Equal(t, e.ClusterOf(key(addr)), replayed.ClusterOf(key(addr)))
	}
	assert.Equal(t, e.TotalClusters(), replayed.TotalClusters())
}

func TestSplitSeversDirectLink(t *testing.T) {
	store := &memLinkStore{}
	e := newTestEngine(t, store)
	ctx := context.Background()

	_, err := e.RecordLink(ctx, key("a"), key("b"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	_, err = e.RecordLink(ctx, key("b"), key("c"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	require.True(t, e.SameEntity(key("a"), key("c")))

	record, err := e.Split(ctx, key("a"), key("b"), "admin@example.com")
	require.NoError(t, err)
	assert.True(t, record.Split)
	assert.Equal(t, entity.ReasonAdminSplit, record.Reason)

	assert.False(t, e.SameEntity(key("a"), key("b")))
	assert.True(t, e.SameEntity(key("b"), key("c")))
	assert.Equal(t, 1, e.ClusterSize(key("a")))

	// The split survives replay
	replayed := newTestEngine(t, store)
	assert.False(t, replayed.SameEntity(key("a"), key("b")))
	assert.True(t, replayed.SameEntity(key("b"), key("c")))
}

func TestSplitLeavesIndirectPathsIntact(t *testing.T) {
	store := &memLinkStore{}
	e := newTestEngine(t, store)
	ctx := context.Background()

	// a-b directly, and a-c-b indirectly
	_, err := e.RecordLink(ctx, key("a"), key("b"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	_, err = e.RecordLink(ctx, key("a"), key("c"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)
	_, err = e.RecordLink(ctx, key("c"), key("b"), entity.ReasonCoSpend, 0.9, "test")
	require.NoError(t, err)

	_, err = e.Split(ctx, key("a"), key("b"), "admin@example.com")
	require.NoError(t, err)

	// Still connected through c
	assert.True(t, e.SameEntity(key("a"), key("b")))
}

func TestSplitRequiresActor(t *testing.T) {
	e := newTestEngine(t, &memLinkStore{})
	_, err := e.Split(context.Background(), key("a"), key("b"), "")
	assert.Error(t, err)
}

func coSpendTx(t *testing.T, hash string, inputs []string, outputs []decimal.Decimal) *chain.Transaction {
	t.Helper()
	tx, err := chain.NewTransaction(chain.ChainBitcoin, hash, 100, "block", time.Now().UTC())
	require.NoError(t, err)
	for _, addr := range inputs {
		tx.Inputs = append(tx.Inputs, chain.Movement{Address: addr, Asset: "BTC", Amount: decimal.NewFromInt(1)})
	}
	for i, amount := range outputs {
		tx.Outputs = append(tx.Outputs, chain.Movement{Address: "out-" + string(rune('a'+i)), Asset: "BTC", Amount: amount})
	}
	return tx
}

func TestObserveTransactionCoSpend(t *testing.T) {
	store := &memLinkStore{}
	e := newTestEngine(t, store)
	ctx := context.Background()

	tx := coSpendTx(t, "spend-tx", []string{"in-1", "in-2", "in-3"},
		[]decimal.Decimal{decimal.NewFromInt(2)})
	linked, err := e.ObserveTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Equal(t, 2, linked)
	assert.True(t, e.SameEntity(key("in-1"), key("in-3")))

	// Observing the same tx again adds no new links
	linked, err = e.ObserveTransaction(ctx, tx)
	require.NoError(t, err)
	assert.Zero(t, linked)
	assert.Len(t, store.log, 2)
}

func TestObserveTransactionSkipsMixingRound(t *testing.T) {
	e := newTestEngine(t, &memLinkStore{})

	// Many inputs and a block of equal outputs: the CoinJoin shape
	equal := decimal.NewFromInt(1)
	tx := coSpendTx(t, "mix-tx", []string{"p1", "p2", "p3", "p4"},
		[]decimal.Decimal{equal, equal, equal, equal})
	linked, err := e.ObserveTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Zero(t, linked)
	assert.False(t, e.SameEntity(key("p1"), key("p2")))
}

func TestObserveTransactionSkipsAccountModel(t *testing.T) {
	e := newTestEngine(t, &memLinkStore{})
	tx, err := chain.NewTransaction(chain.ChainEthereum, "eth-tx", 100, "block", time.Now().UTC())
	require.NoError(t, err)
	tx.Inputs = []chain.Movement{
		{Address: "e1", Asset: "ETH", Amount: decimal.NewFromInt(1)},
		{Address: "e2", Asset: "ETH", Amount: decimal.NewFromInt(1)},
	}
	linked, err := e.ObserveTransaction(context.Background(), tx)
	require.NoError(t, err)
	assert.Zero(t, linked)
}
