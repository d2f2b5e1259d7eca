package attribution

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// LinkStore persists the append-only clustering log in recording order.
type LinkStore interface {
	AppendLink(ctx context.Context, record *entity.LinkRecord) error
	LinkLog(ctx context.Context) ([]*entity.LinkRecord, error)
}

// unionFind is a weighted union-find with path compression over address
// keys. It is a cache: the link log is the source of truth and the structure
// is rebuilt by replaying it.
type unionFind struct {
	parent map[chain.AddressKey]chain.AddressKey
	rank   map[chain.AddressKey]int
	size   map[chain.AddressKey]int
}

func newUnionFind() *unionFind {
	return &unionFind{
		parent: make(map[chain.AddressKey]chain.AddressKey),
		rank:   make(map[chain.AddressKey]int),
		size:   make(map[chain.AddressKey]int),
	}
}

func (u *unionFind) find(key chain.AddressKey) chain.AddressKey {
	if _, ok := u.parent[key]; !ok {
		u.parent[key] = key
		u.rank[key] = 0
		u.size[key] = 1
	}
	if u.parent[key] != key {
		u.parent[key] = u.find(u.parent[key])
	}
	return u.parent[key]
}

func (u *unionFind) union(a, b chain.AddressKey) bool {
	rootA, rootB := u.find(a), u.find(b)
	if rootA == rootB {
		return false
	}
	if u.rank[rootA] < u.rank[rootB] {
		rootA, rootB = rootB, rootA
	}
	u.parent[rootB] = rootA
	u.size[rootA] += u.size[rootB]
	if u.rank[rootA] == u.rank[rootB] {
		u.rank[rootA]++
	}
	return true
}

// Engine maintains address-to-entity attribution. Every membership change is
// recorded as a link or split in the append-only log before it touches the
// in-memory structure, so the clustering state at any point is fully
// reconstructible by replay.
type Engine struct {
	store  LinkStore
	logger *zap.Logger

	mu sync.RWMutex
	uf *unionFind
}

// NewEngine creates an attribution engine and loads the existing log
func NewEngine(ctx context.Context, store LinkStore, logger *zap.Logger) (*Engine, error) {
	e := &Engine{store: store, logger: logger, uf: newUnionFind()}
	if err := e.Rebuild(ctx); err != nil {
		return nil, err
	}
	return e, nil
}

// Rebuild replays the full link log. A split record deactivates every
// earlier link over the same unordered pair; the survivors are unioned in
// recording order.
func (e *Engine) Rebuild(ctx context.Context) error {
	log, err := e.store.LinkLog(ctx)
	if err != nil {
		return err
	}

	type pair struct{ a, b chain.AddressKey }
	normalise := func(a, b chain.AddressKey) pair {
		if b.String() < a.String() {
			a, b = b, a
		}
		return pair{a, b}
	}

	active := make([]*entity.LinkRecord, 0, len(log))
	for _, record := range log {
		if record.Split {
			severed := normalise(record.A, record.B)
			kept := active[:0]
			for _, prior := range active {
				if normalise(prior.A, prior.B) != severed {
					kept = append(kept, prior)
				}
			}
			active = kept
			continue
		}
		active = append(active, record)
	}

	uf := newUnionFind()
	for _, record := range active {
		uf.union(record.A, record.B)
	}

	e.mu.Lock()
	e.uf = uf
	e.mu.Unlock()
	e.logger.Info("attribution state rebuilt",
		zap.Int("log_records", len(log)),
		zap.Int("active_links", len(active)))
	return nil
}

// RecordLink appends a link to the log and applies it to the live structure.
func (e *Engine) RecordLink(ctx context.Context, a, b chain.AddressKey, reason entity.LinkReason, confidence float64, actor string) (*entity.LinkRecord, error) {
	record, err := entity.NewLinkRecord(a, b, reason, confidence)
	if err != nil {
		return nil, err
	}
	record.Actor = actor
	if err := e.store.AppendLink(ctx, record); err != nil {
		return nil, err
	}

	e.mu.Lock()
	merged := e.uf.union(a, b)
	e.mu.Unlock()

	if merged {
		e.logger.Debug("clusters merged",
			zap.String("a", a.String()),
			zap.String("b", b.String()),
			zap.String("reason", string(reason)))
	}
	return record, nil
}

// Split records an admin-ordered severing of the direct links between two
// addresses and rebuilds the structure. Addresses still connected through
// other links remain clustered.
func (e *Engine) Split(ctx context.Context, a, b chain.AddressKey, actor string) (*entity.LinkRecord, error) {
	if actor == "" {
		return nil, errors.NewValidationError("MISSING_ACTOR", "split requires an acting admin")
	}
	record, err := entity.NewLinkRecord(a, b, entity.ReasonAdminSplit, 1.0)
	if err != nil {
		return nil, err
	}
	record.Split = true
	record.Actor = actor
	if err := e.store.AppendLink(ctx, record); err != nil {
		return nil, err
	}
	if err := e.Rebuild(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

// ObserveTransaction applies the common-input-ownership heuristic: every
// input of a transaction is linked to the first, unless the transaction
// looks like a mixing round, where shared inputs prove nothing.
func (e *Engine) ObserveTransaction(ctx context.Context, tx *chain.Transaction) (int, error) {
	if tx.Chain.Model() != chain.ModelUTXO || len(tx.Inputs) < 2 {
		return 0, nil
	}
	if looksLikeMixingRound(tx) {
		return 0, nil
	}

	first := chain.AddressKey{Chain: tx.Chain, Address: tx.Inputs[0].Address}
	if first.Address == "" {
		return 0, nil
	}

	linked := 0
	for _, in := range tx.Inputs[1:] {
		if in.Address == "" || in.Address == first.Address {
			continue
		}
		key := chain.AddressKey{Chain: tx.Chain, Address: in.Address}
		if e.SameEntity(first, key) {
			continue
		}
		if _, err := e.RecordLink(ctx, first, key, entity.ReasonCoSpend, 0.9, "attribution-engine"); err != nil {
			return linked, err
		}
		linked++
	}
	return linked, nil
}

// looksLikeMixingRound flags the CoinJoin shape: many inputs and a block of
// equal-valued outputs. Co-spend inference across such a transaction would
// merge unrelated participants.
func looksLikeMixingRound(tx *chain.Transaction) bool {
	if len(tx.Inputs) < 3 || len(tx.Outputs) < 3 {
		return false
	}
	counts := make(map[string]int)
	for _, out := range tx.Outputs {
		counts[out.Amount.String()]++
	}
	for _, n := range counts {
		if n >= 3 {
			return true
		}
	}
	return false
}

// ClusterOf returns every address attributed to the same entity as key,
// sorted for stable output.
func (e *Engine) ClusterOf(key chain.AddressKey) []chain.AddressKey {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.uf.parent[key]; !ok {
		return []chain.AddressKey{key}
	}
	root := e.uf.find(key)
	var cluster []chain.AddressKey
	for member := range e.uf.parent {
		if e.uf.find(member) == root {
			cluster = append(cluster, member)
		}
	}
	sort.Slice(cluster, func(i, j int) bool {
		return cluster[i].String() < cluster[j].String()
	})
	return cluster
}

// ClusterSize returns the number of addresses in key's cluster
func (e *Engine) ClusterSize(key chain.AddressKey) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.uf.parent[key]; !ok {
		return 1
	}
	return e.uf.size[e.uf.find(key)]
}

// SameEntity reports whether two addresses are currently attributed to the
// same entity.
func (e *Engine) SameEntity(a, b chain.AddressKey) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.uf.find(a) == e.uf.find(b)
}

// TotalClusters counts the distinct entities currently tracked
func (e *Engine) TotalClusters() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	roots := make(map[chain.AddressKey]bool)
	for key := range e.uf.parent {
		roots[e.uf.find(key)] = true
	}
	return len(roots)
}
