package pattern

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/pattern"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// MatchStore persists pattern matches and answers dedup lookups.
type MatchStore interface {
	FindByDedupKey(ctx context.Context, key string) (*pattern.Match, error)
	SaveMatch(ctx context.Context, match *pattern.Match) error
}

// LabelSource answers cluster-membership questions about counterparties.
type LabelSource interface {
	IsMixer(ctx context.Context, key chain.AddressKey) (bool, error)
	IsSanctioned(ctx context.Context, key chain.AddressKey) (bool, error)
	IsBridge(ctx context.Context, key chain.AddressKey) (bool, error)
}

// Thresholds parameterise every pattern predicate.
type Thresholds struct {
	PeelMinHops         int
	PeelMaxPeelRatio    float64
	RapidMinHops        int
	RapidWindow         time.Duration
	LayeringMinBranches int
	LayeringWindow      time.Duration
	BridgeWindow        time.Duration
	BridgeAmountSlack   float64
	WindowRetention     time.Duration
}

// DefaultThresholds returns the tuned defaults
func DefaultThresholds() Thresholds {
	return Thresholds{
		PeelMinHops:         4,
		PeelMaxPeelRatio:    0.3,
		RapidMinHops:        3,
		RapidWindow:         10 * time.Minute,
		LayeringMinBranches: 4,
		LayeringWindow:      time.Hour,
		BridgeWindow:        30 * time.Minute,
		BridgeAmountSlack:   0.02,
		WindowRetention:     24 * time.Hour,
	}
}

// peelTrail tracks a chain of one-hop transfers that keep peeling small
// outputs while forwarding the bulk to a fresh address.
type peelTrail struct {
	txs       []string
	addrs     []chain.AddressKey
	start     time.Time
	last      time.Time
	lastValue decimal.Decimal
}

// hopTrail tracks funds moving across consecutive transactions for the
// rapid-movement predicate.
type hopTrail struct {
	txs   []string
	addrs []chain.AddressKey
	start time.Time
	last  time.Time
	hops  int
}

// fanState tracks splits and merges around an origin for layering.
type fanState struct {
	splitTxs []string
	mergeTxs []string
	outAddrs map[string]bool
	start    time.Time
	last     time.Time
}

// bridgeWithdrawal is one half of a potential cross-chain hop.
type bridgeWithdrawal struct {
	tx     string
	chain  chain.ChainID
	addr   string
	amount decimal.Decimal
	at     time.Time
}

// Detector consumes the transaction stream incrementally, keeping bounded
// per-pattern sliding state and emitting a match only once per
// (kind, participating transaction set).
type Detector struct {
	store   MatchStore
	labels  LabelSource
	th      Thresholds
	logger  *zap.Logger
	metrics *telemetry.Metrics

	peels       map[string]*peelTrail // keyed by current change address
	hops        map[string]*hopTrail  // keyed by current holding address
	fans        map[string]*fanState  // keyed by origin address
	withdrawals []bridgeWithdrawal    // bounded recent bridge exits
}

// NewDetector builds a detector with the given thresholds
func NewDetector(store MatchStore, labels LabelSource, th Thresholds, logger *zap.Logger, metrics *telemetry.Metrics) *Detector {
	if th.WindowRetention <= 0 {
		th = DefaultThresholds()
	}
	return &Detector{
		store:   store,
		labels:  labels,
		th:      th,
		logger:  logger,
		metrics: metrics,
		peels:   make(map[string]*peelTrail),
		hops:    make(map[string]*hopTrail),
		fans:    make(map[string]*fanState),
	}
}

// Process feeds one confirmed transaction through every pattern predicate
// and returns any matches emitted.
func (d *Detector) Process(ctx context.Context, tx *chain.Transaction) ([]*pattern.Match, error) {
	d.prune(tx.Timestamp)

	var matches []*pattern.Match
	for _, detect := range []func(context.Context, *chain.Transaction) (*pattern.Match, error){
		d.detectMixer,
		d.detectSanctions,
		d.detectPeeling,
		d.detectRapid,
		d.detectLayering,
		d.detectBridge,
	} {
		match, err := detect(ctx, tx)
		if err != nil {
			return nil, err
		}
		if match != nil {
			matches = append(matches, match)
		}
	}
	return matches, nil
}

// detectPeeling extends the trail when the tx is the canonical 1-in-2-out
// peel step whose input is the previous step's change output. The smaller
// output is the peel; the larger forwards the bulk.
func (d *Detector) detectPeeling(ctx context.Context, tx *chain.Transaction) (*pattern.Match, error) {
	if len(tx.Inputs) != 1 || len(tx.Outputs) != 2 {
		return nil, nil
	}

	peel, bulk := tx.Outputs[0], tx.Outputs[1]
	if peel.Amount.GreaterThan(bulk.Amount) {
		peel, bulk = bulk, peel
	}
	total := peel.Amount.Add(bulk.Amount)
	if total.IsZero() {
		return nil, nil
	}
	ratio, _ := peel.Amount.Div(total).Float64()
	if ratio > d.th.PeelMaxPeelRatio {
		return nil, nil
	}

	input := tx.Inputs[0].Address
	trail, ok := d.peels[input]
	if !ok {
		trail = &peelTrail{start: tx.Timestamp}
	}
	delete(d.peels, input)

	trail.txs = append(trail.txs, tx.Hash)
	trail.addrs = append(trail.addrs,
		chain.AddressKey{Chain: tx.Chain, Address: input},
		chain.AddressKey{Chain: tx.Chain, Address: bulk.Address})
	trail.last = tx.Timestamp
	trail.lastValue = bulk.Amount
	d.peels[bulk.Address] = trail

	if len(trail.txs) < d.th.PeelMinHops {
		return nil, nil
	}

	// Confidence grows with the margin over the minimum hop count
	confidence := 0.6 + 0.1*float64(len(trail.txs)-d.th.PeelMinHops)
	if confidence > 0.95 {
		confidence = 0.95
	}
	evidence := fmt.Sprintf("peeling chain of %d hops ending at %s", len(trail.txs), bulk.Address)
	return d.emit(ctx, pattern.KindPeelingChain, confidence, trail.txs, trail.addrs, trail.start, trail.last, evidence)
}

func (d *Detector) detectMixer(ctx context.Context, tx *chain.Transaction) (*pattern.Match, error) {
	for _, m := range append(append([]chain.Movement{}, tx.Inputs...), tx.Outputs...) {
		if m.Address == "" {
			continue
		}
		key := chain.AddressKey{Chain: tx.Chain, Address: m.Address}
		isMixer, err := d.labels.IsMixer(ctx, key)
		if err != nil {
			return nil, err
		}
		if isMixer {
			evidence := fmt.Sprintf("counterparty %s belongs to a mixer cluster", m.Address)
			return d.emit(ctx, pattern.KindMixerContact, 0.85, []string{tx.Hash},
				participants(tx), tx.Timestamp, tx.Timestamp, evidence)
		}
	}
	return nil, nil
}

func (d *Detector) detectSanctions(ctx context.Context, tx *chain.Transaction) (*pattern.Match, error) {
	for _, m := range append(append([]chain.Movement{}, tx.Inputs...), tx.Outputs...) {
		if m.Address == "" {
			continue
		}
		key := chain.AddressKey{Chain: tx.Chain, Address: m.Address}
		sanctioned, err := d.labels.IsSanctioned(ctx, key)
		if err != nil {
			return nil, err
		}
		if sanctioned {
			evidence := fmt.Sprintf("direct contact with sanctioned address %s", m.Address)
			return d.emit(ctx, pattern.KindSanctionsTouch, 0.95, []string{tx.Hash},
				participants(tx), tx.Timestamp, tx.Timestamp, evidence)
		}
	}
	return nil, nil
}

// detectRapid tracks funds hopping between fresh addresses. A trail whose
// hop count reaches the threshold inside the window is rapid movement.
func (d *Detector) detectRapid(ctx context.Context, tx *chain.Transaction) (*pattern.Match, error) {
	if len(tx.Inputs) == 0 || len(tx.Outputs) == 0 {
		return nil, nil
	}

	input := tx.Inputs[0].Address
	trail, ok := d.hops[input]
	if ok && tx.Timestamp.Sub(trail.start) <= d.th.RapidWindow {
		delete(d.hops, input)
		trail.hops++
		trail.txs = append(trail.txs, tx.Hash)
		trail.last = tx.Timestamp
	} else {
		trail = &hopTrail{txs: []string{tx.Hash}, start: tx.Timestamp, last: tx.Timestamp, hops: 1}
	}
	trail.addrs = append(trail.addrs, chain.AddressKey{Chain: tx.Chain, Address: input})
	d.hops[tx.Outputs[0].Address] = trail

	if trail.hops < d.th.RapidMinHops {
		return nil, nil
	}

	elapsed := trail.last.Sub(trail.start)
	// Margin: faster trails over more hops score higher
	speed := 1 - elapsed.Seconds()/d.th.RapidWindow.Seconds()
	confidence := 0.5 + 0.4*speed
	evidence := fmt.Sprintf("%d hops in %s", trail.hops, elapsed.Round(time.Second))
	return d.emit(ctx, pattern.KindRapidMovement, confidence, trail.txs, trail.addrs, trail.start, trail.last, evidence)
}

// detectLayering watches an origin split value across many outputs and the
// split branches merge again within the window.
func (d *Detector) detectLayering(ctx context.Context, tx *chain.Transaction) (*pattern.Match, error) {
	// Split: one input fanning out to several outputs
	if len(tx.Inputs) == 1 && len(tx.Outputs) >= d.th.LayeringMinBranches {
		origin := tx.Inputs[0].Address
		fan, ok := d.fans[origin]
		if !ok {
			fan = &fanState{outAddrs: make(map[string]bool), start: tx.Timestamp}
			d.fans[origin] = fan
		}
		fan.splitTxs = append(fan.splitTxs, tx.Hash)
		fan.last = tx.Timestamp
		for _, out := range tx.Outputs {
			fan.outAddrs[out.Address] = true
		}
		return nil, nil
	}

	// Merge: several inputs converging; if enough of them trace back to a
	// recorded split, the layering predicate is complete.
	if len(tx.Inputs) >= d.th.LayeringMinBranches && len(tx.Outputs) <= 2 {
		for origin, fan := range d.fans {
			if tx.Timestamp.Sub(fan.start) > d.th.LayeringWindow {
				continue
			}
			overlap := 0
			for _, in := range tx.Inputs {
				if fan.outAddrs[in.Address] {
					overlap++
				}
			}
			if overlap < d.th.LayeringMinBranches {
				continue
			}

			fan.mergeTxs = append(fan.mergeTxs, tx.Hash)
			txs := append(append([]string{}, fan.splitTxs...), fan.mergeTxs...)
			addrs := []chain.AddressKey{{Chain: tx.Chain, Address: origin}}
			for _, in := range tx.Inputs {
				addrs = append(addrs, chain.AddressKey{Chain: tx.Chain, Address: in.Address})
			}
			confidence := 0.5 + 0.1*float64(overlap-d.th.LayeringMinBranches)
			if confidence > 0.9 {
				confidence = 0.9
			}
			evidence := fmt.Sprintf("split from %s re-merged through %d branches", origin, overlap)
			delete(d.fans, origin)
			return d.emit(ctx, pattern.KindLayering, confidence, txs, addrs, fan.start, tx.Timestamp, evidence)
		}
	}
	return nil, nil
}

// detectBridge pairs a withdrawal to a bridge-labelled address on one chain
// with a similar-sized deposit from a bridge on another chain inside the
// window.
func (d *Detector) detectBridge(ctx context.Context, tx *chain.Transaction) (*pattern.Match, error) {
	// Outbound leg: payment into a bridge address
	for _, out := range tx.Outputs {
		if out.Address == "" {
			continue
		}
		isBridge, err := d.labels.IsBridge(ctx, chain.AddressKey{Chain: tx.Chain, Address: out.Address})
		if err != nil {
			return nil, err
		}
		if isBridge {
			d.withdrawals = append(d.withdrawals, bridgeWithdrawal{
				tx: tx.Hash, chain: tx.Chain, addr: out.Address, amount: out.Amount, at: tx.Timestamp,
			})
			if len(d.withdrawals) > 10000 {
				d.withdrawals = d.withdrawals[len(d.withdrawals)-10000:]
			}
		}
	}

	// Inbound leg: funds arriving from a bridge on a different chain
	for _, in := range tx.Inputs {
		if in.Address == "" {
			continue
		}
		isBridge, err := d.labels.IsBridge(ctx, chain.AddressKey{Chain: tx.Chain, Address: in.Address})
		if err != nil {
			return nil, err
		}
		if !isBridge {
			continue
		}
		deposited := in.Amount
		for _, w := range d.withdrawals {
			if w.chain == tx.Chain {
				continue
			}
			if tx.Timestamp.Sub(w.at) > d.th.BridgeWindow || tx.Timestamp.Before(w.at) {
				continue
			}
			if !amountsClose(w.amount, deposited, d.th.BridgeAmountSlack) {
				continue
			}
			confidence := 0.7
			evidence := fmt.Sprintf("withdrawal on %s paired with deposit on %s within %s",
				w.chain, tx.Chain, tx.Timestamp.Sub(w.at).Round(time.Second))
			return d.emit(ctx, pattern.KindBridgeHop, confidence,
				[]string{w.tx, tx.Hash},
				[]chain.AddressKey{{Chain: w.chain, Address: w.addr}, {Chain: tx.Chain, Address: in.Address}},
				w.at, tx.Timestamp, evidence)
		}
	}
	return nil, nil
}

// emit persists a match once per (kind, tx set). Re-detections return the
// stored match; strictly stronger ones supersede it.
func (d *Detector) emit(ctx context.Context, kind pattern.Kind, confidence float64, txs []string, addrs []chain.AddressKey, start, end time.Time, evidence string) (*pattern.Match, error) {
	dedupKey := pattern.DedupKey(kind, txs)
	existing, err := d.store.FindByDedupKey(ctx, dedupKey)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	if existing != nil {
		if confidence <= existing.Confidence {
			return existing, nil
		}
		superseding, err := existing.Supersede(confidence, evidence)
		if err != nil {
			return nil, err
		}
		if err := d.store.SaveMatch(ctx, superseding); err != nil {
			return nil, err
		}
		d.metrics.PatternMatches.WithLabelValues(string(kind)).Inc()
		return superseding, nil
	}

	match, err := pattern.NewMatch(kind, confidence, txs, addrs, start, end, evidence)
	if err != nil {
		return nil, err
	}
	if err := d.store.SaveMatch(ctx, match); err != nil {
		return nil, err
	}
	d.metrics.PatternMatches.WithLabelValues(string(kind)).Inc()
	d.logger.Debug("pattern match emitted",
		zap.String("kind", string(kind)),
		zap.Float64("confidence", confidence))
	return match, nil
}

// prune drops sliding state older than the retention window
func (d *Detector) prune(now time.Time) {
	cutoff := now.Add(-d.th.WindowRetention)
	for key, trail := range d.peels {
		if trail.last.Before(cutoff) {
			delete(d.peels, key)
		}
	}
	for key, trail := range d.hops {
		if trail.last.Before(cutoff) {
			delete(d.hops, key)
		}
	}
	for key, fan := range d.fans {
		if fan.last.Before(cutoff) {
			delete(d.fans, key)
		}
	}
	kept := d.withdrawals[:0]
	for _, w := range d.withdrawals {
		if !w.at.Before(cutoff) {
			kept = append(kept, w)
		}
	}
	d.withdrawals = kept
}

func participants(tx *chain.Transaction) []chain.AddressKey {
	seen := map[string]bool{}
	var keys []chain.AddressKey
	for _, m := range append(append([]chain.Movement{}, tx.Inputs...), tx.Outputs...) {
		if m.Address == "" || seen[m.Address] {
			continue
		}
		seen[m.Address] = true
		keys = append(keys, chain.AddressKey{Chain: tx.Chain, Address: m.Address})
	}
	return keys
}

func amountsClose(a, b decimal.Decimal, slack float64) bool {
	if a.IsZero() || b.IsZero() {
		return false
	}
	diff := a.Sub(b).Abs()
	ratio, _ := diff.Div(a).Float64()
	return ratio <= slack
}
