package risk

import (
	"context"
	"math"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/pattern"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// Store is the graph-store view the engine scores from.
type Store interface {
	GetAddress(ctx context.Context, key chain.AddressKey) (*chain.Address, error)
	LabelsFor(ctx context.Context, key chain.AddressKey) ([]*entity.Label, error)
	MatchesFor(ctx context.Context, key chain.AddressKey) ([]*pattern.Match, error)
	Counterparties(ctx context.Context, key chain.AddressKey) ([]chain.AddressKey, error)
	LastAssessment(ctx context.Context, targetType risk.TargetType, targetID string) (*risk.Assessment, error)
	SaveAssessment(ctx context.Context, assessment *risk.Assessment) error
}

// Engine computes deterministic risk scores in [0,1]. Given the same
// persisted inputs and the same config version, two calls produce
// bit-identical results: iteration over maps is sorted and no wall-clock
// input enters the score.
type Engine struct {
	store   Store
	cfg     risk.Config
	logger  *zap.Logger
	metrics *telemetry.Metrics
}

// NewEngine validates the config snapshot and builds the engine
func NewEngine(store Store, cfg risk.Config, logger *zap.Logger, metrics *telemetry.Metrics) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{store: store, cfg: cfg, logger: logger, metrics: metrics}, nil
}

// ConfigVersion exposes the active scoring config version
func (e *Engine) ConfigVersion() string {
	return e.cfg.Version
}

// ScoreAddress scores one address and returns the factor breakdown. Unknown
// addresses score the unlabelled baseline of zero, not "unknown high risk".
func (e *Engine) ScoreAddress(ctx context.Context, key chain.AddressKey) (float64, map[risk.Factor]float64, error) {
	factors := map[risk.Factor]float64{}

	addr, err := e.store.GetAddress(ctx, key)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return 0, nil, err
	}

	labelScore, sanctioned, err := e.labelFactor(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	factors[risk.FactorLabels] = labelScore
	if sanctioned {
		factors[risk.FactorSanctions] = e.cfg.LabelWeights["sanctions"]
	}

	patternScore, err := e.patternFactor(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	factors[risk.FactorPatterns] = patternScore

	counterpartyScore, err := e.counterpartyFactor(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	factors[risk.FactorCounterparty] = counterpartyScore

	if addr != nil {
		factors[risk.FactorAge] = ageFactor(addr)
		factors[risk.FactorVolume] = volumeFactor(addr)
	}

	return e.clamp(sum(factors)), factors, nil
}

// ScoreTransaction scores a transaction as the maximum of its participating
// addresses' scores, weighted down for outputs.
func (e *Engine) ScoreTransaction(ctx context.Context, tx *chain.Transaction) (float64, map[risk.Factor]float64, error) {
	var best float64
	var bestFactors map[risk.Factor]float64

	keys := participantKeys(tx)
	for _, key := range keys {
		score, factors, err := e.ScoreAddress(ctx, key)
		if err != nil {
			return 0, nil, err
		}
		if score > best || bestFactors == nil {
			best = score
			bestFactors = factors
		}
	}
	if bestFactors == nil {
		bestFactors = map[risk.Factor]float64{}
	}
	return e.clamp(best), bestFactors, nil
}

// Publish stores an assessment when the score crossed the configured
// threshold or moved more than epsilon since the last stored snapshot. The
// bound keeps downstream alerting responsive without unbounded write
// amplification. Returns the stored assessment, or nil when suppressed.
func (e *Engine) Publish(ctx context.Context, targetType risk.TargetType, targetID string, score float64, factors map[risk.Factor]float64) (*risk.Assessment, error) {
	last, err := e.store.LastAssessment(ctx, targetType, targetID)
	if err != nil && !errors.IsKind(err, errors.KindNotFound) {
		return nil, err
	}

	if last != nil {
		crossed := (last.Score < e.cfg.PublishThreshold) != (score < e.cfg.PublishThreshold)
		moved := math.Abs(last.Score-score) > e.cfg.PublishEpsilon
		if !crossed && !moved {
			return nil, nil
		}
	}

	assessment, err := risk.NewAssessment(targetType, targetID, score, factors, e.cfg.Version, "risk-engine")
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveAssessment(ctx, assessment); err != nil {
		return nil, err
	}
	e.metrics.RiskAssessments.Inc()
	e.logger.Debug("risk assessment published",
		zap.String("target", targetID),
		zap.Float64("score", score))
	return assessment, nil
}

func (e *Engine) labelFactor(ctx context.Context, key chain.AddressKey) (float64, bool, error) {
	labels, err := e.store.LabelsFor(ctx, key)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}

	var score float64
	sanctioned := false
	for _, label := range labels {
		if label.IsSanctions() {
			sanctioned = true
			continue // counted in the dedicated sanctions factor
		}
		score += e.cfg.LabelWeights[string(label.Kind)]
	}
	return score, sanctioned, nil
}

func (e *Engine) patternFactor(ctx context.Context, key chain.AddressKey) (float64, error) {
	matches, err := e.store.MatchesFor(ctx, key)
	if err != nil {
		if errors.IsKind(err, errors.KindNotFound) {
			return 0, nil
		}
		return 0, err
	}

	var score float64
	for _, match := range matches {
		if match.Confidence < e.cfg.MinConfidence {
			continue
		}
		score += e.cfg.PatternWeights[string(match.Kind)] * match.Confidence
	}
	return score, nil
}

// counterpartyFactor walks up to MaxHops of the counterparty graph with
// cycle detection, decaying each hop's contribution.
func (e *Engine) counterpartyFactor(ctx context.Context, origin chain.AddressKey) (float64, error) {
	if e.cfg.MaxHops == 0 || e.cfg.CounterpartyDecay == 0 {
		return 0, nil
	}

	visited := map[chain.AddressKey]bool{origin: true}
	frontier := []chain.AddressKey{origin}
	decay := e.cfg.CounterpartyDecay
	var score float64

	for hop := 1; hop <= e.cfg.MaxHops; hop++ {
		var next []chain.AddressKey
		for _, key := range frontier {
			neighbours, err := e.store.Counterparties(ctx, key)
			if err != nil {
				if errors.IsKind(err, errors.KindNotFound) {
					continue
				}
				return 0, err
			}
			sort.Slice(neighbours, func(i, j int) bool {
				return neighbours[i].String() < neighbours[j].String()
			})
			for _, neighbour := range neighbours {
				if visited[neighbour] {
					continue
				}
				visited[neighbour] = true

				direct, sanctioned, err := e.labelFactor(ctx, neighbour)
				if err != nil {
					return 0, err
				}
				if sanctioned {
					direct += e.cfg.LabelWeights["sanctions"]
				}
				score += direct * math.Pow(decay, float64(hop))
				next = append(next, neighbour)
			}
		}
		frontier = next
		if len(frontier) == 0 {
			break
		}
	}
	return score, nil
}

func (e *Engine) clamp(score float64) float64 {
	if score < 0 {
		return 0
	}
	if score > e.cfg.ScoreClamp {
		return e.cfg.ScoreClamp
	}
	return score
}

// ageFactor maps account age to a small contribution: very young addresses
// carry slightly more risk.
func ageFactor(addr *chain.Address) float64 {
	age := addr.LastSeen.Sub(addr.FirstSeen)
	switch {
	case age < time.Hour:
		return 0.05
	case age < 24*time.Hour:
		return 0.02
	default:
		return 0
	}
}

// volumeFactor flags pass-through behaviour: inflow nearly equal to outflow
// across many movements.
func volumeFactor(addr *chain.Address) float64 {
	if addr.InCount < 10 || addr.OutCount < 10 {
		return 0
	}
	assets := make([]string, 0, len(addr.InVolume))
	for asset := range addr.InVolume {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	for _, asset := range assets {
		in := addr.InVolume[asset]
		out, ok := addr.OutVolume[asset]
		if !ok || in.IsZero() {
			continue
		}
		ratio, _ := out.Div(in).Float64()
		if ratio > 0.95 && ratio <= 1.0 {
			return 0.05
		}
	}
	return 0
}

// sum adds factors in sorted key order. Float addition is not associative,
// so map-order iteration would make the same inputs score differently.
func sum(factors map[risk.Factor]float64) float64 {
	keys := make([]risk.Factor, 0, len(factors))
	for k := range factors {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	var total float64
	for _, k := range keys {
		total += factors[k]
	}
	return total
}

func participantKeys(tx *chain.Transaction) []chain.AddressKey {
	seen := map[string]bool{}
	var keys []chain.AddressKey
	for _, m := range append(append([]chain.Movement{}, tx.Inputs...), tx.Outputs...) {
		if m.Address == "" || seen[m.Address] {
			continue
		}
		seen[m.Address] = true
		keys = append(keys, chain.AddressKey{Chain: tx.Chain, Address: m.Address})
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i].Address < keys[j].Address })
	return keys
}
