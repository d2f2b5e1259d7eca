package analysis

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/attribution"
	patternsvc "github.com/ledgertrace/ledgertrace-backend/internal/service/pattern"
	risksvc "github.com/ledgertrace/ledgertrace-backend/internal/service/risk"
)

// TxIndex answers whether a transaction was already analysed. The collector
// publishes before committing its cursor, so a crash replays the tail of a
// batch; the index absorbs that replay.
type TxIndex interface {
	Seen(ctx context.Context, chainID chain.ChainID, hash string) (bool, error)
	MarkProcessed(ctx context.Context, tx *chain.Transaction) error
	MarkOrphaned(ctx context.Context, chainID chain.ChainID, hash string) error
}

// AlertSubmitter is the alerting surface the pipeline emits events into.
type AlertSubmitter interface {
	Submit(ctx context.Context, event alert.Event) ([]*alert.Notification, error)
}

// Pipeline drains the collector queue and runs each confirmed transaction
// through attribution, pattern detection and risk scoring, emitting alert
// events for anything noteworthy.
type Pipeline struct {
	queue       <-chan chain.TxEnvelope
	index       TxIndex
	detector    *patternsvc.Detector
	attribution *attribution.Engine
	risk        *risksvc.Engine
	alerts      AlertSubmitter
	logger      *zap.Logger
	metrics     *telemetry.Metrics
}

// NewPipeline wires the analysis stages over the collector queue
func NewPipeline(queue <-chan chain.TxEnvelope, index TxIndex, detector *patternsvc.Detector, attributionEngine *attribution.Engine, riskEngine *risksvc.Engine, alerts AlertSubmitter, logger *zap.Logger, metrics *telemetry.Metrics) *Pipeline {
	return &Pipeline{
		queue:       queue,
		index:       index,
		detector:    detector,
		attribution: attributionEngine,
		risk:        riskEngine,
		alerts:      alerts,
		logger:      logger,
		metrics:     metrics,
	}
}

// Run consumes the queue until the context is cancelled. The pattern
// detector's sliding state is ordered per chain, so consumption is a single
// worker; downstream stores do their own write batching.
func (p *Pipeline) Run(ctx context.Context) error {
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return p.consume(groupCtx)
	})
	return group.Wait()
}

func (p *Pipeline) consume(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case envelope, ok := <-p.queue:
			if !ok {
				return nil
			}
			p.metrics.QueueDepth.Set(float64(len(p.queue)))
			if err := p.Process(ctx, envelope); err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				p.logger.Error("analysis failed",
					zap.String("tx", envelope.Tx.Hash),
					zap.Error(err))
			}
		}
	}
}

// Process handles one envelope: orphan retraction or full analysis.
func (p *Pipeline) Process(ctx context.Context, envelope chain.TxEnvelope) error {
	tx := envelope.Tx

	if envelope.Orphaned {
		if err := p.index.MarkOrphaned(ctx, tx.Chain, tx.Hash); err != nil {
			return err
		}
		_, err := p.alerts.Submit(ctx, alert.Event{
			Type: "transaction.orphaned",
			Data: map[string]interface{}{
				"chain": string(tx.Chain),
				"hash":  tx.Hash,
			},
		})
		return err
	}

	seen, err := p.index.Seen(ctx, tx.Chain, tx.Hash)
	if err != nil {
		return err
	}
	if seen {
		// Replay from a reprocessed batch
		return nil
	}

	if _, err := p.attribution.ObserveTransaction(ctx, tx); err != nil {
		return err
	}

	matches, err := p.detector.Process(ctx, tx)
	if err != nil {
		return err
	}
	for _, match := range matches {
		if _, err := p.alerts.Submit(ctx, alert.Event{
			Type: "pattern.match",
			Data: map[string]interface{}{
				"kind":       string(match.Kind),
				"confidence": match.Confidence,
				"chain":      string(tx.Chain),
				"tx_count":   len(match.Transactions),
			},
		}); err != nil {
			return err
		}
	}

	score, factors, err := p.risk.ScoreTransaction(ctx, tx)
	if err != nil {
		return err
	}
	assessment, err := p.risk.Publish(ctx, risk.TargetTransaction, tx.Hash, score, factors)
	if err != nil {
		return err
	}
	if assessment != nil {
		if _, err := p.alerts.Submit(ctx, alert.Event{
			Type: "risk.assessment",
			Data: map[string]interface{}{
				"target": tx.Hash,
				"chain":  string(tx.Chain),
				"score":  assessment.Score,
			},
		}); err != nil {
			return err
		}
	}

	if err := p.index.MarkProcessed(ctx, tx); err != nil {
		return err
	}
	p.metrics.TxProcessed.WithLabelValues(string(tx.Chain)).Inc()
	return nil
}
