package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/ledger"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// Pool supervises one collector per configured chain. Collectors are
// independent workers with their own backoff state and cursor; the pool only
// starts, stops and reports on them.
type Pool struct {
	collectors map[chain.ChainID]*Collector
	out        chan chain.TxEnvelope
	grace      time.Duration
	logger     *zap.Logger

	mu      sync.Mutex
	cancel  context.CancelFunc
	group   *errgroup.Group
	started bool
}

// NewPool builds the pool and its shared bounded analysis queue
func NewPool(clients []ledger.Client, store CursorStore, opts Options, queueCapacity int, grace time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Pool {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	if grace <= 0 {
		grace = 15 * time.Second
	}
	out := make(chan chain.TxEnvelope, queueCapacity)
	collectors := make(map[chain.ChainID]*Collector, len(clients))
	for _, client := range clients {
		collectors[client.ChainID()] = New(client, store, out, opts, logger, metrics)
	}
	return &Pool{
		collectors: collectors,
		out:        out,
		grace:      grace,
		logger:     logger,
	}
}

// Queue exposes the analysis queue consumed by the pipeline
func (p *Pool) Queue() <-chan chain.TxEnvelope {
	return p.out
}

// StartAll begins all configured collectors. Idempotent.
func (p *Pool) StartAll(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	group, groupCtx := errgroup.WithContext(runCtx)
	p.group = group
	for _, c := range p.collectors {
		collector := c
		group.Go(func() error {
			return collector.Run(groupCtx)
		})
	}
	p.started = true
	p.logger.Info("collector pool started", zap.Int("collectors", len(p.collectors)))
}

// StopAll requests graceful cancellation and waits up to the grace period
// for collectors to observe it, then abandons them.
func (p *Pool) StopAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.started {
		return
	}
	p.cancel()

	done := make(chan struct{})
	go func() {
		_ = p.group.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("collector pool drained")
	case <-time.After(p.grace):
		p.logger.Warn("collector pool drain timed out, abandoning",
			zap.Duration("grace", p.grace))
	}
	p.started = false
}

// Status reports all collectors' snapshots keyed by chain
func (p *Pool) Status() map[chain.ChainID]Status {
	statuses := make(map[chain.ChainID]Status, len(p.collectors))
	for id, c := range p.collectors {
		statuses[id] = c.Status()
	}
	return statuses
}
