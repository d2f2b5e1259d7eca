package collector

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/ledger"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// Health is the reported state of one collector.
type Health string

const (
	HealthStarting Health = "starting"
	HealthHealthy  Health = "healthy"
	HealthDegraded Health = "degraded"
	HealthStopped  Health = "stopped"
)

// Status is the per-chain collector snapshot returned by the pool.
type Status struct {
	Chain      chain.ChainID `json:"chain"`
	LastHeight int64         `json:"last_height"`
	HeadHeight int64         `json:"head_height"`
	Lag        int64         `json:"lag"`
	LastError  string        `json:"last_error,omitempty"`
	Health     Health        `json:"health"`
}

// CursorStore persists collector progress. CommitBatch must write block
// hashes and the advanced cursor atomically: the cursor never moves past
// unacked work.
type CursorStore interface {
	Cursor(ctx context.Context, chainID chain.ChainID) (int64, error)
	StoredHash(ctx context.Context, chainID chain.ChainID, height int64) (string, error)
	StoredTxHashes(ctx context.Context, chainID chain.ChainID, from, to int64) ([]string, error)
	CommitBatch(ctx context.Context, chainID chain.ChainID, blocks []*chain.Block, newCursor int64) error
	Rewind(ctx context.Context, chainID chain.ChainID, toHeight int64) error
}

// Options bound the collector's fetching and backoff behaviour.
type Options struct {
	BatchSize     int
	PollInterval  time.Duration
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	DegradedAfter int
	ReorgDepth    int64
}

// Collector maintains a live ordered stream of confirmed blocks for one
// chain and publishes normalised transactions to the analysis queue. A full
// queue blocks the collector: correctness over freshness.
type Collector struct {
	client  ledger.Client
	store   CursorStore
	out     chan<- chain.TxEnvelope
	opts    Options
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu          sync.Mutex
	cursor      int64
	head        int64
	lastErr     error
	consecFails int
	health      Health
}

// New creates a collector for one chain
func New(client ledger.Client, store CursorStore, out chan<- chain.TxEnvelope, opts Options, logger *zap.Logger, metrics *telemetry.Metrics) *Collector {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 5 * time.Minute
	}
	if opts.DegradedAfter <= 0 {
		opts.DegradedAfter = 3
	}
	if opts.ReorgDepth <= 0 {
		opts.ReorgDepth = 100
	}
	return &Collector{
		client:  client,
		store:   store,
		out:     out,
		opts:    opts,
		logger:  logger.With(zap.String("chain", string(client.ChainID()))),
		metrics: metrics,
		health:  HealthStarting,
	}
}

// Status returns the collector's current snapshot
func (c *Collector) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Status{
		Chain:      c.client.ChainID(),
		LastHeight: c.cursor,
		HeadHeight: c.head,
		Lag:        c.head - c.cursor,
		Health:     c.health,
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// Run drives the collect loop until the context is cancelled. Fetch errors
// are retried forever with exponential backoff; the loop exits only on
// cancellation.
func (c *Collector) Run(ctx context.Context) error {
	cursor, err := c.store.Cursor(ctx, c.client.ChainID())
	if err != nil {
		c.setError(err)
		return err
	}
	c.setCursor(cursor)
	c.logger.Info("collector starting", zap.Int64("cursor", cursor))

	for {
		if err := c.step(ctx); err != nil {
			if ctx.Err() != nil {
				break
			}
			c.setError(err)
			c.metrics.CollectorErrors.WithLabelValues(string(c.client.ChainID())).Inc()
			if !c.sleep(ctx, c.backoff()) {
				break
			}
			continue
		}
		c.clearError()
		if !c.sleep(ctx, c.opts.PollInterval) {
			break
		}
	}

	c.mu.Lock()
	c.health = HealthStopped
	c.mu.Unlock()
	c.logger.Info("collector stopped", zap.Int64("cursor", c.cursorValue()))
	return nil
}

// step performs one poll: reorg check, batch fetch, publish, commit.
func (c *Collector) step(ctx context.Context) error {
	chainID := c.client.ChainID()

	head, err := c.client.Head(ctx)
	if err != nil {
		return err
	}
	c.setHead(head.Height)
	c.metrics.CollectorHeight.WithLabelValues(string(chainID)).Set(float64(c.cursorValue()))
	c.metrics.CollectorLag.WithLabelValues(string(chainID)).Set(float64(head.Height - c.cursorValue()))

	if err := c.checkReorg(ctx); err != nil {
		return err
	}

	cursor := c.cursorValue()
	if head.Height <= cursor {
		return nil
	}

	to := cursor + int64(c.opts.BatchSize)
	if to > head.Height {
		to = head.Height
	}

	blocks := make([]*chain.Block, 0, to-cursor)
	for height := cursor + 1; height <= to; height++ {
		block, err := c.client.BlockByHeight(ctx, height)
		if err != nil {
			return err
		}
		blocks = append(blocks, block)
	}

	// Publish before commit: a crash between the two reprocesses the batch
	// from the same cursor, and downstream dedup absorbs the replay.
	for _, block := range blocks {
		for _, tx := range block.Transactions {
			select {
			case c.out <- chain.TxEnvelope{Tx: tx}:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}

	if err := c.store.CommitBatch(ctx, chainID, blocks, to); err != nil {
		return errors.Wrap(err, "committing batch")
	}
	c.setCursor(to)
	return nil
}

// checkReorg compares the stored hash at the cursor against the canonical
// chain. On disagreement it walks back to the nearest common ancestor,
// emits orphaned envelopes for the abandoned heights and rewinds the cursor
// so the canonical blocks are reprocessed.
func (c *Collector) checkReorg(ctx context.Context) error {
	chainID := c.client.ChainID()
	cursor := c.cursorValue()
	if cursor == 0 {
		return nil
	}

	stored, err := c.store.StoredHash(ctx, chainID, cursor)
	if err != nil || stored == "" {
		return err
	}
	canonical, err := c.client.BlockHash(ctx, cursor)
	if err != nil {
		return err
	}
	if stored == canonical {
		return nil
	}

	c.logger.Warn("reorg detected",
		zap.Int64("height", cursor),
		zap.String("stored", stored),
		zap.String("canonical", canonical))

	ancestor := cursor - 1
	floor := cursor - c.opts.ReorgDepth
	if floor < 0 {
		floor = 0
	}
	for ancestor > floor {
		storedHash, err := c.store.StoredHash(ctx, chainID, ancestor)
		if err != nil {
			return err
		}
		canonicalHash, err := c.client.BlockHash(ctx, ancestor)
		if err != nil {
			return err
		}
		if storedHash == "" || storedHash == canonicalHash {
			break
		}
		ancestor--
	}

	orphanedTxs, err := c.store.StoredTxHashes(ctx, chainID, ancestor+1, cursor)
	if err != nil {
		return err
	}
	for _, txHash := range orphanedTxs {
		tx := &chain.Transaction{Chain: chainID, Hash: txHash, Status: chain.TxOrphaned}
		select {
		case c.out <- chain.TxEnvelope{Tx: tx, Orphaned: true}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	if err := c.store.Rewind(ctx, chainID, ancestor); err != nil {
		return err
	}
	c.setCursor(ancestor)
	c.logger.Info("rewound to common ancestor", zap.Int64("height", ancestor))
	return nil
}

func (c *Collector) backoff() time.Duration {
	c.mu.Lock()
	fails := c.consecFails
	c.mu.Unlock()

	backoff := c.opts.BackoffBase
	for i := 1; i < fails; i++ {
		backoff *= 2
		if backoff >= c.opts.BackoffMax {
			return c.opts.BackoffMax
		}
	}
	return backoff
}

func (c *Collector) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Collector) setCursor(height int64) {
	c.mu.Lock()
	c.cursor = height
	c.mu.Unlock()
}

func (c *Collector) cursorValue() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cursor
}

func (c *Collector) setHead(height int64) {
	c.mu.Lock()
	c.head = height
	c.mu.Unlock()
}

func (c *Collector) setError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = err
	c.consecFails++
	if c.consecFails >= c.opts.DegradedAfter {
		c.health = HealthDegraded
	}
}

func (c *Collector) clearError() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastErr = nil
	c.consecFails = 0
	c.health = HealthHealthy
}
