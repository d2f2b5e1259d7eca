package scheduler

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// JobFunc is one scheduled unit of work.
type JobFunc func(ctx context.Context) error

// job couples a name, interval and function.
type job struct {
	name     string
	interval time.Duration
	fn       JobFunc
}

// Scheduler runs registered jobs at fixed intervals. A job never overlaps
// itself: if a run outlasts its interval, the next tick waits for it to
// finish. Jobs are independent; one failing or slow job does not delay the
// others.
type Scheduler struct {
	initialDelay time.Duration
	logger       *zap.Logger
	metrics      *telemetry.Metrics

	mu      sync.Mutex
	jobs    []job
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	started bool
}

// New creates a scheduler; jobs first fire after the initial delay
func New(initialDelay time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) *Scheduler {
	return &Scheduler{
		initialDelay: initialDelay,
		logger:       logger,
		metrics:      metrics,
	}
}

// Register adds a job. Must be called before Start.
func (s *Scheduler) Register(name string, interval time.Duration, fn JobFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || interval <= 0 {
		return
	}
	s.jobs = append(s.jobs, job{name: name, interval: interval, fn: fn})
}

// Start launches one goroutine per job. Idempotent.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(runCtx, j)
	}
	s.started = true
	s.logger.Info("scheduler started",
		zap.Int("jobs", len(s.jobs)),
		zap.Duration("initial_delay", s.initialDelay))
}

// Stop cancels all jobs and waits for in-flight runs to finish
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.started = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) runJob(ctx context.Context, j job) {
	defer s.wg.Done()

	select {
	case <-ctx.Done():
		return
	case <-time.After(s.initialDelay):
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	s.execute(ctx, j)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j job) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := j.fn(ctx)
	elapsed := time.Since(start)

	s.metrics.SchedulerDuration.WithLabelValues(j.name).Observe(elapsed.Seconds())
	outcome := "ok"
	if err != nil {
		outcome = "error"
		s.logger.Warn("scheduled job failed",
			zap.String("job", j.name),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
	} else {
		s.logger.Debug("scheduled job complete",
			zap.String("job", j.name),
			zap.Duration("elapsed", elapsed))
	}
	s.metrics.SchedulerRuns.WithLabelValues(j.name, outcome).Inc()
}
