package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ledgertrace/ledgertrace-backend/internal/api/rest"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/auth"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/cache"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/config"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/database"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/ledger"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/alerting"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/analysis"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/attribution"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/cases"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/collector"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/court"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/evidence"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/intel"
	patternsvc "github.com/ledgertrace/ledgertrace-backend/internal/service/pattern"
	risksvc "github.com/ledgertrace/ledgertrace-backend/internal/service/risk"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/scheduler"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("loading configuration: %v", err)
	}

	logger, err := telemetry.NewLogger(cfg.LogLevel, cfg.Environment)
	if err != nil {
		log.Fatalf("building logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil && err != context.Canceled {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	store, err := database.NewStore(ctx, cfg.Database, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	redisClient, err := cache.NewClient(ctx, cfg.Redis, logger)
	if err != nil {
		return err
	}
	defer redisClient.Close()
	limiter := cache.NewRateLimiter(redisClient, logger)
	sessions := cache.NewSessionStore(redisClient)

	caseRepo := database.NewCaseRepository(store)
	evidenceRepo := database.NewEvidenceRepository(store)
	alertRepo := database.NewAlertRepository(store)
	courtRepo := database.NewComplianceRepository(store)
	linkRepo := database.NewLinkRepository(store)
	graphRepo := database.NewGraphRepository(store)
	cursorRepo := database.NewCursorRepository(store)
	userRepo := database.NewUserRepository(store)

	tokens, err := auth.NewService(cfg.Security.JWTSecret, cfg.Security.Issuer, cfg.Security.TokenExpiry)
	if err != nil {
		return err
	}
	accounts := auth.NewManager(userRepo, tokens, logger)
	accounts.BindSessions(sessions)

	// The vault's case gate points back at the case service
	caseSvc := cases.NewService(caseRepo, nil, logger)
	var backupDirs []string
	if cfg.Evidence.BackupEnabled {
		backupDirs = []string{cfg.Evidence.BackupPath}
	}
	vault, err := evidence.NewVault(cfg.Evidence.RootPath, backupDirs, evidenceRepo, caseSvc, logger, metrics)
	if err != nil {
		return err
	}
	caseSvc.BindVault(vault)

	// Repair any partial put states left by a previous crash before serving
	if report, err := vault.Reconcile(ctx); err != nil {
		logger.Warn("startup vault reconciliation failed", zap.Error(err))
	} else if report.Scanned > 0 {
		logger.Info("vault reconciled",
			zap.Int("scanned", report.Scanned),
			zap.Int("verified", report.Verified),
			zap.Int("tampered", len(report.Tampered)),
			zap.Int("missing", len(report.Missing)),
			zap.Int("orphans", len(report.Orphans)))
	}

	assessor := court.NewAssessor(courtRepo, logger)

	alerts := alerting.NewEngine(alertRepo, cfg.Alerting.QueueCapacity, logger)
	dispatchQueue := make(chan *alert.Notification, cfg.Alerting.QueueCapacity)
	streamQueue := make(chan *alert.Notification, cfg.Alerting.QueueCapacity)
	dispatcher := alerting.NewDispatcher(alertRepo, dispatchQueue, alerting.DispatcherOptions{
		RequestTimeout: cfg.Alerting.RequestTimeout,
		MaxRetries:     cfg.Alerting.MaxRetries,
		RetryBackoff:   cfg.Alerting.RetryBackoff,
	}, logger, metrics)

	attributionEngine, err := attribution.NewEngine(ctx, linkRepo, logger)
	if err != nil {
		return err
	}
	riskEngine, err := risksvc.NewEngine(graphRepo, cfg.Risk, logger, metrics)
	if err != nil {
		return err
	}
	detector := patternsvc.NewDetector(graphRepo, graphRepo, patternsvc.Thresholds{
		PeelMinHops:         cfg.Patterns.PeelMinHops,
		PeelMaxPeelRatio:    cfg.Patterns.PeelMaxPeelRatio,
		RapidMinHops:        cfg.Patterns.RapidMinHops,
		RapidWindow:         cfg.Patterns.RapidWindow,
		LayeringMinBranches: cfg.Patterns.LayeringMinBranches,
		LayeringWindow:      cfg.Patterns.LayeringWindow,
		BridgeWindow:        cfg.Patterns.BridgeWindow,
		BridgeAmountSlack:   cfg.Patterns.BridgeAmountSlack,
		WindowRetention:     cfg.Patterns.WindowRetention,
	}, logger, metrics)

	clients, err := ledgerClients(ctx, cfg.Ledgers, logger)
	if err != nil {
		return err
	}
	pool := collector.NewPool(clients, cursorRepo, collector.Options{
		BatchSize:     cfg.Collector.BatchSize,
		PollInterval:  cfg.Collector.PollInterval,
		BackoffBase:   cfg.Collector.BackoffBase,
		BackoffMax:    cfg.Collector.BackoffMax,
		DegradedAfter: cfg.Collector.DegradedAfter,
		ReorgDepth:    cfg.Collector.ReorgDepth,
	}, cfg.Collector.QueueCapacity, cfg.Collector.DrainGracePeriod, logger, metrics)

	pipeline := analysis.NewPipeline(pool.Queue(), graphRepo, detector, attributionEngine, riskEngine, alerts, logger, metrics)

	syncer := intel.NewSyncer(graphRepo, cfg.Intel.FetchTimeout, logger)
	feeds := intelFeeds(cfg.Intel)

	sched := scheduler.New(cfg.Scheduler.InitialDelay, logger, metrics)
	for _, feed := range feeds {
		interval := cfg.Scheduler.FeedInterval
		switch feed.Kind {
		case entity.LabelSanctions:
			interval = cfg.Scheduler.SanctionsInterval
		case entity.LabelKnownService:
			interval = cfg.Scheduler.LabelsInterval
		}
		sched.Register("feed-sync-"+feed.Name, interval, syncer.Job(feed))
	}
	sched.Register("vault-reconcile", cfg.Scheduler.RetentionInterval, func(ctx context.Context) error {
		_, err := vault.Reconcile(ctx)
		return err
	})
	sched.Register("retention-cleanup", cfg.Scheduler.RetentionInterval, func(ctx context.Context) error {
		cutoff := time.Now().UTC().Add(-cfg.Scheduler.RetentionPeriod)
		removed, err := graphRepo.PruneAssessments(ctx, cutoff)
		if err != nil {
			return err
		}
		if removed > 0 {
			logger.Info("pruned risk assessment history", zap.Int("removed", removed))
		}
		return nil
	})

	stream := rest.NewAlertStream(logger)
	health := rest.NewHealthChecker(cfg.Version, store, redisClient, pool)
	handler := rest.NewHandler(accounts, caseSvc, vault, assessor, alerts, dispatcher,
		attributionEngine, riskEngine, pool, syncer, feeds, graphRepo, stream, health, logger)
	server := rest.NewServer(cfg.Server, cfg.Security, handler, tokens, sessions, limiter, logger)

	group, groupCtx := errgroup.WithContext(ctx)

	// Tee triggered notifications to the webhook dispatcher and the
	// websocket stream. The stream is best effort; webhooks are not.
	group.Go(func() error {
		defer close(dispatchQueue)
		defer close(streamQueue)
		for {
			select {
			case <-groupCtx.Done():
				return groupCtx.Err()
			case notification, ok := <-alerts.Queue():
				if !ok {
					return nil
				}
				select {
				case dispatchQueue <- notification:
				case <-groupCtx.Done():
					return groupCtx.Err()
				}
				select {
				case streamQueue <- notification:
				default:
				}
			}
		}
	})
	group.Go(func() error { return pipeline.Run(groupCtx) })
	group.Go(func() error { return dispatcher.Run(groupCtx) })
	group.Go(func() error { return stream.Run(groupCtx, streamQueue) })
	group.Go(func() error { return server.Start() })
	group.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	pool.StartAll(ctx)
	sched.Start(ctx)

	logger.Info("ledgertrace backend started",
		zap.String("version", cfg.Version),
		zap.String("environment", cfg.Environment),
		zap.Int("port", cfg.Server.Port),
		zap.Int("chains", len(clients)))

	err = group.Wait()
	sched.Stop()
	pool.StopAll()
	return err
}

// ledgerClients dials every enabled endpoint
func ledgerClients(ctx context.Context, cfg config.LedgersConfig, logger *zap.Logger) ([]ledger.Client, error) {
	var clients []ledger.Client
	for _, endpoint := range cfg.Endpoints {
		if !endpoint.Enabled {
			continue
		}
		chainID := chain.ChainID(endpoint.Chain)
		switch chainID {
		case chain.ChainBitcoin:
			client, err := ledger.NewBitcoinClient(ledger.BitcoinConfig{
				Host: endpoint.Endpoint,
				User: endpoint.Username,
				Pass: endpoint.Password,
			}, logger)
			if err != nil {
				return nil, err
			}
			clients = append(clients, client)
		case chain.ChainEthereum, chain.ChainPolygon, chain.ChainArbitrum:
			client, err := ledger.NewEVMClient(ctx, chainID, endpoint.Endpoint, logger)
			if err != nil {
				return nil, err
			}
			clients = append(clients, client)
		default:
			logger.Warn("skipping unsupported chain", zap.String("chain", endpoint.Chain))
		}
	}
	return clients, nil
}

func intelFeeds(cfg config.IntelConfig) []intel.Feed {
	feeds := make([]intel.Feed, 0, len(cfg.Feeds))
	for _, f := range cfg.Feeds {
		feeds = append(feeds, intel.Feed{
			Name:   f.Name,
			URL:    f.URL,
			Kind:   entity.LabelKind(f.Kind),
			Source: f.Source,
		})
	}
	return feeds
}
