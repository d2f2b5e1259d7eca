package rest

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/auth"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/cache"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/config"
)

// Server owns the HTTP listener and the route table.
type Server struct {
	httpServer *http.Server
	logger     *zap.Logger
}

// NewServer assembles the route table and middleware stack. Health, setup
// and login stay public; everything else demands a bearer token plus the
// route's permission.
func NewServer(cfg config.ServerConfig, security config.SecurityConfig, handler *Handler, tokens *auth.Service, sessions SessionChecker, limiter *cache.RateLimiter, logger *zap.Logger) *Server {
	mux := http.NewServeMux()

	public := func(h http.HandlerFunc) http.Handler {
		return http.HandlerFunc(h)
	}
	protected := func(permission string, h http.HandlerFunc) http.Handler {
		return chainMiddleware(http.HandlerFunc(h),
			authenticate(tokens, sessions, logger),
			requirePermission(permission, logger))
	}

	mux.Handle("GET /health", public(handler.handleHealth))
	mux.Handle("GET /health/detailed", public(handler.handleHealthDetailed))
	mux.Handle("GET /metrics", promhttp.Handler())

	mux.Handle("GET /api/v1/setup/status", public(handler.handleSetupStatus))
	mux.Handle("POST /api/v1/setup/initialize", public(handler.handleSetupInitialize))
	mux.Handle("POST /api/v1/auth/login", public(handler.handleLogin))
	mux.Handle("POST /api/v1/auth/logout", chainMiddleware(http.HandlerFunc(handler.handleLogout),
		authenticate(tokens, sessions, logger)))

	mux.Handle("GET /api/v1/users", protected("users:admin", handler.handleListUsers))
	mux.Handle("POST /api/v1/users", protected("users:admin", handler.handleCreateUser))
	mux.Handle("DELETE /api/v1/users/{id}", protected("users:admin", handler.handleDeactivateUser))

	mux.Handle("GET /api/v1/forensics/cases", protected("cases:read", handler.handleListCases))
	mux.Handle("POST /api/v1/forensics/cases", protected("cases:write", handler.handleCreateCase))
	mux.Handle("GET /api/v1/forensics/cases/{id}", protected("cases:read", handler.handleGetCase))
	mux.Handle("PUT /api/v1/forensics/cases/{id}/status", protected("cases:write", handler.handleTransitionCase))
	mux.Handle("POST /api/v1/forensics/cases/{id}/notes", protected("cases:write", handler.handleAddCaseNote))
	mux.Handle("GET /api/v1/forensics/cases/{id}/evidence", protected("evidence:read", handler.handleListCaseEvidence))
	mux.Handle("POST /api/v1/forensics/cases/{id}/evidence", protected("evidence:write", handler.handleAttachEvidence))

	mux.Handle("GET /api/v1/forensics/evidence/{id}", protected("evidence:read", handler.handleGetEvidence))
	mux.Handle("POST /api/v1/forensics/evidence/{id}/custody", protected("evidence:write", handler.handleRecordCustody))
	mux.Handle("POST /api/v1/forensics/evidence/{id}/verify", protected("evidence:write", handler.handleVerifyEvidence))
	mux.Handle("POST /api/v1/forensics/evidence/{id}/backup", protected("evidence:write", handler.handleBackupEvidence))
	mux.Handle("POST /api/v1/forensics/evidence/reconcile", protected("system:admin", handler.handleReconcileVault))

	mux.Handle("POST /api/v1/forensics/court-preparation/{case_id}", protected("cases:write", handler.handleCourtPreparation))
	mux.Handle("GET /api/v1/forensics/court-preparation/{case_id}", protected("cases:read", handler.handleCourtHistory))
	mux.Handle("POST /api/v1/forensics/reports/generate", protected("reports:write", handler.handleGenerateReport))

	mux.Handle("GET /api/v1/blockchain/addresses/{chain}/{address}", protected("risk:read", handler.handleGetAddress))
	mux.Handle("GET /api/v1/blockchain/addresses/{chain}/{address}/counterparties", protected("risk:read", handler.handleCounterparties))
	mux.Handle("GET /api/v1/blockchain/transactions/{chain}/{hash}", protected("risk:read", handler.handleGetTransaction))
	mux.Handle("GET /api/v1/blockchain/collectors", protected("risk:read", handler.handleCollectorStatus))

	mux.Handle("POST /api/v1/analysis/risk/{chain}/{address}", protected("risk:read", handler.handleScoreAddress))
	mux.Handle("GET /api/v1/analysis/risk/{chain}/{address}", protected("risk:read", handler.handleRiskHistory))
	mux.Handle("GET /api/v1/analysis/patterns/{chain}/{address}", protected("risk:read", handler.handlePatternMatches))

	mux.Handle("POST /api/v1/investigations/links", protected("attribution:write", handler.handleRecordLink))
	mux.Handle("POST /api/v1/investigations/links/split", protected("attribution:write", handler.handleSplitCluster))
	mux.Handle("GET /api/v1/investigations/clusters/{chain}/{address}", protected("attribution:read", handler.handleCluster))
	mux.Handle("GET /api/v1/investigations/stats", protected("attribution:read", handler.handleAttributionStats))

	mux.Handle("GET /api/v1/intelligence/threat-feeds", protected("rules:read", handler.handleListFeeds))
	mux.Handle("POST /api/v1/intelligence/threat-feeds", protected("system:admin", handler.handleRegisterFeed))
	mux.Handle("POST /api/v1/intelligence/threat-feeds/{id}/sync", protected("system:admin", handler.handleSyncFeed))

	mux.Handle("GET /api/v1/alerts/rules", protected("rules:read", handler.handleListRules))
	mux.Handle("POST /api/v1/alerts/rules", protected("rules:write", handler.handleCreateRule))
	mux.Handle("PUT /api/v1/alerts/rules/{id}", protected("rules:write", handler.handleUpdateRule))
	mux.Handle("DELETE /api/v1/alerts/rules/{id}", protected("rules:write", handler.handleDeleteRule))
	mux.Handle("POST /api/v1/alerts/events", protected("rules:read", handler.handleSubmitEvent))
	mux.Handle("GET /api/v1/alerts/stream", chainMiddleware(handler.stream,
		authenticate(tokens, sessions, logger),
		requirePermission("rules:read", logger)))

	mux.Handle("GET /api/v1/webhooks", protected("webhooks:read", handler.handleListWebhooks))
	mux.Handle("POST /api/v1/webhooks", protected("webhooks:write", handler.handleRegisterWebhook))
	mux.Handle("DELETE /api/v1/webhooks/{id}", protected("webhooks:write", handler.handleUnregisterWebhook))

	root := chainMiddleware(mux,
		recovery(logger),
		requestLogging(logger),
		rateLimit(limiter, security.RateLimit.RequestsPerSecond, security.RateLimit.BurstSize,
			cfg.TrustedProxy, logger))

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      root,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		logger: logger,
	}
}

// Handler exposes the assembled stack for tests
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start blocks serving requests until Shutdown or a listener failure
func (s *Server) Start() error {
	s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
