package rest

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/database"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/collector"
)

// healthChecker probes the backing stores and summarises collector state.
type healthChecker struct {
	version    string
	db         *database.Store
	redis      *redis.Client
	collectors *collector.Pool
	started    time.Time
}

// NewHealthChecker builds the detailed health probe
func NewHealthChecker(version string, db *database.Store, redisClient *redis.Client, collectors *collector.Pool) HealthChecker {
	return &healthChecker{
		version:    version,
		db:         db,
		redis:      redisClient,
		collectors: collectors,
		started:    time.Now().UTC(),
	}
}

func (h *healthChecker) Check(r *http.Request) map[string]interface{} {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := "ok"

	dbStatus := "ok"
	if err := h.db.Healthy(ctx); err != nil {
		dbStatus = err.Error()
		status = "degraded"
	}

	redisStatus := "ok"
	if err := h.redis.Ping(ctx).Err(); err != nil {
		redisStatus = err.Error()
		status = "degraded"
	}

	collectors := make(map[string]interface{})
	for chainID, st := range h.collectors.Status() {
		collectors[string(chainID)] = st
		if st.Health == collector.HealthDegraded {
			status = "degraded"
		}
	}

	return map[string]interface{}{
		"status":     status,
		"version":    h.version,
		"uptime":     time.Since(h.started).String(),
		"database":   map[string]interface{}{"status": dbStatus, "pool": h.db.Stats()},
		"redis":      map[string]interface{}{"status": redisStatus},
		"collectors": collectors,
		"timestamp":  time.Now().UTC(),
	}
}
