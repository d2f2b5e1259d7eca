package database

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/config"
)

// Store wraps the pgx pool and hosts every repository. Aggregates are
// persisted as a few indexed key columns plus a JSONB payload, so the domain
// types round-trip without a column per field.
type Store struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewStore connects and verifies the pool
func NewStore(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*Store, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, errors.NewInternalError("parsing database config").WithCause(err)
	}
	if cfg.MaxOpenConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		poolCfg.MinConns = int32(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.ConnMaxLifetime
	}
	poolCfg.HealthCheckPeriod = 30 * time.Second

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, errors.NewInternalError("creating database pool").WithCause(err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, errors.NewUpstreamError("postgres", "database ping failed").WithCause(err)
	}

	logger.Info("database connected",
		zap.Int32("max_conns", poolCfg.MaxConns))
	return &Store{pool: pool, logger: logger}, nil
}

// Close releases the pool
func (s *Store) Close() {
	s.pool.Close()
}

// Healthy pings the pool with a short deadline
func (s *Store) Healthy(ctx context.Context) error {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if err := s.pool.Ping(pingCtx); err != nil {
		return errors.NewUpstreamError("postgres", "database unreachable").WithCause(err)
	}
	return nil
}

// Stats reports pool utilisation for the detailed health endpoint
func (s *Store) Stats() map[string]interface{} {
	st := s.pool.Stat()
	return map[string]interface{}{
		"total_conns":    st.TotalConns(),
		"idle_conns":     st.IdleConns(),
		"acquired_conns": st.AcquiredConns(),
		"max_conns":      st.MaxConns(),
	}
}

func scanError(entity string, err error) error {
	return errors.NewInternalError(fmt.Sprintf("reading %s row", entity)).WithCause(err)
}

func execError(entity string, err error) error {
	return errors.NewInternalError(fmt.Sprintf("writing %s row", entity)).WithCause(err)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return stderrors.As(err, &pgErr) && pgErr.Code == "23505"
}
