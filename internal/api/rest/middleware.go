package rest

import (
	"context"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/auth"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/cache"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// Middleware wraps a handler.
type Middleware func(http.Handler) http.Handler

// chainMiddleware applies middlewares outermost-first
func chainMiddleware(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

type contextKey string

const claimsKey contextKey = "claims"

// ClaimsFrom returns the authenticated claims, nil on public routes
func ClaimsFrom(ctx context.Context) *auth.Claims {
	claims, _ := ctx.Value(claimsKey).(*auth.Claims)
	return claims
}

// statusRecorder captures the response code for the request log.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// requestLogging logs one line per request and traces it
func requestLogging(logger *zap.Logger) Middleware {
	tracer := telemetry.Tracer("api.rest")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, span := tracer.Start(r.Context(), r.Method+" "+r.URL.Path)
			defer span.End()

			started := time.Now()
			recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(recorder, r.WithContext(ctx))

			span.SetAttributes(attribute.Int("http.status_code", recorder.status))
			logger.Info("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", recorder.status),
				zap.Duration("duration", time.Since(started)))
		})
	}
}

// recovery converts panics into 500 envelopes
func recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if recovered := recover(); recovered != nil {
					logger.Error("panic in handler",
						zap.String("path", r.URL.Path),
						zap.Any("panic", recovered))
					writeError(w, logger, errors.NewInternalError("unexpected failure"))
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// rateLimit enforces a per-client request budget via the redis sliding
// window. Limiter outages fail open: throttling is protection, not
// correctness.
func rateLimit(limiter *cache.RateLimiter, requestsPerSecond, burst int, trustedProxy bool, logger *zap.Logger) Middleware {
	limit := requestsPerSecond + burst
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := clientIP(r, trustedProxy)
			allowed, err := limiter.Allow(r.Context(), key, limit, time.Second)
			if err != nil {
				logger.Warn("rate limiter unavailable", zap.Error(err))
				allowed = true
			}
			if !allowed {
				w.Header().Set("Retry-After", "1")
				writeError(w, logger, errors.NewRateLimitError("request rate exceeded"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func clientIP(r *http.Request, trustedProxy bool) string {
	if trustedProxy {
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			parts := strings.Split(forwarded, ",")
			return strings.TrimSpace(parts[0])
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// SessionChecker reports whether a token's session is still live.
type SessionChecker interface {
	Valid(ctx context.Context, sessionID string) (bool, error)
}

// authenticate validates the bearer token, rejects revoked sessions and
// stashes claims in the context
func authenticate(service *auth.Service, sessions SessionChecker, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if !strings.HasPrefix(header, "Bearer ") {
				writeError(w, logger, errors.NewUnauthorizedError("missing bearer token"))
				return
			}
			claims, err := service.ValidateToken(strings.TrimPrefix(header, "Bearer "))
			if err != nil {
				writeError(w, logger, err)
				return
			}
			if sessions != nil {
				live, err := sessions.Valid(r.Context(), claims.ID)
				if err != nil {
					writeError(w, logger, err)
					return
				}
				if !live {
					writeError(w, logger, errors.NewUnauthorizedError("session revoked"))
					return
				}
			}
			ctx := context.WithValue(r.Context(), claimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// requirePermission guards one route with a permission check
func requirePermission(permission string, logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFrom(r.Context())
			if claims == nil {
				writeError(w, logger, errors.NewUnauthorizedError("missing bearer token"))
				return
			}
			for _, p := range claims.Permissions {
				if p == permission {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, logger, errors.NewForbiddenError("insufficient permissions"))
		})
	}
}
