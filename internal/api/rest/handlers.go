package rest

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/pattern"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/auth"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/alerting"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/attribution"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/cases"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/collector"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/court"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/evidence"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/intel"
	risksvc "github.com/ledgertrace/ledgertrace-backend/internal/service/risk"
)

// Handler carries the service dependencies behind the HTTP surface.
type Handler struct {
	accounts    *auth.Manager
	cases       *cases.Service
	vault       *evidence.Vault
	court       *court.Assessor
	alerts      *alerting.Engine
	dispatcher  *alerting.Dispatcher
	attribution *attribution.Engine
	risk        *risksvc.Engine
	collectors  *collector.Pool
	syncer      *intel.Syncer
	feedsMu     sync.RWMutex
	feeds       []intel.Feed
	graph       GraphQuery
	stream      *AlertStream
	health      HealthChecker

	validate *validator.Validate
	logger   *zap.Logger
}

// HealthChecker reports backend dependency health.
type HealthChecker interface {
	Check(r *http.Request) map[string]interface{}
}

// GraphQuery is the read side of the transaction graph used by the
// blockchain and analysis routes.
type GraphQuery interface {
	GetAddress(ctx context.Context, key chain.AddressKey) (*chain.Address, error)
	GetTransaction(ctx context.Context, chainID chain.ChainID, hash string) (*chain.Transaction, error)
	Counterparties(ctx context.Context, key chain.AddressKey) ([]chain.AddressKey, error)
	LabelsFor(ctx context.Context, key chain.AddressKey) ([]*entity.Label, error)
	MatchesFor(ctx context.Context, key chain.AddressKey) ([]*pattern.Match, error)
	LastAssessment(ctx context.Context, targetType risk.TargetType, targetID string) (*risk.Assessment, error)
}

// NewHandler wires the handler
func NewHandler(accounts *auth.Manager, caseSvc *cases.Service, vault *evidence.Vault, assessor *court.Assessor, alerts *alerting.Engine, dispatcher *alerting.Dispatcher, attributionEngine *attribution.Engine, riskEngine *risksvc.Engine, collectors *collector.Pool, syncer *intel.Syncer, feeds []intel.Feed, graph GraphQuery, stream *AlertStream, health HealthChecker, logger *zap.Logger) *Handler {
	return &Handler{
		accounts:    accounts,
		cases:       caseSvc,
		vault:       vault,
		court:       assessor,
		alerts:      alerts,
		dispatcher:  dispatcher,
		attribution: attributionEngine,
		risk:        riskEngine,
		collectors:  collectors,
		syncer:      syncer,
		feeds:       feeds,
		graph:       graph,
		stream:      stream,
		health:      health,
		validate:    validator.New(),
		logger:      logger,
	}
}

// decode unmarshals and validates a request body
func (h *Handler) decode(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return errors.NewValidationError("INVALID_BODY", "request body is not valid JSON")
	}
	if err := h.validate.Struct(dst); err != nil {
		return errors.NewValidationError("INVALID_FIELDS", err.Error())
	}
	return nil
}

func pathUUID(r *http.Request, name string) (uuid.UUID, error) {
	id, err := uuid.Parse(r.PathValue(name))
	if err != nil {
		return uuid.Nil, errors.NewValidationError("INVALID_ID", name+" is not a valid UUID")
	}
	return id, nil
}

func actorFrom(r *http.Request) string {
	if claims := ClaimsFrom(r.Context()); claims != nil {
		return claims.Email
	}
	return "anonymous"
}

func isAdmin(r *http.Request) bool {
	claims := ClaimsFrom(r.Context())
	return claims != nil && claims.Role == auth.RoleAdmin
}

// Setup and auth

type setupRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Password string `json:"password" validate:"required,min=12"`
}

func (h *Handler) handleSetupStatus(w http.ResponseWriter, r *http.Request) {
	required, err := h.accounts.SetupRequired(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"setup_required": required})
}

func (h *Handler) handleSetupInitialize(w http.ResponseWriter, r *http.Request) {
	var req setupRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, err := h.accounts.Setup(r.Context(), req.Email, req.Name, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

type loginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type loginResponse struct {
	Token    string     `json:"token"`
	User     *auth.User `json:"user"`
	IssuedAt time.Time  `json:"issued_at"`
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	token, user, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{Token: token, User: user, IssuedAt: time.Now().UTC()})
}

func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	claims := ClaimsFrom(r.Context())
	if claims == nil {
		writeError(w, h.logger, errors.NewUnauthorizedError("missing bearer token"))
		return
	}
	if err := h.accounts.Logout(r.Context(), claims.ID); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type createUserRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Name     string `json:"name"`
	Role     string `json:"role" validate:"required,oneof=admin analyst readonly"`
	Password string `json:"password" validate:"required,min=12"`
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	user, err := h.accounts.CreateUser(r.Context(), req.Email, req.Name, auth.Role(req.Role), req.Password)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}

func (h *Handler) handleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.accounts.ListUsers(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

func (h *Handler) handleDeactivateUser(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.accounts.DeactivateUser(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Health

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) handleHealthDetailed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.health.Check(r))
}
