package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/chain"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/forensics"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/pattern"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/risk"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/webhook"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/auth"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/cache"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/config"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/alerting"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/attribution"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/cases"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/collector"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/court"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/evidence"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/intel"
	risksvc "github.com/ledgertrace/ledgertrace-backend/internal/service/risk"
)

// In-memory stores backing the API under test.

type memUserStore struct {
	mu        sync.Mutex
	users     map[uuid.UUID]*auth.User
	setupDone bool
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: make(map[uuid.UUID]*auth.User)}
}

func (s *memUserStore) SaveUser(ctx context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memUserStore) CreateInitialAdmin(ctx context.Context, user *auth.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.setupDone {
		return errors.ErrSetupComplete
	}
	s.setupDone = true
	copied := *user
	s.users[user.ID] = &copied
	return nil
}

func (s *memUserStore) GetUser(ctx context.Context, id uuid.UUID) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.users[id]
	if !ok {
		return nil, errors.NewNotFoundError("user")
	}
	copied := *user
	return &copied, nil
}

func (s *memUserStore) GetUserByEmail(ctx context.Context, email string) (*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, user := range s.users {
		if user.Email == email {
			copied := *user
			return &copied, nil
		}
	}
	return nil, errors.NewNotFoundError("user")
}

func (s *memUserStore) ListUsers(ctx context.Context) ([]*auth.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*auth.User, 0, len(s.users))
	for _, user := range s.users {
		copied := *user
		out = append(out, &copied)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Email < out[j].Email })
	return out, nil
}

func (s *memUserStore) CountAdmins(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, user := range s.users {
		if user.Role == auth.RoleAdmin && user.Active {
			count++
		}
	}
	return count, nil
}

type memCaseRepo struct {
	mu    sync.Mutex
	cases map[uuid.UUID]*forensics.Case
}

func newMemCaseRepo() *memCaseRepo {
	return &memCaseRepo{cases: make(map[uuid.UUID]*forensics.Case)}
}

func (r *memCaseRepo) SaveCase(ctx context.Context, c *forensics.Case) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cases[c.ID] = c
	return nil
}

func (r *memCaseRepo) GetCase(ctx context.Context, id uuid.UUID) (*forensics.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return nil, errors.ErrCaseNotFound
	}
	return c, nil
}

func (r *memCaseRepo) IncrementEvidenceCount(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.cases[id]
	if !ok {
		return errors.ErrCaseNotFound
	}
	c.EvidenceCount++
	return nil
}

func (r *memCaseRepo) ListCases(ctx context.Context, filter cases.Filter) ([]*forensics.Case, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*forensics.Case
	for _, c := range r.cases {
		if filter.Status != "" && c.Status != filter.Status {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

type memIndex struct {
	mu    sync.Mutex
	items map[uuid.UUID]*forensics.EvidenceItem
}

func newMemIndex() *memIndex {
	return &memIndex{items: make(map[uuid.UUID]*forensics.EvidenceItem)}
}

func (m *memIndex) SaveEvidence(ctx context.Context, item *forensics.EvidenceItem) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[item.ID] = item
	return nil
}

func (m *memIndex) GetEvidence(ctx context.Context, id uuid.UUID) (*forensics.EvidenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, ok := m.items[id]
	if !ok {
		return nil, errors.ErrEvidenceNotFound
	}
	return item, nil
}

func (m *memIndex) ListEvidence(ctx context.Context, caseID uuid.UUID) ([]*forensics.EvidenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*forensics.EvidenceItem
	for _, item := range m.items {
		if item.CaseID == caseID {
			out = append(out, item)
		}
	}
	return out, nil
}

func (m *memIndex) AllEvidence(ctx context.Context) ([]*forensics.EvidenceItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*forensics.EvidenceItem
	for _, item := range m.items {
		out = append(out, item)
	}
	return out, nil
}

type memRecordStore struct {
	mu      sync.Mutex
	records []*forensics.CourtComplianceRecord
}

func (m *memRecordStore) SaveComplianceRecord(ctx context.Context, record *forensics.CourtComplianceRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, record)
	return nil
}

func (m *memRecordStore) ListComplianceRecords(ctx context.Context, caseID uuid.UUID) ([]*forensics.CourtComplianceRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*forensics.CourtComplianceRecord
	for _, record := range m.records {
		if record.CaseID == caseID {
			out = append(out, record)
		}
	}
	return out, nil
}

type memRuleStore struct {
	mu    sync.Mutex
	rules map[uuid.UUID]*alert.Rule
}

func newMemRuleStore() *memRuleStore {
	return &memRuleStore{rules: make(map[uuid.UUID]*alert.Rule)}
}

func (s *memRuleStore) SaveRule(ctx context.Context, rule *alert.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rules[rule.ID] = rule
	return nil
}

func (s *memRuleStore) GetRule(ctx context.Context, id uuid.UUID) (*alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rule, ok := s.rules[id]
	if !ok {
		return nil, errors.NewNotFoundError("alert rule")
	}
	return rule, nil
}

func (s *memRuleStore) ListRules(ctx context.Context) ([]*alert.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*alert.Rule
	for _, rule := range s.rules {
		out = append(out, rule)
	}
	return out, nil
}

func (s *memRuleStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rules, id)
	return nil
}

type memWebhookStore struct {
	mu    sync.Mutex
	sinks map[uuid.UUID]*webhook.Registration
}

func newMemWebhookStore() *memWebhookStore {
	return &memWebhookStore{sinks: make(map[uuid.UUID]*webhook.Registration)}
}

func (s *memWebhookStore) SaveWebhook(ctx context.Context, reg *webhook.Registration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sinks[reg.ID] = reg
	return nil
}

func (s *memWebhookStore) GetWebhook(ctx context.Context, id uuid.UUID) (*webhook.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	reg, ok := s.sinks[id]
	if !ok {
		return nil, errors.NewNotFoundError("webhook")
	}
	return reg, nil
}

func (s *memWebhookStore) ListWebhooks(ctx context.Context) ([]*webhook.Registration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*webhook.Registration
	for _, reg := range s.sinks {
		out = append(out, reg)
	}
	return out, nil
}

func (s *memWebhookStore) DeleteWebhook(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sinks[id]; !ok {
		return errors.NewNotFoundError("webhook")
	}
	delete(s.sinks, id)
	return nil
}

type memLinkStore struct {
	mu  sync.Mutex
	log []*entity.LinkRecord
}

func (s *memLinkStore) AppendLink(ctx context.Context, record *entity.LinkRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, record)
	return nil
}

func (s *memLinkStore) LinkLog(ctx context.Context) ([]*entity.LinkRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*entity.LinkRecord{}, s.log...), nil
}

// stubGraph answers graph reads with empty data.
type stubGraph struct{}

func (stubGraph) GetAddress(ctx context.Context, key chain.AddressKey) (*chain.Address, error) {
	return nil, errors.NewNotFoundError("address")
}

func (stubGraph) GetTransaction(ctx context.Context, chainID chain.ChainID, hash string) (*chain.Transaction, error) {
	return nil, errors.NewNotFoundError("transaction")
}

func (stubGraph) Counterparties(ctx context.Context, key chain.AddressKey) ([]chain.AddressKey, error) {
	return nil, nil
}

func (stubGraph) LabelsFor(ctx context.Context, key chain.AddressKey) ([]*entity.Label, error) {
	return nil, nil
}

func (stubGraph) MatchesFor(ctx context.Context, key chain.AddressKey) ([]*pattern.Match, error) {
	return nil, nil
}

func (stubGraph) LastAssessment(ctx context.Context, targetType risk.TargetType, targetID string) (*risk.Assessment, error) {
	return nil, errors.NewNotFoundError("assessment")
}

func (stubGraph) SaveAssessment(ctx context.Context, assessment *risk.Assessment) error {
	return nil
}

type stubSink struct{}

func (stubSink) UpsertLabel(ctx context.Context, label *entity.Label) error { return nil }
func (stubSink) RemoveStale(ctx context.Context, source string, before time.Time) (int, error) {
	return 0, nil
}

type stubHealth struct{}

func (stubHealth) Check(r *http.Request) map[string]interface{} {
	return map[string]interface{}{"status": "ok"}
}

// newTestAPI assembles the full HTTP stack on in-memory stores.
func newTestAPI(t *testing.T) http.Handler {
	t.Helper()
	logger := zap.NewNop()
	metrics := telemetry.NewNopMetrics()

	tokens, err := auth.NewService(strings.Repeat("s", 32), "ledgertrace-test", time.Hour)
	require.NoError(t, err)
	accounts := auth.NewManager(newMemUserStore(), tokens, logger)

	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	sessions := cache.NewSessionStore(client)
	accounts.BindSessions(sessions)

	caseSvc := cases.NewService(newMemCaseRepo(), nil, logger)
	vault, err := evidence.NewVault(t.TempDir(), nil, newMemIndex(), caseSvc, logger, metrics)
	require.NoError(t, err)
	caseSvc.BindVault(vault)

	assessor := court.NewAssessor(&memRecordStore{}, logger)

	alerts := alerting.NewEngine(newMemRuleStore(), 16, logger)
	dispatcher := alerting.NewDispatcher(newMemWebhookStore(), make(chan *alert.Notification),
		alerting.DispatcherOptions{}, logger, metrics)

	attributionEngine, err := attribution.NewEngine(context.Background(), &memLinkStore{}, logger)
	require.NoError(t, err)
	riskEngine, err := risksvc.NewEngine(stubGraph{}, risk.DefaultConfig(), logger, metrics)
	require.NoError(t, err)

	pool := collector.NewPool(nil, nil, collector.Options{}, 8, time.Second, logger, metrics)
	syncer := intel.NewSyncer(stubSink{}, time.Second, logger)
	stream := NewAlertStream(logger)

	handler := NewHandler(accounts, caseSvc, vault, assessor, alerts, dispatcher,
		attributionEngine, riskEngine, pool, syncer, nil, stubGraph{}, stream, stubHealth{}, logger)

	limiter := cache.NewRateLimiter(client, logger)

	server := NewServer(config.ServerConfig{Port: 0},
		config.SecurityConfig{RateLimit: config.RateLimitConfig{RequestsPerSecond: 1000, BurstSize: 1000}},
		handler, tokens, sessions, limiter, logger)
	return server.Handler()
}

func doJSON(t *testing.T, h http.Handler, method, path, token string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.RemoteAddr = "10.1.2.3:55000"
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)
	return recorder
}

func decodeBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &out))
	return out
}

func adminToken(t *testing.T, h http.Handler) string {
	t.Helper()
	resp := doJSON(t, h, http.MethodPost, "/api/v1/setup/initialize", "", map[string]string{
		"email":    "admin@example.com",
		"name":     "Admin",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "correct-horse-battery",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	return decodeBody(t, resp)["token"].(string)
}

func TestSetupHappensExactlyOnce(t *testing.T) {
	h := newTestAPI(t)

	resp := doJSON(t, h, http.MethodGet, "/api/v1/setup/status", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, true, decodeBody(t, resp)["setup_required"])

	body := map[string]string{
		"email":    "admin@example.com",
		"password": "correct-horse-battery",
	}
	resp = doJSON(t, h, http.MethodPost, "/api/v1/setup/initialize", "", body)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodGet, "/api/v1/setup/status", "", nil)
	assert.Equal(t, false, decodeBody(t, resp)["setup_required"])

	resp = doJSON(t, h, http.MethodPost, "/api/v1/setup/initialize", "", body)
	require.Equal(t, http.StatusConflict, resp.Code)
	assert.Equal(t, "conflict", decodeBody(t, resp)["error_kind"])
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	h := newTestAPI(t)
	adminToken(t, h)

	resp := doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "admin@example.com",
		"password": "wrong-password-entirely",
	})
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "auth", decodeBody(t, resp)["error_kind"])
}

func TestProtectedRoutesRequireToken(t *testing.T) {
	h := newTestAPI(t)

	resp := doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases", "", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "auth", decodeBody(t, resp)["error_kind"])

	resp = doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases", "not-a-token", nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
}

func TestLogoutRevokesToken(t *testing.T) {
	h := newTestAPI(t)
	admin := adminToken(t, h)

	resp := doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases", admin, nil)
	require.Equal(t, http.StatusOK, resp.Code)

	resp = doJSON(t, h, http.MethodPost, "/api/v1/auth/logout", admin, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)

	resp = doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases", admin, nil)
	require.Equal(t, http.StatusUnauthorized, resp.Code)
	assert.Equal(t, "auth", decodeBody(t, resp)["error_kind"])
}

func TestReadonlyRoleCannotWrite(t *testing.T) {
	h := newTestAPI(t)
	admin := adminToken(t, h)

	resp := doJSON(t, h, http.MethodPost, "/api/v1/users", admin, map[string]string{
		"email":    "viewer@example.com",
		"role":     "readonly",
		"password": "viewer-long-password",
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "viewer@example.com",
		"password": "viewer-long-password",
	})
	require.Equal(t, http.StatusOK, resp.Code)
	viewer := decodeBody(t, resp)["token"].(string)

	resp = doJSON(t, h, http.MethodPost, "/api/v1/forensics/cases", viewer, map[string]string{
		"title": "not allowed",
	})
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "permission", decodeBody(t, resp)["error_kind"])

	// Report generation stores a vault artifact, so it is a write too
	resp = doJSON(t, h, http.MethodPost, "/api/v1/forensics/reports/generate", viewer,
		map[string]string{"case_id": uuid.NewString()})
	require.Equal(t, http.StatusForbidden, resp.Code)
	assert.Equal(t, "permission", decodeBody(t, resp)["error_kind"])

	resp = doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases", viewer, nil)
	assert.Equal(t, http.StatusOK, resp.Code)
}

func TestCaseLifecycleOverHTTP(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	resp := doJSON(t, h, http.MethodPost, "/api/v1/forensics/cases", token, map[string]string{
		"title":    "exchange hack",
		"priority": "high",
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	created := decodeBody(t, resp)
	caseID := created["id"].(string)
	assert.Equal(t, "open", created["status"])

	resp = doJSON(t, h, http.MethodPut, "/api/v1/forensics/cases/"+caseID+"/status", token,
		map[string]string{"status": "in_progress", "reason": "analyst assigned"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "in_progress", decodeBody(t, resp)["status"])

	// Backwards transitions are rejected
	resp = doJSON(t, h, http.MethodPut, "/api/v1/forensics/cases/"+caseID+"/status", token,
		map[string]string{"status": "open"})
	require.Equal(t, http.StatusConflict, resp.Code)

	data := base64.StdEncoding.EncodeToString([]byte("tx trace export"))
	resp = doJSON(t, h, http.MethodPost, "/api/v1/forensics/cases/"+caseID+"/evidence", token,
		map[string]interface{}{"type": "document", "source": "exchange-api", "data": data})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases/"+caseID+"/evidence", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(1), decodeBody(t, resp)["count"])

	resp = doJSON(t, h, http.MethodPost, "/api/v1/forensics/court-preparation/"+caseID, token,
		map[string]string{
			"court_type": "criminal",
			"standard":   "beyond_reasonable_doubt",
		})
	require.Equal(t, http.StatusOK, resp.Code)
	record := decodeBody(t, resp)
	assert.NotEmpty(t, record["verdict"])
	assert.Greater(t, record["compliance_score"].(float64), 0.0)
}

func TestValidationErrorsUseEnvelope(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/forensics/cases",
		strings.NewReader("{not json"))
	req.RemoteAddr = "10.1.2.3:55000"
	req.Header.Set("Authorization", "Bearer "+token)
	recorder := httptest.NewRecorder()
	h.ServeHTTP(recorder, req)

	require.Equal(t, http.StatusBadRequest, recorder.Code)
	body := decodeBody(t, recorder)
	assert.Equal(t, "validation", body["error_kind"])
	assert.Equal(t, "INVALID_BODY", body["code"])
	assert.NotEmpty(t, body["timestamp"])
}

func TestCaseNotFoundEnvelope(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	resp := doJSON(t, h, http.MethodGet, "/api/v1/forensics/cases/"+uuid.NewString(), token, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
	assert.Equal(t, "not_found", decodeBody(t, resp)["error_kind"])
}

func TestAlertRuleLifecycleOverHTTP(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	resp := doJSON(t, h, http.MethodPost, "/api/v1/alerts/rules", token, map[string]interface{}{
		"name":     "high-risk-score",
		"severity": "critical",
		"message":  "risk score {risk_score} over threshold",
		"conditions": []map[string]interface{}{
			{"field": "risk_score", "operator": "gt", "threshold": 0.8},
		},
	})
	require.Equal(t, http.StatusCreated, resp.Code)
	ruleID := decodeBody(t, resp)["id"].(string)

	resp = doJSON(t, h, http.MethodGet, "/api/v1/alerts/rules", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(1), decodeBody(t, resp)["count"])

	resp = doJSON(t, h, http.MethodPost, "/api/v1/alerts/events", token, map[string]interface{}{
		"event_type": "risk.assessed",
		"data":       map[string]interface{}{"risk_score": 0.95},
	})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(1), decodeBody(t, resp)["trigger_count"])

	resp = doJSON(t, h, http.MethodDelete, "/api/v1/alerts/rules/"+ruleID, token, nil)
	require.Equal(t, http.StatusNoContent, resp.Code)
}

func TestBlockchainRoutesValidateChain(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	resp := doJSON(t, h, http.MethodGet, "/api/v1/blockchain/addresses/dogecoin/DAbc123", token, nil)
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "INVALID_CHAIN", decodeBody(t, resp)["code"])

	resp = doJSON(t, h, http.MethodGet, "/api/v1/blockchain/addresses/bitcoin/bc1qunknown", token, nil)
	require.Equal(t, http.StatusNotFound, resp.Code)
}

func TestAttributionLinkOverHTTP(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	resp := doJSON(t, h, http.MethodPost, "/api/v1/investigations/links", token, map[string]interface{}{
		"chain":      "bitcoin",
		"address_a":  "bc1qaaa",
		"address_b":  "bc1qbbb",
		"reason":     "manual",
		"confidence": 0.9,
	})
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodGet, "/api/v1/investigations/clusters/bitcoin/bc1qaaa", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, float64(2), decodeBody(t, resp)["size"])
}

func TestThreatFeedRegistrationOverHTTP(t *testing.T) {
	h := newTestAPI(t)
	token := adminToken(t, h)

	feed := map[string]interface{}{
		"name":   "ofac-sdn",
		"url":    "https://feeds.example.com/ofac/sdn.json",
		"kind":   "sanctions",
		"source": "ofac",
	}
	resp := doJSON(t, h, http.MethodPost, "/api/v1/intelligence/threat-feeds", token, feed)
	require.Equal(t, http.StatusCreated, resp.Code)

	resp = doJSON(t, h, http.MethodGet, "/api/v1/intelligence/threat-feeds", token, nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.EqualValues(t, 1, decodeBody(t, resp)["count"])

	resp = doJSON(t, h, http.MethodPost, "/api/v1/intelligence/threat-feeds", token, feed)
	require.Equal(t, http.StatusConflict, resp.Code)
}

func TestHealthIsPublic(t *testing.T) {
	h := newTestAPI(t)

	resp := doJSON(t, h, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "ok", decodeBody(t, resp)["status"])

	resp = doJSON(t, h, http.MethodGet, "/health/detailed", "", nil)
	require.Equal(t, http.StatusOK, resp.Code)
}
