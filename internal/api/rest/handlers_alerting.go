package rest

import (
	"net/http"
	"time"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/entity"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/webhook"
	"github.com/ledgertrace/ledgertrace-backend/internal/service/intel"
)

// Alert rules

type conditionPayload struct {
	Field     string      `json:"field" validate:"required"`
	Operator  string      `json:"operator" validate:"required"`
	Threshold interface{} `json:"threshold"`
}

type createRuleRequest struct {
	Name       string             `json:"name" validate:"required"`
	Severity   string             `json:"severity" validate:"required,oneof=info warning error critical"`
	Conditions []conditionPayload `json:"conditions" validate:"required,min=1,dive"`
	Message    string             `json:"message"`
	WindowSecs int                `json:"window_seconds" validate:"gte=0"`
}

func conditionsFrom(payloads []conditionPayload) []alert.Condition {
	conditions := make([]alert.Condition, len(payloads))
	for i, p := range payloads {
		conditions[i] = alert.Condition{
			Field:     p.Field,
			Operator:  alert.Operator(p.Operator),
			Threshold: p.Threshold,
		}
	}
	return conditions
}

func (h *Handler) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req createRuleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	rule, err := h.alerts.RegisterRule(r.Context(), req.Name, alert.Severity(req.Severity),
		conditionsFrom(req.Conditions), req.Message, time.Duration(req.WindowSecs)*time.Second)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

type updateRuleRequest struct {
	Severity   string             `json:"severity" validate:"required,oneof=info warning error critical"`
	Conditions []conditionPayload `json:"conditions" validate:"required,min=1,dive"`
	Message    string             `json:"message"`
	WindowSecs int                `json:"window_seconds" validate:"gte=0"`
	Enabled    bool               `json:"enabled"`
}

func (h *Handler) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	var req updateRuleRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	rule, err := h.alerts.UpdateRule(r.Context(), id, alert.Severity(req.Severity),
		conditionsFrom(req.Conditions), req.Message,
		time.Duration(req.WindowSecs)*time.Second, req.Enabled)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, rule)
}

func (h *Handler) handleListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.alerts.ListRules(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": rules, "count": len(rules)})
}

func (h *Handler) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.alerts.DeleteRule(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type submitEventRequest struct {
	Type string                 `json:"event_type" validate:"required"`
	Data map[string]interface{} `json:"data" validate:"required"`
}

func (h *Handler) handleSubmitEvent(w http.ResponseWriter, r *http.Request) {
	var req submitEventRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	notifications, err := h.alerts.Submit(r.Context(), alert.Event{
		Type:      req.Type,
		Timestamp: time.Now().UTC(),
		Data:      req.Data,
	})
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"triggered":     notifications,
		"trigger_count": len(notifications),
	})
}

// Webhooks

type registerWebhookRequest struct {
	URL             string            `json:"url" validate:"required,url"`
	Method          string            `json:"method" validate:"omitempty,oneof=POST PUT"`
	Headers         map[string]string `json:"headers"`
	Format          string            `json:"format" validate:"omitempty,oneof=default slack teams discord email"`
	EventFilters    []string          `json:"event_filters"`
	SeverityFilters []string          `json:"severity_filters" validate:"dive,oneof=info warning error critical"`
	MinIntervalSecs int               `json:"min_interval_seconds" validate:"gte=0"`
}

func (h *Handler) handleRegisterWebhook(w http.ResponseWriter, r *http.Request) {
	var req registerWebhookRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	severities := make([]alert.Severity, len(req.SeverityFilters))
	for i, s := range req.SeverityFilters {
		severities[i] = alert.Severity(s)
	}
	format := webhook.PayloadFormat(req.Format)
	if req.Format == "" {
		format = webhook.FormatDefault
	}
	registration, err := h.dispatcher.Register(r.Context(), req.URL, req.Method, req.Headers,
		format, req.EventFilters, severities,
		time.Duration(req.MinIntervalSecs)*time.Second)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, registration)
}

func (h *Handler) handleListWebhooks(w http.ResponseWriter, r *http.Request) {
	sinks, err := h.dispatcher.List(r.Context())
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"webhooks": sinks, "count": len(sinks)})
}

func (h *Handler) handleUnregisterWebhook(w http.ResponseWriter, r *http.Request) {
	id, err := pathUUID(r, "id")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	if err := h.dispatcher.Unregister(r.Context(), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Threat feeds

func (h *Handler) feedByName(name string) (intel.Feed, bool) {
	h.feedsMu.RLock()
	defer h.feedsMu.RUnlock()
	for _, feed := range h.feeds {
		if feed.Name == name {
			return feed, true
		}
	}
	return intel.Feed{}, false
}

func (h *Handler) handleListFeeds(w http.ResponseWriter, r *http.Request) {
	h.feedsMu.RLock()
	feeds := make([]intel.Feed, len(h.feeds))
	copy(feeds, h.feeds)
	h.feedsMu.RUnlock()
	writeJSON(w, http.StatusOK, map[string]interface{}{"feeds": feeds, "count": len(feeds)})
}

type registerFeedRequest struct {
	Name   string `json:"name" validate:"required"`
	URL    string `json:"url" validate:"required,url"`
	Kind   string `json:"kind" validate:"required,oneof=sanctions known_service threat_feed"`
	Source string `json:"source" validate:"required"`
}

// handleRegisterFeed adds a feed to the runtime registry. Config remains the
// durable source; registrations here last until restart.
func (h *Handler) handleRegisterFeed(w http.ResponseWriter, r *http.Request) {
	var req registerFeedRequest
	if err := h.decode(r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}
	h.feedsMu.Lock()
	defer h.feedsMu.Unlock()
	for _, feed := range h.feeds {
		if feed.Name == req.Name {
			writeError(w, h.logger, errors.NewConflictError("a feed with this name already exists"))
			return
		}
	}
	feed := intel.Feed{
		Name:   req.Name,
		URL:    req.URL,
		Kind:   entity.LabelKind(req.Kind),
		Source: req.Source,
	}
	h.feeds = append(h.feeds, feed)
	writeJSON(w, http.StatusCreated, feed)
}

func (h *Handler) handleSyncFeed(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("id")
	feed, ok := h.feedByName(name)
	if !ok {
		writeError(w, h.logger, errors.NewNotFoundError("threat feed"))
		return
	}
	result, err := h.syncer.Sync(r.Context(), feed)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}
