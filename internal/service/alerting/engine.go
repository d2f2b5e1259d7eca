package alerting

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// RuleStore persists alert rules.
type RuleStore interface {
	SaveRule(ctx context.Context, rule *alert.Rule) error
	GetRule(ctx context.Context, id uuid.UUID) (*alert.Rule, error)
	ListRules(ctx context.Context) ([]*alert.Rule, error)
	DeleteRule(ctx context.Context, id uuid.UUID) error
}

// Engine evaluates submitted events against registered rules and queues the
// rendered notifications for dispatch. Each rule carries its own rate-limit
// window: while the window since its last emission is open, further matches
// are counted and suppressed.
type Engine struct {
	store  RuleStore
	queue  chan *alert.Notification
	logger *zap.Logger
	now    func() time.Time

	mu         sync.Mutex
	lastFired  map[uuid.UUID]time.Time
	suppressed map[uuid.UUID]int
}

// NewEngine creates the engine with a bounded notification queue
func NewEngine(store RuleStore, queueCapacity int, logger *zap.Logger) *Engine {
	if queueCapacity <= 0 {
		queueCapacity = 1024
	}
	return &Engine{
		store:      store,
		queue:      make(chan *alert.Notification, queueCapacity),
		logger:     logger,
		now:        func() time.Time { return time.Now().UTC() },
		lastFired:  make(map[uuid.UUID]time.Time),
		suppressed: make(map[uuid.UUID]int),
	}
}

// Queue exposes the notification stream consumed by the dispatcher
func (e *Engine) Queue() <-chan *alert.Notification {
	return e.queue
}

// RegisterRule validates and stores a new rule
func (e *Engine) RegisterRule(ctx context.Context, name string, severity alert.Severity, conditions []alert.Condition, message string, window time.Duration) (*alert.Rule, error) {
	rule, err := alert.NewRule(name, severity, conditions, message, window)
	if err != nil {
		return nil, err
	}
	if err := e.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	e.logger.Info("alert rule registered",
		zap.String("rule_id", rule.ID.String()),
		zap.String("name", rule.Name))
	return rule, nil
}

// UpdateRule replaces a rule's predicate, bumping its version
func (e *Engine) UpdateRule(ctx context.Context, id uuid.UUID, severity alert.Severity, conditions []alert.Condition, message string, window time.Duration, enabled bool) (*alert.Rule, error) {
	rule, err := e.store.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}
	draft, err := alert.NewRule(rule.Name, severity, conditions, message, window)
	if err != nil {
		return nil, err
	}
	rule.Severity = draft.Severity
	rule.Conditions = draft.Conditions
	rule.Message = draft.Message
	rule.Window = draft.Window
	rule.Enabled = enabled
	rule.Version++
	rule.LastUpdated = e.now()
	if err := e.store.SaveRule(ctx, rule); err != nil {
		return nil, err
	}
	return rule, nil
}

// DeleteRule removes a rule and its rate-limit state
func (e *Engine) DeleteRule(ctx context.Context, id uuid.UUID) error {
	if err := e.store.DeleteRule(ctx, id); err != nil {
		return err
	}
	e.mu.Lock()
	delete(e.lastFired, id)
	delete(e.suppressed, id)
	e.mu.Unlock()
	return nil
}

// ListRules returns all registered rules
func (e *Engine) ListRules(ctx context.Context) ([]*alert.Rule, error) {
	return e.store.ListRules(ctx)
}

// Submit evaluates one event against every enabled rule and returns the
// notifications emitted. Matches inside a rule's rate-limit window are
// suppressed, not queued.
func (e *Engine) Submit(ctx context.Context, event alert.Event) ([]*alert.Notification, error) {
	if event.Type == "" {
		return nil, errors.NewValidationError("MISSING_EVENT_TYPE", "event type is required")
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}

	rules, err := e.store.ListRules(ctx)
	if err != nil {
		return nil, err
	}

	var emitted []*alert.Notification
	for _, rule := range rules {
		if !rule.Enabled || !rule.Matches(event) {
			continue
		}
		if e.rateLimited(rule) {
			continue
		}

		notification := &alert.Notification{
			ID:        uuid.New(),
			RuleID:    rule.ID,
			RuleName:  rule.Name,
			EventType: event.Type,
			Severity:  rule.Severity,
			Message:   rule.RenderMessage(event),
			Data:      event.Data,
			CreatedAt: e.now(),
		}

		select {
		case e.queue <- notification:
			emitted = append(emitted, notification)
		default:
			e.logger.Warn("notification queue full, dropping",
				zap.String("rule", rule.Name))
		}
	}
	return emitted, nil
}

// rateLimited marks the rule fired, or counts a suppression if its window is
// still open.
func (e *Engine) rateLimited(rule *alert.Rule) bool {
	if rule.Window <= 0 {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	now := e.now()
	if last, ok := e.lastFired[rule.ID]; ok && now.Sub(last) < rule.Window {
		e.suppressed[rule.ID]++
		return true
	}
	e.lastFired[rule.ID] = now
	return false
}

// SuppressedCount reports how many matches the rule's window swallowed
func (e *Engine) SuppressedCount(id uuid.UUID) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.suppressed[id]
}
