package alert

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// Severity of an alert notification.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityError    Severity = "error"
	SeverityCritical Severity = "critical"
)

// IsValid checks the severity against the known set
func (s Severity) IsValid() bool {
	switch s {
	case SeverityInfo, SeverityWarning, SeverityError, SeverityCritical:
		return true
	default:
		return false
	}
}

// Operator is the closed set of comparison operators usable in rule
// conditions. Represented as an enumerated variant, not free-form strings.
type Operator string

const (
	OpGT          Operator = "gt"
	OpLT          Operator = "lt"
	OpEQ          Operator = "eq"
	OpNE          Operator = "ne"
	OpGTE         Operator = "gte"
	OpLTE         Operator = "lte"
	OpContains    Operator = "contains"
	OpNotContains Operator = "not_contains"
)

// IsValid checks the operator against the closed set
func (o Operator) IsValid() bool {
	switch o {
	case OpGT, OpLT, OpEQ, OpNE, OpGTE, OpLTE, OpContains, OpNotContains:
		return true
	default:
		return false
	}
}

// Condition is one predicate of a rule: a dotted field path, an operator and
// a threshold value.
type Condition struct {
	Field     string      `json:"field"`
	Operator  Operator    `json:"operator"`
	Threshold interface{} `json:"threshold"`
}

// Rule is a named, versioned predicate over metric events. A rule suppresses
// re-delivery while its rate-limit window since the last emission is open.
type Rule struct {
	ID          uuid.UUID     `json:"id"`
	Name        string        `json:"name"`
	Version     int           `json:"version"`
	Severity    Severity      `json:"severity"`
	Conditions  []Condition   `json:"conditions"`
	Message     string        `json:"message"`
	Window      time.Duration `json:"window"`
	Enabled     bool          `json:"enabled"`
	CreatedDate time.Time     `json:"created_date"`
	LastUpdated time.Time     `json:"last_updated"`
}

// NewRule validates and creates an alert rule
func NewRule(name string, severity Severity, conditions []Condition, message string, window time.Duration) (*Rule, error) {
	if name == "" {
		return nil, errors.NewValidationError("MISSING_RULE_NAME", "rule name is required")
	}
	if !severity.IsValid() {
		return nil, errors.NewValidationError("INVALID_SEVERITY", fmt.Sprintf("unknown severity: %s", severity))
	}
	if len(conditions) == 0 {
		return nil, errors.NewValidationError("MISSING_CONDITIONS", "a rule needs at least one condition")
	}
	for i, cond := range conditions {
		if cond.Field == "" {
			return nil, errors.NewValidationError("MISSING_FIELD",
				fmt.Sprintf("condition %d: field path is required", i))
		}
		if !cond.Operator.IsValid() {
			return nil, errors.NewValidationError("INVALID_OPERATOR",
				fmt.Sprintf("condition %d: unknown operator %q", i, cond.Operator))
		}
	}
	if window < 0 {
		return nil, errors.NewValidationError("INVALID_WINDOW", "rate-limit window must be non-negative")
	}
	now := time.Now().UTC()
	return &Rule{
		ID:          uuid.New(),
		Name:        name,
		Version:     1,
		Severity:    severity,
		Conditions:  conditions,
		Message:     message,
		Window:      window,
		Enabled:     true,
		CreatedDate: now,
		LastUpdated: now,
	}, nil
}

// Event is a metric/event submission evaluated against registered rules.
type Event struct {
	Type      string                 `json:"event_type"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Matches evaluates every condition against the event; all must hold.
func (r *Rule) Matches(event Event) bool {
	for _, cond := range r.Conditions {
		value, ok := resolveField(event.Data, cond.Field)
		if !ok {
			return false
		}
		if !evaluate(cond.Operator, value, cond.Threshold) {
			return false
		}
	}
	return true
}

// RenderMessage substitutes {field} placeholders in the rule message with
// event values.
func (r *Rule) RenderMessage(event Event) string {
	msg := r.Message
	if msg == "" {
		msg = fmt.Sprintf("rule %s matched event %s", r.Name, event.Type)
	}
	for key, value := range event.Data {
		msg = strings.ReplaceAll(msg, "{"+key+"}", fmt.Sprintf("%v", value))
	}
	return msg
}

// resolveField walks a dotted path through nested maps
func resolveField(data map[string]interface{}, path string) (interface{}, bool) {
	parts := strings.Split(path, ".")
	var current interface{} = data
	for _, part := range parts {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// evaluate applies the operator. Numeric comparisons coerce both sides to
// float64; contains operates on strings and string slices.
func evaluate(op Operator, value, threshold interface{}) bool {
	switch op {
	case OpEQ:
		return fmt.Sprintf("%v", value) == fmt.Sprintf("%v", threshold)
	case OpNE:
		return fmt.Sprintf("%v", value) != fmt.Sprintf("%v", threshold)
	case OpContains, OpNotContains:
		found := containsValue(value, threshold)
		if op == OpContains {
			return found
		}
		return !found
	default:
		lhs, lok := toFloat(value)
		rhs, rok := toFloat(threshold)
		if !lok || !rok {
			return false
		}
		switch op {
		case OpGT:
			return lhs > rhs
		case OpLT:
			return lhs < rhs
		case OpGTE:
			return lhs >= rhs
		case OpLTE:
			return lhs <= rhs
		}
		return false
	}
}

func containsValue(value, needle interface{}) bool {
	want := fmt.Sprintf("%v", needle)
	switch v := value.(type) {
	case string:
		return strings.Contains(v, want)
	case []string:
		for _, item := range v {
			if item == want {
				return true
			}
		}
	case []interface{}:
		for _, item := range v {
			if fmt.Sprintf("%v", item) == want {
				return true
			}
		}
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	default:
		return 0, false
	}
}

// Notification is the rendered output of a matched rule, queued for the
// webhook dispatcher.
type Notification struct {
	ID        uuid.UUID              `json:"id"`
	RuleID    uuid.UUID              `json:"rule_id"`
	RuleName  string                 `json:"rule_name"`
	EventType string                 `json:"event_type"`
	Severity  Severity               `json:"severity"`
	Message   string                 `json:"message"`
	Data      map[string]interface{} `json:"data,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}
