package webhook

import (
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
)

// PayloadFormat selects the envelope a sink receives.
type PayloadFormat string

const (
	FormatDefault PayloadFormat = "default"
	FormatSlack   PayloadFormat = "slack"
	FormatTeams   PayloadFormat = "teams"
	FormatDiscord PayloadFormat = "discord"
	FormatEmail   PayloadFormat = "email"
)

// IsValid checks the format against the closed set
func (f PayloadFormat) IsValid() bool {
	switch f {
	case FormatDefault, FormatSlack, FormatTeams, FormatDiscord, FormatEmail:
		return true
	default:
		return false
	}
}

// Registration defines a delivery sink. A sink receives a notification only
// when both its event filter and its severity filter admit it and its
// minimum inter-delivery interval has elapsed.
type Registration struct {
	ID              uuid.UUID         `json:"id"`
	URL             string            `json:"url"`
	Method          string            `json:"method"`
	Headers         map[string]string `json:"headers,omitempty"`
	Format          PayloadFormat     `json:"format"`
	EventFilters    []string          `json:"event_filters,omitempty"`
	SeverityFilters []alert.Severity  `json:"severity_filters,omitempty"`
	MinInterval     time.Duration     `json:"min_interval"`
	Enabled         bool              `json:"enabled"`
	CreatedDate     time.Time         `json:"created_date"`
}

// NewRegistration validates and creates a webhook sink
func NewRegistration(rawURL, method string, format PayloadFormat, eventFilters []string, severityFilters []alert.Severity, minInterval time.Duration) (*Registration, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return nil, errors.NewValidationError("INVALID_URL", "webhook URL must be absolute")
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return nil, errors.NewValidationError("INVALID_SCHEME", "webhook URL must use http or https")
	}
	if method == "" {
		method = "POST"
	}
	if format == "" {
		format = FormatDefault
	}
	if !format.IsValid() {
		return nil, errors.NewValidationError("INVALID_FORMAT", "unknown payload format")
	}
	for _, sev := range severityFilters {
		if !sev.IsValid() {
			return nil, errors.NewValidationError("INVALID_SEVERITY_FILTER", "unknown severity in filter")
		}
	}
	if minInterval < 0 {
		return nil, errors.NewValidationError("INVALID_INTERVAL", "minimum interval must be non-negative")
	}
	return &Registration{
		ID:              uuid.New(),
		URL:             rawURL,
		Method:          method,
		Headers:         make(map[string]string),
		Format:          format,
		EventFilters:    eventFilters,
		SeverityFilters: severityFilters,
		MinInterval:     minInterval,
		Enabled:         true,
		CreatedDate:     time.Now().UTC(),
	}, nil
}

// Accepts applies the sink's event and severity filters. Empty filters admit
// everything.
func (r *Registration) Accepts(eventType string, severity alert.Severity) bool {
	if !r.Enabled {
		return false
	}
	if len(r.EventFilters) > 0 {
		found := false
		for _, filter := range r.EventFilters {
			if filter == eventType {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(r.SeverityFilters) > 0 {
		found := false
		for _, filter := range r.SeverityFilters {
			if filter == severity {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}
