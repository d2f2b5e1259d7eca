package alerting

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/ledgertrace/ledgertrace-backend/internal/domain/alert"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/errors"
	"github.com/ledgertrace/ledgertrace-backend/internal/domain/webhook"
	"github.com/ledgertrace/ledgertrace-backend/internal/infrastructure/telemetry"
)

// WebhookStore persists delivery sinks.
type WebhookStore interface {
	SaveWebhook(ctx context.Context, reg *webhook.Registration) error
	GetWebhook(ctx context.Context, id uuid.UUID) (*webhook.Registration, error)
	ListWebhooks(ctx context.Context) ([]*webhook.Registration, error)
	DeleteWebhook(ctx context.Context, id uuid.UUID) error
}

// DispatcherOptions bound delivery behaviour.
type DispatcherOptions struct {
	RequestTimeout time.Duration
	MaxRetries     int
	RetryBackoff   time.Duration
}

// sinkState carries the per-sink limiter and circuit breaker. Deliveries to
// one sink are serialised; sinks proceed in parallel.
type sinkState struct {
	mu      sync.Mutex
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// Dispatcher drains the notification queue and fans each notification out to
// every registered sink whose filters admit it. A slow or failing sink never
// blocks the others: its circuit opens and deliveries are dropped until the
// sink recovers.
type Dispatcher struct {
	store   WebhookStore
	queue   <-chan *alert.Notification
	client  *http.Client
	opts    DispatcherOptions
	logger  *zap.Logger
	metrics *telemetry.Metrics

	mu    sync.Mutex
	sinks map[uuid.UUID]*sinkState
}

// NewDispatcher creates a dispatcher over the engine's queue
func NewDispatcher(store WebhookStore, queue <-chan *alert.Notification, opts DispatcherOptions, logger *zap.Logger, metrics *telemetry.Metrics) *Dispatcher {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	if opts.MaxRetries < 0 {
		opts.MaxRetries = 0
	}
	if opts.RetryBackoff <= 0 {
		opts.RetryBackoff = time.Second
	}
	return &Dispatcher{
		store:   store,
		queue:   queue,
		client:  &http.Client{Timeout: opts.RequestTimeout},
		opts:    opts,
		logger:  logger,
		metrics: metrics,
		sinks:   make(map[uuid.UUID]*sinkState),
	}
}

// Register validates and stores a new sink
func (d *Dispatcher) Register(ctx context.Context, rawURL, method string, headers map[string]string, format webhook.PayloadFormat, eventFilters []string, severityFilters []alert.Severity, minInterval time.Duration) (*webhook.Registration, error) {
	reg, err := webhook.NewRegistration(rawURL, method, format, eventFilters, severityFilters, minInterval)
	if err != nil {
		return nil, err
	}
	for k, v := range headers {
		reg.Headers[k] = v
	}
	if err := d.store.SaveWebhook(ctx, reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// Unregister removes a sink and its delivery state
func (d *Dispatcher) Unregister(ctx context.Context, id uuid.UUID) error {
	if err := d.store.DeleteWebhook(ctx, id); err != nil {
		return err
	}
	d.mu.Lock()
	delete(d.sinks, id)
	d.mu.Unlock()
	return nil
}

// List returns all registered sinks
func (d *Dispatcher) List(ctx context.Context) ([]*webhook.Registration, error) {
	return d.store.ListWebhooks(ctx)
}

// Run drains the queue until the context is cancelled
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case notification, ok := <-d.queue:
			if !ok {
				return nil
			}
			d.Dispatch(ctx, notification)
		}
	}
}

// Dispatch fans one notification out to every admitting sink in parallel
func (d *Dispatcher) Dispatch(ctx context.Context, notification *alert.Notification) {
	sinks, err := d.store.ListWebhooks(ctx)
	if err != nil {
		d.logger.Error("listing webhook sinks", zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	for _, sink := range sinks {
		if !sink.Accepts(notification.EventType, notification.Severity) {
			continue
		}
		wg.Add(1)
		go func(sink *webhook.Registration) {
			defer wg.Done()
			d.deliver(ctx, sink, notification)
		}(sink)
	}
	wg.Wait()
}

func (d *Dispatcher) stateFor(sink *webhook.Registration) *sinkState {
	d.mu.Lock()
	defer d.mu.Unlock()
	state, ok := d.sinks[sink.ID]
	if !ok {
		limit := rate.Inf
		if sink.MinInterval > 0 {
			limit = rate.Every(sink.MinInterval)
		}
		state = &sinkState{
			limiter: rate.NewLimiter(limit, 1),
			breaker: gobreaker.NewCircuitBreaker(gobreaker.Settings{
				Name:    sink.ID.String(),
				Timeout: 30 * time.Second,
				ReadyToTrip: func(counts gobreaker.Counts) bool {
					return counts.ConsecutiveFailures >= 5
				},
			}),
		}
		d.sinks[sink.ID] = state
	}
	return state
}

// deliver serialises attempts per sink, honouring its minimum interval and
// circuit breaker, with bounded retries on failure.
func (d *Dispatcher) deliver(ctx context.Context, sink *webhook.Registration, notification *alert.Notification) {
	state := d.stateFor(sink)
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.limiter.Allow() {
		d.metrics.WebhookDeliveries.WithLabelValues("throttled").Inc()
		return
	}

	var lastErr error
	for attempt := 0; attempt <= d.opts.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return
			case <-time.After(d.opts.RetryBackoff):
			}
		}
		_, lastErr = state.breaker.Execute(func() (interface{}, error) {
			return nil, d.send(ctx, sink, notification)
		})
		if lastErr == nil {
			d.metrics.WebhookDeliveries.WithLabelValues("delivered").Inc()
			return
		}
		if lastErr == gobreaker.ErrOpenState {
			d.metrics.WebhookDeliveries.WithLabelValues("circuit_open").Inc()
			return
		}
	}
	d.metrics.WebhookDeliveries.WithLabelValues("failed").Inc()
	d.logger.Warn("webhook delivery failed",
		zap.String("sink", sink.URL),
		zap.Error(lastErr))
}

func (d *Dispatcher) send(ctx context.Context, sink *webhook.Registration, notification *alert.Notification) error {
	if sink.Format == webhook.FormatSlack {
		return slack.PostWebhookCustomHTTPContext(ctx, sink.URL, d.client, &slack.WebhookMessage{
			Text: fmt.Sprintf("[%s] %s", notification.Severity, notification.Message),
		})
	}

	payload, err := buildPayload(sink.Format, notification)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, sink.Method, sink.URL, bytes.NewReader(payload))
	if err != nil {
		return errors.NewInternalError("building webhook request").WithCause(err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range sink.Headers {
		req.Header.Set(k, v)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return errors.NewUpstreamError("webhook", "delivery request failed").WithCause(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return errors.NewUpstreamError("webhook",
			fmt.Sprintf("sink returned status %d", resp.StatusCode))
	}
	return nil
}

// buildPayload renders the notification in the sink's envelope
func buildPayload(format webhook.PayloadFormat, n *alert.Notification) ([]byte, error) {
	var body interface{}
	switch format {
	case webhook.FormatTeams:
		body = map[string]interface{}{
			"@type":      "MessageCard",
			"@context":   "http://schema.org/extensions",
			"themeColor": severityColor(n.Severity),
			"summary":    n.RuleName,
			"title":      fmt.Sprintf("[%s] %s", n.Severity, n.RuleName),
			"text":       n.Message,
		}
	case webhook.FormatDiscord:
		body = map[string]interface{}{
			"embeds": []map[string]interface{}{{
				"title":       fmt.Sprintf("[%s] %s", n.Severity, n.RuleName),
				"description": n.Message,
				"timestamp":   n.CreatedAt.Format(time.RFC3339),
			}},
		}
	case webhook.FormatEmail:
		body = map[string]interface{}{
			"subject": fmt.Sprintf("[%s] %s", n.Severity, n.RuleName),
			"body":    n.Message,
			"data":    n.Data,
		}
	default:
		body = n
	}
	out, err := json.Marshal(body)
	if err != nil {
		return nil, errors.NewInternalError("encoding webhook payload").WithCause(err)
	}
	return out, nil
}

func severityColor(s alert.Severity) string {
	switch s {
	case alert.SeverityCritical:
		return "d90000"
	case alert.SeverityError:
		return "e87200"
	case alert.SeverityWarning:
		return "e8c500"
	default:
		return "2eb886"
	}
}
