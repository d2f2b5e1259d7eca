package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics aggregates the analytical core's instrument handles. A single
// instance is created at startup and injected where needed.
type Metrics struct {
	CollectorHeight   *prometheus.GaugeVec
	CollectorLag      *prometheus.GaugeVec
	CollectorErrors   *prometheus.CounterVec
	QueueDepth        prometheus.Gauge
	TxProcessed       *prometheus.CounterVec
	PatternMatches    *prometheus.CounterVec
	RiskAssessments   prometheus.Counter
	WebhookDeliveries *prometheus.CounterVec
	SchedulerRuns     *prometheus.CounterVec
	SchedulerDuration *prometheus.HistogramVec
	EvidenceVerifies  *prometheus.CounterVec
}

// NewMetrics registers all collectors on the given registerer
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CollectorHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledgertrace",
			Subsystem: "collector",
			Name:      "height",
			Help:      "Last processed block height per chain",
		}, []string{"chain"}),
		CollectorLag: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "ledgertrace",
			Subsystem: "collector",
			Name:      "lag_blocks",
			Help:      "Blocks behind the observed head per chain",
		}, []string{"chain"}),
		CollectorErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "collector",
			Name:      "errors_total",
			Help:      "Fetch and publish errors per chain",
		}, []string{"chain"}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ledgertrace",
			Subsystem: "analysis",
			Name:      "queue_depth",
			Help:      "Transactions waiting in the analysis queue",
		}),
		TxProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "analysis",
			Name:      "transactions_total",
			Help:      "Transactions consumed by the analysis pipeline",
		}, []string{"chain"}),
		PatternMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "patterns",
			Name:      "matches_total",
			Help:      "Pattern matches emitted by kind",
		}, []string{"kind"}),
		RiskAssessments: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "risk",
			Name:      "assessments_total",
			Help:      "Risk assessments published",
		}),
		WebhookDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "webhooks",
			Name:      "deliveries_total",
			Help:      "Webhook delivery attempts by outcome",
		}, []string{"outcome"}),
		SchedulerRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "scheduler",
			Name:      "runs_total",
			Help:      "Scheduled job runs by job and outcome",
		}, []string{"job", "outcome"}),
		SchedulerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "ledgertrace",
			Subsystem: "scheduler",
			Name:      "run_seconds",
			Help:      "Scheduled job run durations",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
		}, []string{"job"}),
		EvidenceVerifies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ledgertrace",
			Subsystem: "evidence",
			Name:      "verifications_total",
			Help:      "Evidence integrity verifications by result",
		}, []string{"result"}),
	}

	reg.MustRegister(
		m.CollectorHeight, m.CollectorLag, m.CollectorErrors,
		m.QueueDepth, m.TxProcessed, m.PatternMatches, m.RiskAssessments,
		m.WebhookDeliveries, m.SchedulerRuns, m.SchedulerDuration,
		m.EvidenceVerifies,
	)
	return m
}

// NewNopMetrics builds an unregistered instance for tests
func NewNopMetrics() *Metrics {
	return NewMetrics(prometheus.NewRegistry())
}
