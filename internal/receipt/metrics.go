package receipt

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "autobank"

// Metrics counts workflow outcomes. A nil *Metrics records nothing.
type Metrics struct {
	receiptsCreated      prometheus.Counter
	creationFailures     *prometheus.CounterVec
	rollbacks            prometheus.Counter
	compensationFailures prometheus.Counter
	notificationFailures prometheus.Counter
	attachmentBytes      prometheus.Counter
}

// NewMetrics registers the receipt collectors with reg. A nil reg uses the
// default registerer.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		receiptsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "receipts_created_total",
			Help:      "Receipts persisted with all attachments.",
		}),
		creationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "receipt_creation_failures_total",
			Help:      "Failed receipt submissions by error code.",
		}, []string{"code"}),
		rollbacks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "receipt_rollbacks_total",
			Help:      "Submissions undone after the receipt row was written.",
		}),
		compensationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "compensation_failures_total",
			Help:      "Compensating deletes that failed and may have left orphans.",
		}),
		notificationFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "notification_failures_total",
			Help:      "Receipt emails that could not be delivered.",
		}),
		attachmentBytes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "attachment_bytes_total",
			Help:      "Bytes of processed attachments written to storage.",
		}),
	}

	for _, c := range []prometheus.Collector{
		m.receiptsCreated, m.creationFailures, m.rollbacks,
		m.compensationFailures, m.notificationFailures, m.attachmentBytes,
	} {
		if err := reg.Register(c); err != nil {
			return nil, fmt.Errorf("registering receipt metric: %w", err)
		}
	}
	return m, nil
}

func (m *Metrics) created() {
	if m == nil {
		return
	}
	m.receiptsCreated.Inc()
}

func (m *Metrics) failed(err error) {
	if m == nil {
		return
	}
	m.creationFailures.WithLabelValues(string(CodeOf(err))).Inc()
}

func (m *Metrics) rolledBack(compensationFailures int) {
	if m == nil {
		return
	}
	m.rollbacks.Inc()
	m.compensationFailures.Add(float64(compensationFailures))
}

func (m *Metrics) notificationFailed() {
	if m == nil {
		return
	}
	m.notificationFailures.Inc()
}

func (m *Metrics) stored(n int) {
	if m == nil {
		return
	}
	m.attachmentBytes.Add(float64(n))
}
