package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the request lifecycle.
type Metrics struct {
	Created     prometheus.Counter
	Transitions *prometheus.CounterVec
	Flagged     prometheus.Counter
}

// New creates a new Metrics instance with all lifecycle metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_requests_created_total",
			Help: "Total number of requests created",
		}),
		Transitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "aidbridge_request_transitions_total",
			Help: "Total number of request status transitions, labelled by target status",
		}, []string{"to"}),
		Flagged: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_requests_flagged_total",
			Help: "Total number of requests flagged stale for batch review",
		}),
	}
}

// IncrementCreated records a request creation.
func (m *Metrics) IncrementCreated() {
	m.Created.Inc()
}

// IncrementTransition records a lifecycle transition into the given status.
func (m *Metrics) IncrementTransition(to string) {
	m.Transitions.WithLabelValues(to).Inc()
}

// AddFlagged records a batch of requests flagged for review.
func (m *Metrics) AddFlagged(count int) {
	m.Flagged.Add(float64(count))
}
