package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for donation stock.
type Metrics struct {
	Created          prometheus.Counter
	Verified         prometheus.Counter
	CapacityRejected prometheus.Counter
}

// New creates a new Metrics instance with all stock metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_donations_created_total",
			Help: "Total number of donations pledged",
		}),
		Verified: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_donations_verified_total",
			Help: "Total number of donations verified",
		}),
		CapacityRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_warehouse_capacity_rejections_total",
			Help: "Total number of warehouse assignments rejected for capacity",
		}),
	}
}

// IncrementCreated records a donation pledge.
func (m *Metrics) IncrementCreated() {
	m.Created.Inc()
}

// IncrementVerified records a donation verification.
func (m *Metrics) IncrementVerified() {
	m.Verified.Inc()
}

// IncrementCapacityRejected records a warehouse assignment rejection.
func (m *Metrics) IncrementCapacityRejected() {
	m.CapacityRejected.Inc()
}
