package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the allocation engine.
type Metrics struct {
	Created          prometheus.Counter
	ConflictRejected prometheus.Counter
	RoutesAttached   prometheus.Counter
	AllocateDuration prometheus.Histogram
}

// New creates a new Metrics instance with all allocation metrics registered.
func New() *Metrics {
	return &Metrics{
		Created: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_allocations_created_total",
			Help: "Total number of allocations created",
		}),
		ConflictRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_allocation_conflicts_total",
			Help: "Total number of allocations rejected for insufficient available quantity",
		}),
		RoutesAttached: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_routes_attached_total",
			Help: "Total number of delivery routes attached to allocations",
		}),
		AllocateDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aidbridge_allocation_create_duration_seconds",
			Help:    "Duration of allocation creation (both row locks held)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCreated records a successful allocation.
func (m *Metrics) IncrementCreated() {
	m.Created.Inc()
}

// IncrementConflictRejected records an allocation rejected on availability.
func (m *Metrics) IncrementConflictRejected() {
	m.ConflictRejected.Inc()
}

// IncrementRouteAttached records a route attachment.
func (m *Metrics) IncrementRouteAttached() {
	m.RoutesAttached.Inc()
}

// ObserveAllocate records the duration of an allocation creation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveAllocate(start time.Time) {
	m.AllocateDuration.Observe(time.Since(start).Seconds())
}
