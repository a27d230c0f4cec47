package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for the contribution ledger.
// Tracks commit outcomes and the duration of the locked commit path.
type Metrics struct {
	Committed        prometheus.Counter
	Withdrawn        prometheus.Counter
	ConflictRejected prometheus.Counter
	CommitDuration   prometheus.Histogram
}

// New creates a new Metrics instance with all ledger metrics registered.
func New() *Metrics {
	return &Metrics{
		Committed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_contributions_committed_total",
			Help: "Total number of contributions committed",
		}),
		Withdrawn: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_contributions_withdrawn_total",
			Help: "Total number of contributions withdrawn",
		}),
		ConflictRejected: promauto.NewCounter(prometheus.CounterOpts{
			Name: "aidbridge_contribution_conflicts_total",
			Help: "Total number of commits rejected because the remaining percentage was insufficient",
		}),
		CommitDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "aidbridge_contribution_commit_duration_seconds",
			Help:    "Duration of commit operations (request row lock held)",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
	}
}

// IncrementCommitted records a successful commit.
func (m *Metrics) IncrementCommitted() {
	m.Committed.Inc()
}

// IncrementWithdrawn records a successful withdrawal.
func (m *Metrics) IncrementWithdrawn() {
	m.Withdrawn.Inc()
}

// IncrementConflictRejected records a commit rejected on remaining capacity.
func (m *Metrics) IncrementConflictRejected() {
	m.ConflictRejected.Inc()
}

// ObserveCommit records the duration of a commit operation.
// Call with time.Now() at the start of the operation.
func (m *Metrics) ObserveCommit(start time.Time) {
	m.CommitDuration.Observe(time.Since(start).Seconds())
}
