package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// OPDMetrics exposes counters/histograms for token allocation flows.
type OPDMetrics struct {
	allocations   *prometheus.CounterVec
	releases      *prometheus.CounterVec
	relocated     prometheus.Counter
	promotions    prometheus.Counter
	capacityBumps prometheus.Counter
	waitlistDepth prometheus.Gauge
	lockWait      *prometheus.HistogramVec
}

func NewOPDMetrics(reg prometheus.Registerer) *OPDMetrics {
	m := &OPDMetrics{
		allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "tokens",
			Name:      "allocations_total",
			Help:      "Token allocation attempts by category and outcome",
		}, []string{"category", "outcome"}),
		releases: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "tokens",
			Name:      "released_total",
			Help:      "Tokens that freed capacity, by reason",
		}, []string{"reason"}),
		relocated: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "tokens",
			Name:      "relocated_total",
			Help:      "Tokens moved to a later slot by reallocation",
		}),
		promotions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "waitlist",
			Name:      "promotions_total",
			Help:      "Waitlist entries admitted into a slot",
		}),
		capacityBumps: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "opd",
			Subsystem: "slots",
			Name:      "emergency_capacity_bumps_total",
			Help:      "Slots whose capacity was extended for an emergency",
		}),
		waitlistDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "opd",
			Subsystem: "waitlist",
			Name:      "depth",
			Help:      "Entries currently waiting across all slots",
		}),
		lockWait: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "opd",
			Subsystem: "slots",
			Name:      "lock_wait_seconds",
			Help:      "Time spent waiting for a slot lock",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"outcome"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.allocations, m.releases, m.relocated, m.promotions, m.capacityBumps, m.waitlistDepth, m.lockWait)
	return m
}

func (m *OPDMetrics) ObserveAllocation(category, outcome string) {
	if m == nil {
		return
	}
	m.allocations.WithLabelValues(category, outcome).Inc()
}

func (m *OPDMetrics) ObserveRelease(reason string) {
	if m == nil {
		return
	}
	m.releases.WithLabelValues(reason).Inc()
}

func (m *OPDMetrics) ObserveRelocated(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.relocated.Add(float64(n))
}

func (m *OPDMetrics) ObservePromotion() {
	if m == nil {
		return
	}
	m.promotions.Inc()
}

func (m *OPDMetrics) ObserveCapacityBump() {
	if m == nil {
		return
	}
	m.capacityBumps.Inc()
}

func (m *OPDMetrics) SetWaitlistDepth(n int) {
	if m == nil {
		return
	}
	m.waitlistDepth.Set(float64(n))
}

func (m *OPDMetrics) ObserveLockWait(d time.Duration, acquired bool) {
	if m == nil {
		return
	}
	outcome := "acquired"
	if !acquired {
		outcome = "timeout"
	}
	m.lockWait.WithLabelValues(outcome).Observe(d.Seconds())
}
