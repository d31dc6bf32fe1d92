// Package radiometrics exposes the control plane's Prometheus metrics:
// schedule churn, ARQ retransmissions, MCS level, mandate scores, and
// collaboration heartbeats.
package radiometrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "radioctl"

// Label names shared across metric vectors.
const (
	labelDest   = "dest"
	labelFlow   = "flow"
	labelPeer   = "peer"
	labelReason = "reason"
)

// Collector holds every control-plane Prometheus metric.
type Collector struct {
	// ScheduleInstalls counts accepted schedule installs, labeled by MAC
	// variant. A high rate indicates schedule churn.
	ScheduleInstalls *prometheus.CounterVec

	// ScheduleRejected counts schedule installs rejected for a stale or
	// equal sequence number.
	ScheduleRejected prometheus.Counter

	// ARQRetransmits counts link-layer retransmissions per destination,
	// labeled by cause (timeout vs selective NAK).
	ARQRetransmits *prometheus.CounterVec

	// MCSLevel is the currently selected modulation and coding scheme
	// index per destination.
	MCSLevel *prometheus.GaugeVec

	// MandateScore is the current per-flow mp_score last computed by the
	// scorer.
	MandateScore *prometheus.GaugeVec

	// MandatesAchieved is the count of flows meeting their hold-period
	// goal as of the last scoring tick.
	MandatesAchieved prometheus.Gauge

	// CollabHeartbeats counts collaboration-bus voxel pushes/pulls
	// exchanged with each peer.
	CollabHeartbeats *prometheus.CounterVec

	// NeighborhoodSize is the current count of known neighbors.
	NeighborhoodSize prometheus.Gauge
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()

	reg.MustRegister(
		c.ScheduleInstalls,
		c.ScheduleRejected,
		c.ARQRetransmits,
		c.MCSLevel,
		c.MandateScore,
		c.MandatesAchieved,
		c.CollabHeartbeats,
		c.NeighborhoodSize,
	)

	return c
}

func newMetrics() *Collector {
	return &Collector{
		ScheduleInstalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "installs_total",
			Help:      "Total accepted MAC schedule installs.",
		}, []string{"variant"}),

		ScheduleRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "schedule",
			Name:      "rejected_total",
			Help:      "Total schedule installs rejected for a stale or equal sequence number.",
		}),

		ARQRetransmits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "retransmits_total",
			Help:      "Total ARQ retransmissions per destination and cause.",
		}, []string{labelDest, labelReason}),

		MCSLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "link",
			Name:      "mcs_level",
			Help:      "Currently selected modulation and coding scheme index per destination.",
		}, []string{labelDest}),

		MandateScore: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mandate",
			Name:      "score",
			Help:      "Current per-flow mandate score.",
		}, []string{labelFlow}),

		MandatesAchieved: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "mandate",
			Name:      "achieved_count",
			Help:      "Count of flows meeting their hold-period goal as of the last scoring tick.",
		}),

		CollabHeartbeats: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "collab",
			Name:      "heartbeats_total",
			Help:      "Total collaboration-bus voxel pushes and pulls exchanged with each peer.",
		}, []string{labelPeer}),

		NeighborhoodSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "neighborhood",
			Name:      "size",
			Help:      "Current count of known neighbors.",
		}),
	}
}

// -------------------------------------------------------------------------
// Schedule
// -------------------------------------------------------------------------

// RecordScheduleInstall increments the install counter for variant.
func (c *Collector) RecordScheduleInstall(variant string) {
	c.ScheduleInstalls.WithLabelValues(variant).Inc()
}

// RecordScheduleRejected increments the rejected-install counter.
func (c *Collector) RecordScheduleRejected() {
	c.ScheduleRejected.Inc()
}

// -------------------------------------------------------------------------
// Link
// -------------------------------------------------------------------------

// RecordRetransmit increments the retransmit counter for dest, labeled
// with the triggering reason ("timeout" or "selective_nak").
func (c *Collector) RecordRetransmit(dest, reason string) {
	c.ARQRetransmits.WithLabelValues(dest, reason).Inc()
}

// SetMCSLevel records the current MCS index for dest.
func (c *Collector) SetMCSLevel(dest string, level float64) {
	c.MCSLevel.WithLabelValues(dest).Set(level)
}

// -------------------------------------------------------------------------
// Mandate
// -------------------------------------------------------------------------

// SetMandateScore records flow's current mp_score.
func (c *Collector) SetMandateScore(flow string, score float64) {
	c.MandateScore.WithLabelValues(flow).Set(score)
}

// SetMandatesAchieved records the count of flows currently meeting their
// hold-period goal.
func (c *Collector) SetMandatesAchieved(n float64) {
	c.MandatesAchieved.Set(n)
}

// -------------------------------------------------------------------------
// Collaboration
// -------------------------------------------------------------------------

// RecordCollabHeartbeat increments the heartbeat counter for peer.
func (c *Collector) RecordCollabHeartbeat(peer string) {
	c.CollabHeartbeats.WithLabelValues(peer).Inc()
}

// -------------------------------------------------------------------------
// Neighborhood
// -------------------------------------------------------------------------

// SetNeighborhoodSize records the current neighbor count.
func (c *Collector) SetNeighborhoodSize(n float64) {
	c.NeighborhoodSize.Set(n)
}
