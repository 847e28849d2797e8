// Package metrics exposes the system's FSM activity as Prometheus
// metrics, grounded on this codebase's BFD metrics collector but
// relabeled around RIFT's node/interface hierarchy instead of BFD's
// peer/local address pair.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rift-sim/riftsim/internal/lie"
	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/ztp"
)

const (
	namespace = "riftsim"
	subsystem = "rift"
)

// Label names for RIFT metrics.
const (
	labelNode      = "node"
	labelInterface = "interface"
	labelFromState = "from_state"
	labelToState   = "to_state"
)

// Collector holds every Prometheus metric this simulator exports.
//
// Metrics are designed for watching a simulated fabric converge:
//   - EffectiveLevel tracks each node's derived level as ZTP settles.
//   - LieTransitions/ZTPTransitions count FSM state changes for
//     catching flaps (e.g. repeated ThreeWay->OneWay).
//   - SendFailures and OffersPosted track transport and adjacency
//     churn respectively.
type Collector struct {
	// EffectiveLevel reports each node's current derived level. Undefined
	// is reported as -1, matching the wire encoding (spec.md §3).
	EffectiveLevel *prometheus.GaugeVec

	// LieTransitions counts per-interface LIE FSM state transitions.
	LieTransitions *prometheus.CounterVec

	// ZTPTransitions counts per-node ZTP FSM state transitions.
	ZTPTransitions *prometheus.CounterVec

	// SendFailures counts failed LIE transmissions per interface.
	SendFailures *prometheus.CounterVec

	// OffersPosted counts neighbor offers posted to a node's ZTP FSM,
	// one per UpdateZTPOffer run (spec.md §4.1).
	OffersPosted *prometheus.CounterVec

	// ThreeWayAdjacencies reports how many of a node's interfaces are
	// currently ThreeWay.
	ThreeWayAdjacencies *prometheus.GaugeVec
}

// NewCollector creates a Collector with every metric registered against
// reg. If reg is nil, prometheus.DefaultRegisterer is used.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := newMetrics()
	reg.MustRegister(
		c.EffectiveLevel,
		c.LieTransitions,
		c.ZTPTransitions,
		c.SendFailures,
		c.OffersPosted,
		c.ThreeWayAdjacencies,
	)
	return c
}

func newMetrics() *Collector {
	nodeLabels := []string{labelNode}
	ifaceLabels := []string{labelNode, labelInterface}
	lieTransitionLabels := []string{labelNode, labelInterface, labelFromState, labelToState}
	ztpTransitionLabels := []string{labelNode, labelFromState, labelToState}

	return &Collector{
		EffectiveLevel: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "effective_level",
			Help:      "Current derived level of a node (-1 if undefined).",
		}, nodeLabels),

		LieTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "lie_transitions_total",
			Help:      "Total LIE FSM state transitions per interface.",
		}, lieTransitionLabels),

		ZTPTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "ztp_transitions_total",
			Help:      "Total ZTP FSM state transitions per node.",
		}, ztpTransitionLabels),

		SendFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "send_failures_total",
			Help:      "Total failed LIE transmissions per interface.",
		}, ifaceLabels),

		OffersPosted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "offers_posted_total",
			Help:      "Total neighbor offers posted to a node's ZTP FSM.",
		}, nodeLabels),

		ThreeWayAdjacencies: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "three_way_adjacencies",
			Help:      "Number of a node's interfaces currently in ThreeWay.",
		}, nodeLabels),
	}
}

// levelValue returns the wire encoding of a level (-1 when undefined),
// matching spec.md §3's SenderLevel convention.
func levelValue(l riftid.Level) float64 {
	if v, ok := l.Value(); ok {
		return float64(v)
	}
	return -1
}

// SetEffectiveLevel records a node's current derived level.
func (c *Collector) SetEffectiveLevel(node string, level riftid.Level) {
	c.EffectiveLevel.WithLabelValues(node).Set(levelValue(level))
}

// SetThreeWayAdjacencies records how many of a node's interfaces are
// currently ThreeWay.
func (c *Collector) SetThreeWayAdjacencies(node string, n int) {
	c.ThreeWayAdjacencies.WithLabelValues(node).Set(float64(n))
}

// IncOffersPosted increments the offers-posted counter for a node.
func (c *Collector) IncOffersPosted(node string) {
	c.OffersPosted.WithLabelValues(node).Inc()
}

// NodeRecorder adapts a Collector into the node.MetricsRecorder
// interface, binding it to one node's name. internal/node holds a
// NodeRecorder per Node and forwards it into every owned lie.Session
// and the node's ztp.Session.
type NodeRecorder struct {
	c    *Collector
	node string
}

// NewNodeRecorder builds a NodeRecorder bound to node.
func NewNodeRecorder(c *Collector, node string) NodeRecorder {
	return NodeRecorder{c: c, node: node}
}

// RecordLieTransition implements node.MetricsRecorder.
func (r NodeRecorder) RecordLieTransition(iface string, oldState, newState lie.State) {
	r.c.LieTransitions.WithLabelValues(r.node, iface, oldState.String(), newState.String()).Inc()
}

// RecordSendFailure implements node.MetricsRecorder.
func (r NodeRecorder) RecordSendFailure(iface string) {
	r.c.SendFailures.WithLabelValues(r.node, iface).Inc()
}

// RecordZTPTransition implements node.MetricsRecorder.
func (r NodeRecorder) RecordZTPTransition(oldState, newState ztp.State) {
	r.c.ZTPTransitions.WithLabelValues(r.node, oldState.String(), newState.String()).Inc()
}

// RecordLevelChange implements node.MetricsRecorder.
func (r NodeRecorder) RecordLevelChange(level riftid.Level) {
	r.c.SetEffectiveLevel(r.node, level)
}

// RecordOfferPosted implements node.MetricsRecorder.
func (r NodeRecorder) RecordOfferPosted() {
	r.c.IncOffersPosted(r.node)
}
