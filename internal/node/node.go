// Package node wires one system's LIE FSMs (package lie, one Session per
// interface) to its single ZTP FSM (package ztp), reproducing the
// per-node event loop described in spec.md §5: a Node is internally
// single-threaded, and all cross-FSM communication happens by pushing
// onto the receiving FSM's queue rather than by shared mutable state.
//
// The wiring mirrors the demultiplexing registry in this codebase's
// session manager, generalized from "one map of peer sessions" to "one
// ZTP session plus a map of per-interface LIE sessions owned by the
// same node."
package node

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"

	"github.com/rift-sim/riftsim/internal/lie"
	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/timeclock"
	"github.com/rift-sim/riftsim/internal/wire"
	"github.com/rift-sim/riftsim/internal/ztp"
)

// inboundQueueSize bounds the number of received-but-not-yet-drained LIE
// packets a node buffers across all its interfaces. A receiver goroutine
// that outruns the node's Tick cadence drops packets rather than
// blocking, matching the tolerance a real link-local multicast listener
// would have for an unacknowledged, retransmitted protocol.
const inboundQueueSize = 64

// inboundLie is one decoded LIE packet handed off from a netio receiver
// goroutine to this node's own event loop.
type inboundLie struct {
	link riftid.LinkId
	pkt  *wire.LIEPacket
	src  netip.Addr
}

// Sentinel errors for Node operations.
var (
	ErrDuplicateInterface = errors.New("node: duplicate interface link id")
	ErrInterfaceNotFound  = errors.New("node: interface not found")
)

// MetricsRecorder receives node-level observability events: every owned
// LIE session's and the ZTP session's transitions, funneled through
// distinctly named methods since lie.State and ztp.State are unrelated
// types and cannot share a RecordTransition overload. LIE events carry
// the originating interface name since one recorder is shared across
// every interface a node owns.
type MetricsRecorder interface {
	RecordLieTransition(iface string, oldState, newState lie.State)
	RecordSendFailure(iface string)
	RecordZTPTransition(oldState, newState ztp.State)
	RecordLevelChange(level riftid.Level)
	RecordOfferPosted()
}

// lieMetricsAdapter satisfies lie.MetricsRecorder by delegating to a
// node-level MetricsRecorder, closing over the owning interface's name.
type lieMetricsAdapter struct {
	mr    MetricsRecorder
	iface string
}

func (a lieMetricsAdapter) RecordTransition(old, next lie.State) {
	a.mr.RecordLieTransition(a.iface, old, next)
}
func (a lieMetricsAdapter) RecordSendFailure() { a.mr.RecordSendFailure(a.iface) }

// ztpMetricsAdapter satisfies ztp.MetricsRecorder by delegating to a
// node-level MetricsRecorder.
type ztpMetricsAdapter struct{ mr MetricsRecorder }

func (a ztpMetricsAdapter) RecordTransition(old, next ztp.State) { a.mr.RecordZTPTransition(old, next) }
func (a ztpMetricsAdapter) RecordLevelChange(l riftid.Level)     { a.mr.RecordLevelChange(l) }

// Option configures optional Node parameters.
type Option func(*Node)

// WithMetrics attaches a MetricsRecorder shared by the node's ZTP session
// and every LIE session it creates.
func WithMetrics(mr MetricsRecorder) Option {
	return func(n *Node) {
		if mr != nil {
			n.metrics = mr
		}
	}
}

// WithClock overrides the time source shared by the node's ZTP session
// and every LIE session it creates, used by tests to drive deadlines
// deterministically.
func WithClock(c timeclock.Clock) Option {
	return func(n *Node) {
		if c != nil {
			n.clock = c
		}
	}
}

// WithHierarchy sets the node's leaf indication at construction time,
// equivalent to an immediate ChangeLocalHierarchyIndications event.
func WithHierarchy(h ztp.HierarchyIndications) Option {
	return func(n *Node) {
		n.initialHierarchy = &h
	}
}

// Node owns one ZTP session and every LIE session for the node's
// interfaces, and runs the serial event loop that drains both to
// quiescence (spec.md §5). It implements ztp.ClientNotifier and
// ztp.AdjacencyObserver itself, and adapts each lie.Session's offers
// into the ZTP session via lie.OfferSink.
type Node struct {
	name            string
	systemId        riftid.SystemId
	configuredLevel riftid.Level

	ztp *ztp.Session

	interfaces map[riftid.LinkId]*lie.Session
	// order preserves interface-creation order for deterministic draining.
	order []riftid.LinkId

	metrics MetricsRecorder
	clock   timeclock.Clock
	logger  *slog.Logger

	initialHierarchy *ztp.HierarchyIndications

	inbound chan inboundLie
}

type noopMetrics struct{}

func (noopMetrics) RecordLieTransition(string, lie.State, lie.State) {}
func (noopMetrics) RecordSendFailure(string)                         {}
func (noopMetrics) RecordZTPTransition(ztp.State, ztp.State)         {}
func (noopMetrics) RecordLevelChange(riftid.Level)                   {}
func (noopMetrics) RecordOfferPosted()                               {}

var (
	_ MetricsRecorder   = noopMetrics{}
	_ lie.MetricsRecorder = lieMetricsAdapter{}
	_ ztp.MetricsRecorder = ztpMetricsAdapter{}
)

// New constructs a Node with the given system id and configured level
// (riftid.Undefined if the node must derive its level from offers).
func New(name string, systemId riftid.SystemId, configuredLevel riftid.Level, logger *slog.Logger, opts ...Option) *Node {
	n := &Node{
		name:            name,
		systemId:        systemId,
		configuredLevel: configuredLevel,
		interfaces:      make(map[riftid.LinkId]*lie.Session),
		metrics:         noopMetrics{},
		clock:           timeclock.System{},
		logger:          logger.With(slog.String("node", name), slog.Uint64("system_id", uint64(systemId))),
		inbound:         make(chan inboundLie, inboundQueueSize),
	}
	for _, opt := range opts {
		opt(n)
	}

	n.ztp = ztp.New(systemId, configuredLevel, n, n, n.logger,
		ztp.WithMetrics(ztpMetricsAdapter{mr: n.metrics}),
		ztp.WithClock(n.clock),
	)
	if n.initialHierarchy != nil {
		n.ztp.Push(ztp.Event{Kind: ztp.EventChangeLocalHierarchyIndications, Hierarchy: *n.initialHierarchy})
	}
	return n
}

// Name returns the node's configured name.
func (n *Node) Name() string { return n.name }

// SystemId returns the node's system id.
func (n *Node) SystemId() riftid.SystemId { return n.systemId }

// EffectiveLevel returns the node's currently computed level.
func (n *Node) EffectiveLevel() riftid.Level { return n.ztp.EffectiveLevel() }

// ConfiguredLevel returns the node's statically configured level
// (riftid.Undefined if the node derives its level from offers).
func (n *Node) ConfiguredLevel() riftid.Level { return n.configuredLevel }

// ZTPState returns the node's ZTP FSM state.
func (n *Node) ZTPState() ztp.State { return n.ztp.State() }

// HAL, HAT, HALS return the node's current ZTP-published values.
func (n *Node) HAL() riftid.Level       { return n.ztp.HAL() }
func (n *Node) HAT() riftid.Level       { return n.ztp.HAT() }
func (n *Node) HALS() []riftid.SystemId { return n.ztp.HALS() }

// AddInterface creates a new LIE session for the given link, registers
// it under the node, and returns it for the caller to wire to its
// transport (netio). The node supplies itself as the session's
// lie.OfferSink and as the configured system id via cfg.SystemId.
func (n *Node) AddInterface(cfg lie.Config, io lie.PacketIO) (*lie.Session, error) {
	if _, exists := n.interfaces[cfg.LocalLinkId]; exists {
		return nil, fmt.Errorf("%w: link %d on node %q", ErrDuplicateInterface, cfg.LocalLinkId, n.name)
	}
	cfg.SystemId = n.systemId

	s, err := lie.New(cfg, io, n, n.logger,
		lie.WithMetrics(lieMetricsAdapter{mr: n.metrics, iface: cfg.Name}),
		lie.WithClock(n.clock),
	)
	if err != nil {
		return nil, fmt.Errorf("node %q: %w", n.name, err)
	}

	n.interfaces[cfg.LocalLinkId] = s
	n.order = append(n.order, cfg.LocalLinkId)

	if n.EffectiveLevel().IsDefined() {
		s.Push(lie.Event{Kind: lie.EventLevelChanged, Level: n.EffectiveLevel()})
	}
	return s, nil
}

// InboundSink returns a callback that hands a decoded LIE packet off to
// this node's event loop for the given link, safe to call from any
// goroutine (unlike lie.Session.Push, which is not). netio's receiver
// goroutines call this instead of pushing into a Session directly, since
// a Session has no locking of its own and is driven solely by its
// owning Node's serial loop. The node drains the queue on its next Tick;
// if the queue is full the packet is dropped and logged, the same
// tolerance an unacknowledged multicast listener has for a burst it
// can't keep up with.
func (n *Node) InboundSink(link riftid.LinkId) func(pkt *wire.LIEPacket, src netip.Addr) {
	return func(pkt *wire.LIEPacket, src netip.Addr) {
		select {
		case n.inbound <- inboundLie{link: link, pkt: pkt, src: src}:
		default:
			n.logger.Warn("inbound queue full, dropping LIE", slog.Uint64("link_id", uint64(link)))
		}
	}
}

func (n *Node) drainInbound() {
	for {
		select {
		case ev := <-n.inbound:
			if s, ok := n.interfaces[ev.link]; ok {
				s.Push(lie.Event{Kind: lie.EventLieRcvd, Packet: ev.pkt, SrcAddr: ev.src})
			}
		default:
			return
		}
	}
}

// Interface returns the LIE session for a given link id.
func (n *Node) Interface(link riftid.LinkId) (*lie.Session, error) {
	s, ok := n.interfaces[link]
	if !ok {
		return nil, fmt.Errorf("%w: link %d on node %q", ErrInterfaceNotFound, link, n.name)
	}
	return s, nil
}

// Interfaces returns every owned LIE session in creation order.
func (n *Node) Interfaces() []*lie.Session {
	out := make([]*lie.Session, 0, len(n.order))
	for _, link := range n.order {
		out = append(out, n.interfaces[link])
	}
	return out
}

// Tick drains any LIE packets queued by netio since the last Tick, pushes
// a TimerTick into the ZTP session and every LIE session, then drains.
// It is the node's periodic external clock input.
func (n *Node) Tick() {
	n.drainInbound()
	n.ztp.Push(ztp.Event{Kind: ztp.EventShortTic})
	for _, link := range n.order {
		n.interfaces[link].Push(lie.Event{Kind: lie.EventTimerTick})
	}
	n.Drain()
}

// Drain runs the round-robin serial event loop: drain the ZTP queue,
// then every LIE queue, and repeat until none of them have further
// pending work. Cross-FSM communication (PostOffer, the ClientNotifier
// callbacks) is synchronous — it appends directly to the target
// session's queue during the caller's Drain — so a second pass only
// ever picks up events produced by the first.
func (n *Node) Drain() {
	for {
		n.ztp.Drain()
		for _, link := range n.order {
			n.interfaces[link].Drain()
		}
		if !n.pending() {
			return
		}
	}
}

func (n *Node) pending() bool {
	if n.ztp.Pending() {
		return true
	}
	for _, link := range n.order {
		if n.interfaces[link].Pending() {
			return true
		}
	}
	return false
}

// -------------------------------------------------------------------------
// lie.OfferSink — forwards a LIE session's offer into the ZTP session.
// -------------------------------------------------------------------------

// PostOffer implements lie.OfferSink.
func (n *Node) PostOffer(o lie.NeighborOffer) {
	n.metrics.RecordOfferPosted()
	n.ztp.PostOffer(ztp.Offer{
		Key:                ztp.OfferKey{SystemId: o.SystemId, LinkId: o.LinkId},
		Level:              o.Level,
		NotAZTPOffer:       o.NotAZTPOffer,
		ExpirationDeadline: o.Expiration,
		ThreeWay:           o.ThreeWay,
	})
}

// -------------------------------------------------------------------------
// ztp.ClientNotifier — fans published tuple deltas out to every LIE FSM.
// -------------------------------------------------------------------------

// LevelChanged implements ztp.ClientNotifier.
func (n *Node) LevelChanged(level riftid.Level) {
	for _, link := range n.order {
		n.interfaces[link].Push(lie.Event{Kind: lie.EventLevelChanged, Level: level})
	}
}

// HALChanged implements ztp.ClientNotifier.
func (n *Node) HALChanged(hal riftid.Level) {
	for _, link := range n.order {
		n.interfaces[link].Push(lie.Event{Kind: lie.EventHALChanged, Level: hal})
	}
}

// HATChanged implements ztp.ClientNotifier.
func (n *Node) HATChanged(hat riftid.Level) {
	for _, link := range n.order {
		n.interfaces[link].Push(lie.Event{Kind: lie.EventHATChanged, Level: hat})
	}
}

// HALSChanged implements ztp.ClientNotifier.
func (n *Node) HALSChanged(hals []riftid.SystemId) {
	for _, link := range n.order {
		n.interfaces[link].Push(lie.Event{Kind: lie.EventHALSChanged, HALS: hals})
	}
}

// -------------------------------------------------------------------------
// ztp.AdjacencyObserver
// -------------------------------------------------------------------------

// HasSouthboundAdjacency implements ztp.AdjacencyObserver: true if any
// owned LIE session is ThreeWay with a neighbor at a strictly lower
// level, i.e. this node has at least one adjacency toward the leaves.
// While this node's own level is undefined, any ThreeWay neighbor with a
// defined level counts.
func (n *Node) HasSouthboundAdjacency() bool {
	level := n.EffectiveLevel()
	for _, link := range n.order {
		s := n.interfaces[link]
		if s.State() != lie.ThreeWay {
			continue
		}
		neighbor := s.Neighbor()
		if neighbor == nil || !neighbor.Level.IsDefined() {
			continue
		}
		if !level.IsDefined() || neighbor.Level.Less(level) {
			return true
		}
	}
	return false
}
