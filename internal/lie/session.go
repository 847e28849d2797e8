package lie

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"time"

	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/timeclock"
	"github.com/rift-sim/riftsim/internal/wire"
)

// -------------------------------------------------------------------------
// Collaborator interfaces
// -------------------------------------------------------------------------

// PacketIO abstracts handing an outbound LIE to the interface's transport,
// decoupling the FSM from netio so SEND_LIE stays pure with respect to
// FSM state (spec.md §4.1).
type PacketIO interface {
	Send(pkt *wire.LIEPacket) error
}

// NeighborOffer is what a LIE FSM reports to its node's ZTP FSM every time
// UpdateZTPOffer runs (spec.md §4.1 "Sending an offer to the ZTP FSM").
type NeighborOffer struct {
	SystemId     riftid.SystemId
	LinkId       riftid.LinkId
	Level        riftid.Level
	NotAZTPOffer bool
	Expiration   time.Time
	ThreeWay     bool
}

// OfferSink receives offers posted by a LIE FSM. The owning Node
// implements this by forwarding into its ZTP FSM's event queue.
type OfferSink interface {
	PostOffer(offer NeighborOffer)
}

// MetricsRecorder receives session-level observability events. A nil
// recorder is replaced with a no-op implementation.
type MetricsRecorder interface {
	RecordTransition(oldState, newState State)
	RecordSendFailure()
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(State, State) {}
func (noopMetrics) RecordSendFailure()             {}

// -------------------------------------------------------------------------
// Configuration
// -------------------------------------------------------------------------

// DefaultMultipleNeighborsMultiplier is the multiplier applied to the
// interface's own holdtime to size the multiple-neighbors timer
// (spec.md §4.1: "multiple_neighbors_lie_holdtime_multiplier ×
// default_lie_holdtime").
const DefaultMultipleNeighborsMultiplier = 4

// DefaultLieHoldTime is "default_lie_holdtime" (spec.md §4.1), the
// holdtime an interface advertises when the topology file leaves it
// unspecified — the topology schema (spec.md §6) carries no per-interface
// holdtime field, so every interface uses this constant.
const DefaultLieHoldTime uint16 = 3

// DefaultMTU is the MTU value advertised on an interface whose topology
// entry does not override it.
const DefaultMTU uint32 = 1400

// Config holds the static, topology-derived parameters of one interface's
// LIE session.
type Config struct {
	SystemId            riftid.SystemId
	LocalLinkId         riftid.LinkId
	Name                string
	MTU                 uint32
	FloodPort           uint16
	HoldTime            uint16
	YouAreFloodRepeater bool

	// MultipleNeighborsMultiplier overrides DefaultMultipleNeighborsMultiplier
	// when nonzero.
	MultipleNeighborsMultiplier int
}

// Option configures optional Session parameters beyond Config.
type Option func(*Session)

// WithMetrics attaches a MetricsRecorder. A nil mr keeps the no-op default.
func WithMetrics(mr MetricsRecorder) Option {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithClock overrides the session's time source, used by tests to drive
// deadlines deterministically.
func WithClock(c timeclock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// Sentinel errors for Config validation.
var (
	ErrZeroMTU      = errors.New("lie session: configured MTU must be > 0")
	ErrEmptyName    = errors.New("lie session: interface name must not be empty")
	ErrZeroHoldTime = errors.New("lie session: holdtime must be > 0")
)

func validateConfig(cfg Config) error {
	if cfg.MTU == 0 {
		return ErrZeroMTU
	}
	if cfg.Name == "" {
		return ErrEmptyName
	}
	if cfg.HoldTime == 0 {
		return ErrZeroHoldTime
	}
	return nil
}

// -------------------------------------------------------------------------
// NeighborRecord — spec.md §3
// -------------------------------------------------------------------------

// NeighborRecord holds the fields of the most recently accepted LIE plus
// reception metadata. It is the value PROCESS_LIE diffs subsequent LIEs
// against.
type NeighborRecord struct {
	SystemId   riftid.SystemId
	Level      riftid.Level
	LinkId     riftid.LinkId
	SourceAddr netip.Addr
	FloodPort  uint16
	Name       string
	HoldTime   uint16
	LastRxTime time.Time
}

// -------------------------------------------------------------------------
// Event
// -------------------------------------------------------------------------

// Event is a queued occurrence for the LIE FSM. Only the fields relevant
// to Kind are populated; see the EventKind constants for which.
type Event struct {
	Kind EventKind

	// Populated for EventLieRcvd.
	Packet  *wire.LIEPacket
	SrcAddr netip.Addr

	// Populated for EventLevelChanged/HALChanged/HATChanged.
	Level riftid.Level

	// Populated for EventHALSChanged.
	HALS []riftid.SystemId
}

// -------------------------------------------------------------------------
// Session
// -------------------------------------------------------------------------

// Session is one interface's LIE FSM: the event queue, neighbor record,
// deadlines, and the SEND_LIE/PROCESS_LIE/CHECK_THREE_WAY/CLEANUP
// auxiliary procedures that interpret queued events (spec.md §4.1).
//
// A Session is driven entirely by its owning Node's serial event loop
// (spec.md §5): Push enqueues, Drain processes the queue to completion.
// There is no internal goroutine.
type Session struct {
	cfg Config

	state    State
	neighbor *NeighborRecord

	level riftid.Level
	hal   riftid.Level
	hat   riftid.Level
	hals  []riftid.SystemId

	holdtimeDeadline          *time.Time
	multipleNeighborsDeadline *time.Time

	queue []Event

	io      PacketIO
	offers  OfferSink
	metrics MetricsRecorder
	clock   timeclock.Clock
	logger  *slog.Logger

	transitions uint64
}

// New constructs a Session in its initial OneWay state.
func New(cfg Config, io PacketIO, offers OfferSink, logger *slog.Logger, opts ...Option) (*Session, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("lie session %q: %w", cfg.Name, err)
	}
	if cfg.MultipleNeighborsMultiplier == 0 {
		cfg.MultipleNeighborsMultiplier = DefaultMultipleNeighborsMultiplier
	}

	s := &Session{
		cfg:     cfg,
		state:   OneWay,
		level:   riftid.Undefined,
		hal:     riftid.Undefined,
		hat:     riftid.Undefined,
		io:      io,
		offers:  offers,
		metrics: noopMetrics{},
		clock:   timeclock.System{},
		logger:  logger.With(slog.String("interface", cfg.Name), slog.Uint64("link_id", uint64(cfg.LocalLinkId))),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current FSM state.
func (s *Session) State() State { return s.state }

// Neighbor returns the current neighbor record, or nil in OneWay.
func (s *Session) Neighbor() *NeighborRecord { return s.neighbor }

// HAL, HAT, HALS return the last values published by the node's ZTP FSM.
func (s *Session) HAL() riftid.Level        { return s.hal }
func (s *Session) HAT() riftid.Level        { return s.hat }
func (s *Session) HALS() []riftid.SystemId  { return s.hals }

// Push enqueues an externally generated event (TimerTick, LieRcvd,
// LevelChanged, HALChanged, HATChanged, HALSChanged, FloodLeadersChanged).
func (s *Session) Push(ev Event) {
	s.queue = append(s.queue, ev)
}

// Pending reports whether the event queue is non-empty.
func (s *Session) Pending() bool { return len(s.queue) > 0 }

// Name returns the configured interface name.
func (s *Session) Name() string { return s.cfg.Name }

// LinkId returns the configured local link id.
func (s *Session) LinkId() riftid.LinkId { return s.cfg.LocalLinkId }

// Drain processes every event currently queued, including events pushed
// by the processing of earlier events in this same call (spec.md §5:
// "PUSH appends to the tail: pushed events are observed after every event
// already queued"). It returns once the queue is empty.
func (s *Session) Drain() {
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.handle(ev)
	}
}

func (s *Session) handle(ev Event) {
	switch ev.Kind {
	case EventLevelChanged:
		s.level = ev.Level
	case EventHALChanged:
		s.hal = ev.Level
	case EventHATChanged:
		s.hat = ev.Level
	case EventHALSChanged:
		s.hals = ev.HALS
	}

	old := s.state
	res := ApplyEvent(s.state, ev.Kind)
	s.state = res.NewState

	for _, act := range res.Actions {
		s.execute(act, ev)
	}

	if res.Changed {
		s.onTransition(old, res.NewState)
	}

	if ev.Kind == EventTimerTick {
		s.checkDeadlines()
	}
}

func (s *Session) execute(act Action, ev Event) {
	switch act {
	case ActionProcessLie:
		s.processLie(ev.Packet, ev.SrcAddr)
	case ActionTransmitLie:
		s.transmit()
	case ActionQueueSendLie:
		s.Push(Event{Kind: EventSendLie})
	case ActionPostZTPOffer:
		s.postZTPOffer()
	case ActionCleanup:
		s.cleanup()
	case ActionArmMultipleNeighborsTimer:
		s.armMultipleNeighborsTimer()
	case ActionClearMultipleNeighborsTimer:
		s.multipleNeighborsDeadline = nil
	}
}

func (s *Session) onTransition(old, next State) {
	s.transitions++
	s.metrics.RecordTransition(old, next)
	s.logger.Debug("lie fsm transition", slog.String("from", old.String()), slog.String("to", next.String()))
}

// -------------------------------------------------------------------------
// SEND_LIE
// -------------------------------------------------------------------------

func (s *Session) transmit() {
	pkt := s.buildLiePacket()
	if err := s.io.Send(pkt); err != nil {
		s.metrics.RecordSendFailure()
		s.logger.Warn("send lie failed", slog.String("error", err.Error()))
	}
}

// buildLiePacket implements SEND_LIE: it is pure with respect to FSM
// state (reads only, never mutates).
func (s *Session) buildLiePacket() *wire.LIEPacket {
	pkt := &wire.LIEPacket{
		SenderSystemId:      uint64(s.cfg.SystemId),
		SenderLevel:         wireLevel(s.level),
		LocalLinkId:         uint32(s.cfg.LocalLinkId),
		HoldTime:            s.cfg.HoldTime,
		FloodPort:           s.cfg.FloodPort,
		Name:                s.cfg.Name,
		MTU:                 s.cfg.MTU,
		YouAreFloodRepeater: s.cfg.YouAreFloodRepeater,
	}
	if s.neighbor != nil {
		pkt.Neighbor = &wire.NeighborRef{
			SystemId: uint64(s.neighbor.SystemId),
			LinkId:   uint32(s.neighbor.LinkId),
		}
	}
	return pkt
}

// -------------------------------------------------------------------------
// PROCESS_LIE — spec.md §4.1
// -------------------------------------------------------------------------

func (s *Session) processLie(pkt *wire.LIEPacket, src netip.Addr) {
	if pkt == nil {
		return
	}

	// Step 1: MTU mismatch.
	if pkt.MTU != s.cfg.MTU {
		s.Push(Event{Kind: EventMTUMismatch})
		return
	}

	// Step 2: self-loop.
	if riftid.SystemId(pkt.SenderSystemId) == s.cfg.SystemId {
		s.Push(Event{Kind: EventUnacceptableHeader})
		return
	}

	senderLevel := levelFromWire(pkt.SenderLevel)

	// Step 3: header acceptability.
	if s.unacceptableHeader(senderLevel) {
		s.cleanup()
		s.Push(Event{Kind: EventUpdateZTPOffer})
		s.Push(Event{Kind: EventUnacceptableHeader})
		return
	}

	// Step 4: push UpdateZTPOffer, then diff against the current neighbor.
	s.Push(Event{Kind: EventUpdateZTPOffer})

	candidate := &NeighborRecord{
		SystemId:   riftid.SystemId(pkt.SenderSystemId),
		Level:      senderLevel,
		LinkId:     riftid.LinkId(pkt.LocalLinkId),
		SourceAddr: src,
		FloodPort:  pkt.FloodPort,
		Name:       pkt.Name,
		HoldTime:   pkt.HoldTime,
		LastRxTime: s.clock.Now(),
	}

	if s.neighbor == nil {
		s.neighbor = candidate
		s.Push(Event{Kind: EventNewNeighbor})
		// Step 5's CHECK_THREE_WAY call is redundant here: CHECK_THREE_WAY
		// in OneWay/TwoWay never concludes anything from a LIE that just
		// became the first-ever neighbor record, so this short-circuits
		// per spec.md §9 open question 2.
		return
	}

	switch {
	case s.neighbor.SystemId != candidate.SystemId:
		s.Push(Event{Kind: EventMultipleNeighbors})
	case !s.neighbor.Level.Equal(candidate.Level):
		s.Push(Event{Kind: EventNeighborChangedLevel})
	case s.neighbor.SourceAddr != candidate.SourceAddr:
		s.Push(Event{Kind: EventNeighborChangedAddress})
	case s.neighbor.FloodPort != candidate.FloodPort ||
		s.neighbor.Name != candidate.Name ||
		s.neighbor.LinkId != candidate.LinkId:
		s.Push(Event{Kind: EventNeighborChangedMinorFields})
	}

	candidate.LastRxTime = s.clock.Now()
	s.neighbor = candidate

	// Step 5: CHECK_THREE_WAY, unconditional.
	s.checkThreeWay(pkt)
}

// unacceptableHeader implements PROCESS_LIE step 3's four-clause test.
func (s *Session) unacceptableHeader(senderLevel riftid.Level) bool {
	if !senderLevel.IsDefined() || !s.level.IsDefined() {
		return true
	}
	if s.level.IsLeaf() && s.hat.IsDefined() && senderLevel.Less(s.hat) {
		return true
	}
	if !senderLevel.IsLeaf() && senderLevel.Diff(s.level) > 1 {
		return true
	}
	return false
}

// -------------------------------------------------------------------------
// CHECK_THREE_WAY — spec.md §4.1 (de-facto behavior, §9 open question 1)
// -------------------------------------------------------------------------

func (s *Session) checkThreeWay(pkt *wire.LIEPacket) {
	switch s.state {
	case OneWay:
		// do nothing
	case TwoWay:
		switch {
		case pkt.Neighbor == nil:
			// do nothing
		case s.reflectsThisInterface(pkt):
			s.Push(Event{Kind: EventValidReflection})
		default:
			s.Push(Event{Kind: EventMultipleNeighbors})
		}
	case ThreeWay:
		switch {
		case pkt.Neighbor == nil:
			s.Push(Event{Kind: EventNeighborDroppedReflection})
		case s.reflectsThisInterface(pkt):
			// do nothing
		default:
			s.Push(Event{Kind: EventMultipleNeighbors})
		}
	case MultipleNeighborsWait:
		// Not defined by spec.md §4.1; contention is resolved solely by
		// the multiple-neighbors timer, not further LIE content.
	}
}

func (s *Session) reflectsThisInterface(pkt *wire.LIEPacket) bool {
	return pkt.Neighbor != nil &&
		riftid.SystemId(pkt.Neighbor.SystemId) == s.cfg.SystemId &&
		riftid.LinkId(pkt.Neighbor.LinkId) == s.cfg.LocalLinkId
}

// -------------------------------------------------------------------------
// CLEANUP — spec.md §4.1
// -------------------------------------------------------------------------

func (s *Session) cleanup() {
	if s.offers != nil && s.neighbor != nil {
		// spec.md §9 open question 5: emit a final offer at the
		// last-seen level, expired immediately, so the ZTP FSM removes
		// it on its next ShortTic.
		s.offers.PostOffer(NeighborOffer{
			SystemId:   s.neighbor.SystemId,
			LinkId:     s.neighbor.LinkId,
			Level:      s.neighbor.Level,
			Expiration: s.clock.Now(),
		})
	}
	s.neighbor = nil
	s.holdtimeDeadline = nil
}

// -------------------------------------------------------------------------
// UpdateZTPOffer action
// -------------------------------------------------------------------------

func (s *Session) postZTPOffer() {
	if s.offers == nil || s.neighbor == nil {
		return
	}
	s.offers.PostOffer(NeighborOffer{
		SystemId:   s.neighbor.SystemId,
		LinkId:     s.neighbor.LinkId,
		Level:      s.neighbor.Level,
		Expiration: s.clock.Now().Add(time.Duration(s.neighbor.HoldTime) * time.Second),
		ThreeWay:   s.state == ThreeWay,
	})
}

// -------------------------------------------------------------------------
// Timers
// -------------------------------------------------------------------------

func (s *Session) armMultipleNeighborsTimer() {
	d := time.Duration(s.cfg.MultipleNeighborsMultiplier) * time.Duration(s.cfg.HoldTime) * time.Second
	deadline := s.clock.Now().Add(d)
	s.multipleNeighborsDeadline = &deadline
}

func (s *Session) checkDeadlines() {
	switch s.state {
	case TwoWay, ThreeWay:
		if s.neighbor == nil {
			return
		}
		holdtime := time.Duration(s.neighbor.HoldTime) * time.Second
		if s.clock.Now().Sub(s.neighbor.LastRxTime) > holdtime {
			s.Push(Event{Kind: EventHoldtimeExpired})
		}
	case MultipleNeighborsWait:
		if s.multipleNeighborsDeadline != nil && !s.clock.Now().Before(*s.multipleNeighborsDeadline) {
			s.Push(Event{Kind: EventMultipleNeighborsDone})
		}
	case OneWay:
		// no adjacency-scoped deadlines to check
	}
}

// -------------------------------------------------------------------------
// Wire-level helpers
// -------------------------------------------------------------------------

func wireLevel(l riftid.Level) int {
	if v, ok := l.Value(); ok {
		return v
	}
	return -1
}

func levelFromWire(v int) riftid.Level {
	if v < 0 {
		return riftid.Undefined
	}
	lvl, err := riftid.NewLevel(v)
	if err != nil {
		return riftid.Undefined
	}
	return lvl
}
