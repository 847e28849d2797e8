package ztp

import (
	"log/slog"
	"time"

	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/timeclock"
)

// DefaultHoldDownDuration is the normal holddown period armed on LostHAL
// when the node still has southbound adjacencies (spec.md §4.2).
const DefaultHoldDownDuration = 3 * time.Second

// HierarchyIndications carries the node's configured leaf-ness, the
// abstracted form of the RIFT draft's leaf flags (spec.md §4.2
// ChangeLocalHierarchyIndications).
type HierarchyIndications struct {
	Leaf bool
}

// ClientNotifier receives the tuple published whenever the ZTP FSM enters
// UpdatingClients. The owning Node implements this by fanning the deltas
// out to every LIE FSM it owns (spec.md §4.2 Entry-into-UpdatingClients).
type ClientNotifier interface {
	LevelChanged(level riftid.Level)
	HALChanged(hal riftid.Level)
	HATChanged(hat riftid.Level)
	HALSChanged(hals []riftid.SystemId)
}

// AdjacencyObserver reports whether the node currently has any
// southbound (lower-level) ThreeWay adjacency, which decides whether a
// lost-HAL holddown is armed for its normal duration or fires
// immediately (spec.md §4.2).
type AdjacencyObserver interface {
	HasSouthboundAdjacency() bool
}

// MetricsRecorder receives ZTP-level observability events.
type MetricsRecorder interface {
	RecordTransition(oldState, newState State)
	RecordLevelChange(level riftid.Level)
}

type noopMetrics struct{}

func (noopMetrics) RecordTransition(State, State)    {}
func (noopMetrics) RecordLevelChange(riftid.Level)   {}

// Event is a queued occurrence for the ZTP FSM.
type Event struct {
	Kind EventKind

	// Populated for EventChangeLocalConfiguredLevel.
	Level riftid.Level

	// Populated for EventChangeLocalHierarchyIndications.
	Hierarchy HierarchyIndications

	// Populated for EventNeighborOffer.
	Offer Offer
}

// Option configures optional Session parameters.
type Option func(*Session)

// WithMetrics attaches a MetricsRecorder. A nil mr keeps the no-op default.
func WithMetrics(mr MetricsRecorder) Option {
	return func(s *Session) {
		if mr != nil {
			s.metrics = mr
		}
	}
}

// WithClock overrides the session's time source.
func WithClock(c timeclock.Clock) Option {
	return func(s *Session) {
		if c != nil {
			s.clock = c
		}
	}
}

// WithHoldDownDuration overrides DefaultHoldDownDuration.
func WithHoldDownDuration(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.holdDownDuration = d
		}
	}
}

// Session is one node's ZTP FSM: the event queue, offer table, and the
// PROCESS_OFFER/LEVEL_COMPUTE/COMPARE_OFFERS/UPDATE_OFFER/REMOVE_OFFER/
// PURGE_OFFERS auxiliary procedures that interpret queued events
// (spec.md §4.2). Driven entirely by the owning Node's serial event loop.
type Session struct {
	systemId riftid.SystemId

	state State

	configuredLevel riftid.Level
	hierarchy       HierarchyIndications
	effectiveLevel  riftid.Level

	offers *offerTable

	holdDownDeadline *time.Time
	holdDownDuration time.Duration

	publishedLevel riftid.Level
	publishedHAL   riftid.Level
	publishedHAT   riftid.Level
	publishedHALS  []riftid.SystemId

	queue []Event

	notifier  ClientNotifier
	adjacency AdjacencyObserver
	metrics   MetricsRecorder
	clock     timeclock.Clock
	logger    *slog.Logger
}

// New constructs a Session in its initial ComputeBestOffer state, with
// the given configured level (riftid.Undefined if the node has none).
func New(systemId riftid.SystemId, configuredLevel riftid.Level, notifier ClientNotifier, adjacency AdjacencyObserver, logger *slog.Logger, opts ...Option) *Session {
	s := &Session{
		systemId:         systemId,
		state:            ComputeBestOffer,
		configuredLevel:  configuredLevel,
		effectiveLevel:   riftid.Undefined,
		offers:           newOfferTable(systemId),
		holdDownDuration: DefaultHoldDownDuration,
		publishedLevel:   riftid.Undefined,
		publishedHAL:     riftid.Undefined,
		publishedHAT:     riftid.Undefined,
		notifier:         notifier,
		adjacency:        adjacency,
		metrics:          noopMetrics{},
		clock:            timeclock.System{},
		logger:           logger.With(slog.Uint64("system_id", uint64(systemId))),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.levelCompute()
	return s
}

// State returns the current FSM state.
func (s *Session) State() State { return s.state }

// EffectiveLevel returns the node's current computed level.
func (s *Session) EffectiveLevel() riftid.Level { return s.effectiveLevel }

// HAL, HAT, HALS return the ZTP FSM's current published values.
func (s *Session) HAL() riftid.Level       { return s.publishedHAL }
func (s *Session) HAT() riftid.Level       { return s.publishedHAT }
func (s *Session) HALS() []riftid.SystemId { return s.publishedHALS }

// Push enqueues an event.
func (s *Session) Push(ev Event) {
	s.queue = append(s.queue, ev)
}

// Pending reports whether any events are queued for processing.
func (s *Session) Pending() bool { return len(s.queue) > 0 }

// PostOffer queues an EventNeighborOffer carrying o. The owning Node
// adapts lie.NeighborOffer values from each LIE FSM into an Offer and
// calls this, the wiring point between C4 and C5.
func (s *Session) PostOffer(o Offer) {
	s.Push(Event{Kind: EventNeighborOffer, Offer: o})
}

// Drain processes every event currently queued, including events pushed
// while processing earlier ones in the same call.
func (s *Session) Drain() {
	for len(s.queue) > 0 {
		ev := s.queue[0]
		s.queue = s.queue[1:]
		s.handle(ev)
	}
}

func (s *Session) handle(ev Event) {
	old := s.state
	res := ApplyEvent(s.state, ev.Kind)
	s.state = res.NewState

	for _, act := range res.Actions {
		s.execute(act, ev)
	}

	if res.Changed {
		s.metrics.RecordTransition(old, s.state)
		s.logger.Debug("ztp fsm transition", slog.String("from", old.String()), slog.String("to", s.state.String()))
	}
}

func (s *Session) execute(act Action, ev Event) {
	switch act {
	case ActionProcessOffer:
		s.pushAll(s.offers.processOffer(ev.Offer))
	case ActionExpireOffers:
		s.pushAll(s.offers.expireOffers(s.clock.Now()))
		if s.state == HoldingDown && s.holdDownDeadline != nil && !s.clock.Now().Before(*s.holdDownDeadline) {
			s.Push(Event{Kind: EventHoldDownExpired})
		}
	case ActionStoreConfiguredLevel:
		s.configuredLevel = ev.Level
	case ActionStoreLeafFlags:
		s.hierarchy = ev.Hierarchy
		if ev.Hierarchy.Leaf {
			s.pushAll(s.offers.purgeOffers())
		}
	case ActionLevelCompute:
		s.levelCompute()
	case ActionPublishTuple:
		s.publishTuple()
	case ActionArmHoldDown:
		s.armHoldDown()
	}
}

func (s *Session) pushAll(kinds []EventKind) {
	for _, k := range kinds {
		s.Push(Event{Kind: k})
	}
}

// levelCompute implements LEVEL_COMPUTE (spec.md §4.2).
func (s *Session) levelCompute() {
	switch {
	case s.configuredLevel.IsDefined():
		s.effectiveLevel = s.configuredLevel
	case s.hierarchy.Leaf:
		s.effectiveLevel = riftid.Leaf
	default:
		if hal, ok := s.offers.hal.Value(); ok && hal >= 1 {
			s.effectiveLevel = s.offers.hal.Minus1()
		} else {
			s.effectiveLevel = riftid.Undefined
		}
	}
	s.metrics.RecordLevelChange(s.effectiveLevel)
	s.Push(Event{Kind: EventComputationDone})
}

// publishTuple implements the Entry-into-UpdatingClients action: notify
// every LIE FSM of whatever changed since the last publication.
func (s *Session) publishTuple() {
	if !s.effectiveLevel.Equal(s.publishedLevel) {
		s.publishedLevel = s.effectiveLevel
		s.notifier.LevelChanged(s.effectiveLevel)
	}
	if !s.offers.hal.Equal(s.publishedHAL) {
		s.publishedHAL = s.offers.hal
		s.notifier.HALChanged(s.offers.hal)
	}
	if !s.offers.hat.Equal(s.publishedHAT) {
		s.publishedHAT = s.offers.hat
		s.notifier.HATChanged(s.offers.hat)
	}
	if !sameSystemIdSet(s.publishedHALS, s.offers.hals) {
		s.publishedHALS = s.offers.hals
		s.notifier.HALSChanged(s.offers.hals)
	}
}

func (s *Session) armHoldDown() {
	if s.adjacency != nil && s.adjacency.HasSouthboundAdjacency() {
		deadline := s.clock.Now().Add(s.holdDownDuration)
		s.holdDownDeadline = &deadline
		return
	}
	now := s.clock.Now()
	s.holdDownDeadline = &now
	s.Push(Event{Kind: EventHoldDownExpired})
}

func sameSystemIdSet(a, b []riftid.SystemId) bool {
	if len(a) != len(b) {
		return false
	}
	seen := make(map[riftid.SystemId]bool, len(a))
	for _, v := range a {
		seen[v] = true
	}
	for _, v := range b {
		if !seen[v] {
			return false
		}
	}
	return true
}
