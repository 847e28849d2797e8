// Package lie implements the per-interface LIE ("Link Information
// Element") adjacency formation state machine. The FSM itself (this file)
// is a pure function over a transition table, grounded on the same
// approach the BFD session FSM in this codebase's lineage uses: states and
// events are closed discriminated sums, transitions are a dense map, and
// the caller executes whatever side effects the table names.
package lie

// State is one of the four LIE FSM states (spec.md §4.1).
type State uint8

const (
	// OneWay is the initial state: no neighbor record is held.
	OneWay State = iota
	// TwoWay is reached once a candidate neighbor has been heard.
	TwoWay
	// ThreeWay is reached once the neighbor has reflected this
	// interface's own system id and link id back.
	ThreeWay
	// MultipleNeighborsWait is entered when more than one distinct
	// sender contends on the same link.
	MultipleNeighborsWait
)

// String returns the human-readable state name.
func (s State) String() string {
	switch s {
	case OneWay:
		return "OneWay"
	case TwoWay:
		return "TwoWay"
	case ThreeWay:
		return "ThreeWay"
	case MultipleNeighborsWait:
		return "MultipleNeighborsWait"
	default:
		return "Unknown"
	}
}

// EventKind names a LIE FSM event. Payload (packet contents, changed
// level, etc.) travels alongside the kind in Event; ApplyEvent keys only
// on the kind, exactly as the transition table is indexed.
type EventKind uint8

const (
	// EventTimerTick is the periodic external clock tick.
	EventTimerTick EventKind = iota
	// EventLieRcvd is a received LIE packet, dispatched to PROCESS_LIE.
	EventLieRcvd
	// EventMTUMismatch fires when PROCESS_LIE step 1 detects a mismatch.
	EventMTUMismatch
	// EventLevelChanged carries this node's newly computed level.
	EventLevelChanged
	// EventHALChanged carries the ZTP FSM's newly published HAL.
	EventHALChanged
	// EventHATChanged carries the ZTP FSM's newly published HAT.
	EventHATChanged
	// EventHALSChanged carries the ZTP FSM's newly published HALS.
	EventHALSChanged
	// EventFloodLeadersChanged is accepted and stored but not further
	// interpreted by the core (out of scope: flooding topology).
	EventFloodLeadersChanged
	// EventSendLie is the internal event whose processing invokes
	// SEND_LIE. TimerTick handling pushes this rather than transmitting
	// directly, keeping all outbound sends on the uniform event path.
	EventSendLie
	// EventUpdateZTPOffer is the internal event whose processing posts
	// the current offer to the node's ZTP FSM.
	EventUpdateZTPOffer
	// EventNewNeighbor fires when PROCESS_LIE accepts a first neighbor.
	EventNewNeighbor
	// EventValidReflection fires when CHECK_THREE_WAY confirms the peer
	// reflects this interface.
	EventValidReflection
	// EventMultipleNeighbors fires when a second distinct sender
	// contends on the link.
	EventMultipleNeighbors
	// EventMultipleNeighborsDone fires when the multiple-neighbors
	// timer expires without resolution.
	EventMultipleNeighborsDone
	// EventNeighborDroppedReflection fires when CHECK_THREE_WAY in
	// ThreeWay observes a LIE with no neighbor reflection.
	EventNeighborDroppedReflection
	// EventNeighborChangedAddress fires when the neighbor's source
	// address changed between two accepted LIEs.
	EventNeighborChangedAddress
	// EventNeighborChangedLevel fires when the neighbor's advertised
	// level changed.
	EventNeighborChangedLevel
	// EventNeighborChangedMinorFields fires on a change to flood_port,
	// name, or local_link_id that does not by itself invalidate trust.
	EventNeighborChangedMinorFields
	// EventNeighborChangedBFDCapability is never produced by this core;
	// retained as a no-op per spec.md §9 open question 6.
	EventNeighborChangedBFDCapability
	// EventUnacceptableHeader fires on self-loop or header-validity
	// rejections in PROCESS_LIE steps 2-3.
	EventUnacceptableHeader
	// EventHoldtimeExpired fires when TimerTick observes the neighbor's
	// holdtime has elapsed since last_rx_time.
	EventHoldtimeExpired
)

// String returns the human-readable event name.
func (e EventKind) String() string {
	switch e {
	case EventTimerTick:
		return "TimerTick"
	case EventLieRcvd:
		return "LieRcvd"
	case EventMTUMismatch:
		return "MTUMismatch"
	case EventLevelChanged:
		return "LevelChanged"
	case EventHALChanged:
		return "HALChanged"
	case EventHATChanged:
		return "HATChanged"
	case EventHALSChanged:
		return "HALSChanged"
	case EventFloodLeadersChanged:
		return "FloodLeadersChanged"
	case EventSendLie:
		return "SendLie"
	case EventUpdateZTPOffer:
		return "UpdateZTPOffer"
	case EventNewNeighbor:
		return "NewNeighbor"
	case EventValidReflection:
		return "ValidReflection"
	case EventMultipleNeighbors:
		return "MultipleNeighbors"
	case EventMultipleNeighborsDone:
		return "MultipleNeighborsDone"
	case EventNeighborDroppedReflection:
		return "NeighborDroppedReflection"
	case EventNeighborChangedAddress:
		return "NeighborChangedAddress"
	case EventNeighborChangedLevel:
		return "NeighborChangedLevel"
	case EventNeighborChangedMinorFields:
		return "NeighborChangedMinorFields"
	case EventNeighborChangedBFDCapability:
		return "NeighborChangedBFDCapability"
	case EventUnacceptableHeader:
		return "UnacceptableHeader"
	case EventHoldtimeExpired:
		return "HoldtimeExpired"
	default:
		return "Unknown"
	}
}

// Action is a side effect the Session must execute after a transition.
// The FSM table names only the action kind; any payload it needs (the
// level carried by a LevelChanged event, the packet of a LieRcvd event)
// is already available to the Session from the Event it is dispatching,
// so Action carries no data of its own.
type Action uint8

const (
	// ActionProcessLie invokes the PROCESS_LIE auxiliary procedure.
	ActionProcessLie Action = iota + 1
	// ActionTransmitLie invokes the SEND_LIE auxiliary procedure.
	ActionTransmitLie
	// ActionQueueSendLie pushes EventSendLie to this FSM's own queue.
	ActionQueueSendLie
	// ActionPostZTPOffer invokes the "send offer to ZTP FSM" procedure.
	ActionPostZTPOffer
	// ActionCleanup invokes CLEANUP.
	ActionCleanup
	// ActionArmMultipleNeighborsTimer (re)arms the multiple-neighbors
	// deadline.
	ActionArmMultipleNeighborsTimer
	// ActionClearMultipleNeighborsTimer clears the multiple-neighbors
	// deadline, run when leaving MultipleNeighborsWait.
	ActionClearMultipleNeighborsTimer
)

// String returns the human-readable action name.
func (a Action) String() string {
	switch a {
	case ActionProcessLie:
		return "ProcessLie"
	case ActionTransmitLie:
		return "TransmitLie"
	case ActionQueueSendLie:
		return "QueueSendLie"
	case ActionPostZTPOffer:
		return "PostZTPOffer"
	case ActionCleanup:
		return "Cleanup"
	case ActionArmMultipleNeighborsTimer:
		return "ArmMultipleNeighborsTimer"
	case ActionClearMultipleNeighborsTimer:
		return "ClearMultipleNeighborsTimer"
	default:
		return "Unknown"
	}
}

type stateEvent struct {
	state State
	event EventKind
}

type transition struct {
	newState State
	actions  []Action
}

// FSMResult holds the outcome of applying an event to the FSM.
type FSMResult struct {
	OldState State
	NewState State
	Actions  []Action
	Changed  bool
}

// fsmTable is the complete LIE FSM transition table (spec.md §4.1).
//
// EventLieRcvd and EventSendLie are handled uniformly in every state:
// the table only routes them to the PROCESS_LIE / SEND_LIE auxiliary
// procedures, which carry out whatever state change actually follows by
// pushing further (internal) events — NewNeighbor, ValidReflection,
// MultipleNeighbors, and friends — that this same table then interprets
// on the FSM's next drain. This mirrors the real protocol behavior:
// receiving a LIE never by itself changes state, only what PROCESS_LIE
// concludes about it does.
//
//nolint:gochecknoglobals // FSM transition table is intentionally package-level.
var fsmTable = map[stateEvent]transition{
	// -- EventLieRcvd / EventSendLie: uniform in every state --------------
	{OneWay, EventLieRcvd}:                {OneWay, []Action{ActionProcessLie}},
	{TwoWay, EventLieRcvd}:                {TwoWay, []Action{ActionProcessLie}},
	{ThreeWay, EventLieRcvd}:              {ThreeWay, []Action{ActionProcessLie}},
	{MultipleNeighborsWait, EventLieRcvd}: {MultipleNeighborsWait, []Action{ActionProcessLie}},

	{OneWay, EventSendLie}:                {OneWay, []Action{ActionTransmitLie}},
	{TwoWay, EventSendLie}:                {TwoWay, []Action{ActionTransmitLie}},
	{ThreeWay, EventSendLie}:              {ThreeWay, []Action{ActionTransmitLie}},
	{MultipleNeighborsWait, EventSendLie}: {MultipleNeighborsWait, []Action{ActionTransmitLie}},

	{OneWay, EventUpdateZTPOffer}:                {OneWay, []Action{ActionPostZTPOffer}},
	{TwoWay, EventUpdateZTPOffer}:                {TwoWay, []Action{ActionPostZTPOffer}},
	{ThreeWay, EventUpdateZTPOffer}:              {ThreeWay, []Action{ActionPostZTPOffer}},
	{MultipleNeighborsWait, EventUpdateZTPOffer}: {MultipleNeighborsWait, []Action{ActionPostZTPOffer}},

	// -- EventTimerTick -----------------------------------------------------
	// OneWay: periodic LIE transmission only (spec.md §4.1 SEND_LIE must
	// run regardless of adjacency state so a peer can discover us).
	{OneWay, EventTimerTick}: {OneWay, []Action{ActionQueueSendLie}},
	// TwoWay/ThreeWay: "pushes SendLie, then compares now - last_rx_time
	// against holdtime" (session.go performs the holdtime comparison and
	// pushes EventHoldtimeExpired itself; the table only names SendLie).
	{TwoWay, EventTimerTick}:                {TwoWay, []Action{ActionQueueSendLie}},
	{ThreeWay, EventTimerTick}:              {ThreeWay, []Action{ActionQueueSendLie}},
	{MultipleNeighborsWait, EventTimerTick}: {MultipleNeighborsWait, []Action{ActionQueueSendLie}},

	// -- EventMTUMismatch / EventUnacceptableHeader: demote from any state -
	{OneWay, EventMTUMismatch}:                {OneWay, []Action{ActionCleanup}},
	{TwoWay, EventMTUMismatch}:                {OneWay, []Action{ActionCleanup}},
	{ThreeWay, EventMTUMismatch}:              {OneWay, []Action{ActionCleanup}},
	{MultipleNeighborsWait, EventMTUMismatch}: {OneWay, []Action{ActionCleanup, ActionClearMultipleNeighborsTimer}},

	{OneWay, EventUnacceptableHeader}:                {OneWay, []Action{ActionCleanup}},
	{TwoWay, EventUnacceptableHeader}:                {OneWay, []Action{ActionCleanup}},
	{ThreeWay, EventUnacceptableHeader}:              {OneWay, []Action{ActionCleanup}},
	{MultipleNeighborsWait, EventUnacceptableHeader}: {OneWay, []Action{ActionCleanup, ActionClearMultipleNeighborsTimer}},

	// -- EventHoldtimeExpired: only meaningful once a neighbor exists -----
	{TwoWay, EventHoldtimeExpired}:   {OneWay, []Action{ActionCleanup}},
	{ThreeWay, EventHoldtimeExpired}: {OneWay, []Action{ActionCleanup}},

	// -- EventLevelChanged: returns to OneWay from every adjacent state ---
	{OneWay, EventLevelChanged}:                {OneWay, nil},
	{TwoWay, EventLevelChanged}:                {OneWay, []Action{ActionCleanup}},
	{ThreeWay, EventLevelChanged}:               {OneWay, []Action{ActionCleanup}},
	{MultipleNeighborsWait, EventLevelChanged}:  {OneWay, []Action{ActionCleanup, ActionClearMultipleNeighborsTimer}},

	// -- EventHALChanged / EventHATChanged / EventHALSChanged -------------
	// Never change state; Session stores the carried value regardless of
	// the (empty) action list.
	{OneWay, EventHALChanged}:                {OneWay, nil},
	{TwoWay, EventHALChanged}:                {TwoWay, nil},
	{ThreeWay, EventHALChanged}:               {ThreeWay, nil},
	{MultipleNeighborsWait, EventHALChanged}:  {MultipleNeighborsWait, nil},
	{OneWay, EventHATChanged}:                {OneWay, nil},
	{TwoWay, EventHATChanged}:                {TwoWay, nil},
	{ThreeWay, EventHATChanged}:               {ThreeWay, nil},
	{MultipleNeighborsWait, EventHATChanged}:  {MultipleNeighborsWait, nil},
	{OneWay, EventHALSChanged}:                {OneWay, nil},
	{TwoWay, EventHALSChanged}:                {TwoWay, nil},
	{ThreeWay, EventHALSChanged}:              {ThreeWay, nil},
	{MultipleNeighborsWait, EventHALSChanged}: {MultipleNeighborsWait, nil},

	{OneWay, EventFloodLeadersChanged}:                {OneWay, nil},
	{TwoWay, EventFloodLeadersChanged}:                {TwoWay, nil},
	{ThreeWay, EventFloodLeadersChanged}:              {ThreeWay, nil},
	{MultipleNeighborsWait, EventFloodLeadersChanged}: {MultipleNeighborsWait, nil},

	// -- EventNewNeighbor: OneWay -> TwoWay (PROCESS_LIE step 4a) --------
	{OneWay, EventNewNeighbor}: {TwoWay, []Action{ActionQueueSendLie}},

	// -- EventValidReflection: TwoWay -> ThreeWay (CHECK_THREE_WAY) ------
	{TwoWay, EventValidReflection}: {ThreeWay, []Action{ActionQueueSendLie}},

	// -- EventNeighborDroppedReflection: ThreeWay -> TwoWay --------------
	{ThreeWay, EventNeighborDroppedReflection}: {TwoWay, nil},

	// -- EventMultipleNeighbors: demote to MultipleNeighborsWait ---------
	{TwoWay, EventMultipleNeighbors}:   {MultipleNeighborsWait, []Action{ActionCleanup, ActionArmMultipleNeighborsTimer}},
	{ThreeWay, EventMultipleNeighbors}: {MultipleNeighborsWait, []Action{ActionCleanup, ActionArmMultipleNeighborsTimer}},
	{MultipleNeighborsWait, EventMultipleNeighbors}: {MultipleNeighborsWait, []Action{ActionArmMultipleNeighborsTimer}},

	// -- EventMultipleNeighborsDone: contention resolved, restart -------
	{MultipleNeighborsWait, EventMultipleNeighborsDone}: {OneWay, []Action{ActionCleanup, ActionClearMultipleNeighborsTimer}},

	// -- EventNeighborChangedLevel / Address: demote (trust broken) -----
	{TwoWay, EventNeighborChangedLevel}:   {OneWay, []Action{ActionCleanup}},
	{ThreeWay, EventNeighborChangedLevel}: {OneWay, []Action{ActionCleanup}},
	{TwoWay, EventNeighborChangedAddress}:   {OneWay, []Action{ActionCleanup}},
	{ThreeWay, EventNeighborChangedAddress}: {OneWay, []Action{ActionCleanup}},

	// -- EventNeighborChangedMinorFields: no demotion --------------------
	{TwoWay, EventNeighborChangedMinorFields}:   {TwoWay, nil},
	{ThreeWay, EventNeighborChangedMinorFields}: {ThreeWay, nil},

	// -- EventNeighborChangedBFDCapability: never produced; see spec.md
	// §9 open question 6. Table entries retained for completeness only.
	{OneWay, EventNeighborChangedBFDCapability}:                {OneWay, nil},
	{TwoWay, EventNeighborChangedBFDCapability}:                {TwoWay, nil},
	{ThreeWay, EventNeighborChangedBFDCapability}:              {ThreeWay, nil},
	{MultipleNeighborsWait, EventNeighborChangedBFDCapability}: {MultipleNeighborsWait, nil},
}

// ApplyEvent applies an event kind to the given state and returns the
// result. Pure function; the caller executes the returned actions.
// Unlisted (state, event) pairs are silently ignored.
func ApplyEvent(current State, event EventKind) FSMResult {
	tr, ok := fsmTable[stateEvent{state: current, event: event}]
	if !ok {
		return FSMResult{OldState: current, NewState: current, Changed: false}
	}
	return FSMResult{
		OldState: current,
		NewState: tr.newState,
		Actions:  tr.actions,
		Changed:  current != tr.newState,
	}
}
