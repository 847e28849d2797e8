package lie_test

import (
	"testing"

	"github.com/rift-sim/riftsim/internal/lie"
)

// TestApplyEventKnownTransitions checks representative transitions named
// explicitly by the transition table's salient invariants.
func TestApplyEventKnownTransitions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		state       lie.State
		event       lie.EventKind
		wantState   lie.State
		wantChanged bool
	}{
		{"new neighbor promotes OneWay to TwoWay", lie.OneWay, lie.EventNewNeighbor, lie.TwoWay, true},
		{"valid reflection promotes TwoWay to ThreeWay", lie.TwoWay, lie.EventValidReflection, lie.ThreeWay, true},
		{"dropped reflection demotes ThreeWay to TwoWay", lie.ThreeWay, lie.EventNeighborDroppedReflection, lie.TwoWay, true},
		{"multiple neighbors demotes ThreeWay", lie.ThreeWay, lie.EventMultipleNeighbors, lie.MultipleNeighborsWait, true},
		{"multiple neighbors done returns to OneWay", lie.MultipleNeighborsWait, lie.EventMultipleNeighborsDone, lie.OneWay, true},
		{"level changed from ThreeWay returns to OneWay", lie.ThreeWay, lie.EventLevelChanged, lie.OneWay, true},
		{"level changed from MultipleNeighborsWait returns to OneWay", lie.MultipleNeighborsWait, lie.EventLevelChanged, lie.OneWay, true},
		{"level changed in OneWay is a self-loop", lie.OneWay, lie.EventLevelChanged, lie.OneWay, false},
		{"holdtime expiry demotes ThreeWay", lie.ThreeWay, lie.EventHoldtimeExpired, lie.OneWay, true},
		{"minor field change does not demote ThreeWay", lie.ThreeWay, lie.EventNeighborChangedMinorFields, lie.ThreeWay, false},
		{"neighbor changed level demotes TwoWay", lie.TwoWay, lie.EventNeighborChangedLevel, lie.OneWay, true},
		{"timer tick in OneWay self-loops", lie.OneWay, lie.EventTimerTick, lie.OneWay, false},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := lie.ApplyEvent(tc.state, tc.event)
			if got.NewState != tc.wantState {
				t.Fatalf("ApplyEvent(%v, %v).NewState = %v, want %v", tc.state, tc.event, got.NewState, tc.wantState)
			}
			if got.Changed != tc.wantChanged {
				t.Fatalf("ApplyEvent(%v, %v).Changed = %v, want %v", tc.state, tc.event, got.Changed, tc.wantChanged)
			}
		})
	}
}

// TestApplyEventUnlistedIsIgnored covers the "unlisted pairs are silently
// ignored" default (e.g. a new-neighbor signal while already adjacent).
func TestApplyEventUnlistedIsIgnored(t *testing.T) {
	t.Parallel()

	got := lie.ApplyEvent(lie.ThreeWay, lie.EventNewNeighbor)
	if got.Changed {
		t.Fatalf("ApplyEvent(ThreeWay, NewNeighbor): want no-op, got %+v", got)
	}
	if len(got.Actions) != 0 {
		t.Fatalf("ApplyEvent(ThreeWay, NewNeighbor): want no actions, got %v", got.Actions)
	}
}

// TestAnyStateHandlesLieRcvdAndSendLie checks the uniform routing of
// LieRcvd/SendLie to their auxiliary procedures in every
// state, per the comment on fsmTable.
func TestAnyStateHandlesLieRcvdAndSendLie(t *testing.T) {
	t.Parallel()

	states := []lie.State{lie.OneWay, lie.TwoWay, lie.ThreeWay, lie.MultipleNeighborsWait}
	for _, s := range states {
		res := lie.ApplyEvent(s, lie.EventLieRcvd)
		if res.Changed {
			t.Fatalf("LieRcvd in %v: want no direct state change, got %v", s, res.NewState)
		}
		if len(res.Actions) != 1 || res.Actions[0] != lie.ActionProcessLie {
			t.Fatalf("LieRcvd in %v: want [ActionProcessLie], got %v", s, res.Actions)
		}

		res = lie.ApplyEvent(s, lie.EventSendLie)
		if len(res.Actions) != 1 || res.Actions[0] != lie.ActionTransmitLie {
			t.Fatalf("SendLie in %v: want [ActionTransmitLie], got %v", s, res.Actions)
		}
	}
}

// TestStateString and TestEventKindString guard the human-readable names
// used in logs and snapshots.
func TestStateString(t *testing.T) {
	t.Parallel()
	if lie.OneWay.String() != "OneWay" || lie.ThreeWay.String() != "ThreeWay" {
		t.Fatalf("unexpected state names: %q, %q", lie.OneWay, lie.ThreeWay)
	}
}

func TestEventKindString(t *testing.T) {
	t.Parallel()
	if lie.EventLieRcvd.String() != "LieRcvd" {
		t.Fatalf("unexpected event name: %q", lie.EventLieRcvd)
	}
}
