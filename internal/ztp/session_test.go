package ztp_test

import (
	"log/slog"
	"testing"
	"time"

	"github.com/rift-sim/riftsim/internal/riftid"
	"github.com/rift-sim/riftsim/internal/timeclock"
	"github.com/rift-sim/riftsim/internal/ztp"
)

type fakeNotifier struct {
	levels []riftid.Level
	hals   []riftid.Level
	hats   []riftid.Level
	halsSets [][]riftid.SystemId
}

func (f *fakeNotifier) LevelChanged(l riftid.Level)        { f.levels = append(f.levels, l) }
func (f *fakeNotifier) HALChanged(l riftid.Level)           { f.hals = append(f.hals, l) }
func (f *fakeNotifier) HATChanged(l riftid.Level)           { f.hats = append(f.hats, l) }
func (f *fakeNotifier) HALSChanged(s []riftid.SystemId)     { f.halsSets = append(f.halsSets, s) }

type fakeAdjacency struct{ has bool }

func (f fakeAdjacency) HasSouthboundAdjacency() bool { return f.has }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

// TestUndefinedNodeDerivesLevelFromHAL models S2's aggregate-layer
// behavior: a node with no configured level and no leaf flag derives its
// level as HAL-1 once it has heard an offer.
func TestUndefinedNodeDerivesLevelFromHAL(t *testing.T) {
	t.Parallel()

	clock := timeclock.NewFake(time.Unix(0, 0))
	notifier := &fakeNotifier{}
	s := ztp.New(2, riftid.Undefined, notifier, fakeAdjacency{}, discardLogger(), ztp.WithClock(clock))
	s.Drain()

	if s.EffectiveLevel().IsDefined() {
		t.Fatalf("want undefined level before any offer, got %v", s.EffectiveLevel())
	}

	s.PostOffer(ztp.Offer{
		Key:                ztp.OfferKey{SystemId: 1, LinkId: 1},
		Level:               mustLevel(t, 24),
		ExpirationDeadline: clock.Now().Add(10 * time.Second),
	})
	s.Drain()

	got, ok := s.EffectiveLevel().Value()
	if !ok || got != 23 {
		t.Fatalf("want effective level 23 (HAL-1), got %v", s.EffectiveLevel())
	}
	if len(notifier.levels) == 0 || notifier.levels[len(notifier.levels)-1].String() != "23" {
		t.Fatalf("want a LevelChanged(23) notification, got %v", notifier.levels)
	}
}

// TestConfiguredLevelOverridesOffers checks that an explicit configured
// level always wins over any offer-derived level.
func TestConfiguredLevelOverridesOffers(t *testing.T) {
	t.Parallel()

	clock := timeclock.NewFake(time.Unix(0, 0))
	notifier := &fakeNotifier{}
	s := ztp.New(5, mustLevel(t, 10), notifier, fakeAdjacency{}, discardLogger(), ztp.WithClock(clock))
	s.Drain()

	if got, ok := s.EffectiveLevel().Value(); !ok || got != 10 {
		t.Fatalf("want configured level 10, got %v", s.EffectiveLevel())
	}

	s.PostOffer(ztp.Offer{
		Key:                ztp.OfferKey{SystemId: 1, LinkId: 1},
		Level:               mustLevel(t, 24),
		ExpirationDeadline: clock.Now().Add(10 * time.Second),
	})
	s.Drain()

	if got, ok := s.EffectiveLevel().Value(); !ok || got != 10 {
		t.Fatalf("configured level must not change on new offers, got %v", s.EffectiveLevel())
	}
}

// TestLostHALEntersHoldingDownImmediateWithoutAdjacency checks that a
// node with no southbound adjacency fires HoldDownExpired immediately
// rather than arming the normal holddown duration.
func TestLostHALEntersHoldingDownImmediateWithoutAdjacency(t *testing.T) {
	t.Parallel()

	clock := timeclock.NewFake(time.Unix(0, 0))
	notifier := &fakeNotifier{}
	s := ztp.New(2, riftid.Undefined, notifier, fakeAdjacency{has: false}, discardLogger(), ztp.WithClock(clock))
	s.Drain()

	key := ztp.OfferKey{SystemId: 1, LinkId: 1}
	s.PostOffer(ztp.Offer{Key: key, Level: mustLevel(t, 24), ExpirationDeadline: clock.Now().Add(time.Hour)})
	s.Drain()
	if s.State() != ztp.UpdatingClients {
		t.Fatalf("want UpdatingClients after first offer, got %v", s.State())
	}

	s.PostOffer(ztp.Offer{Key: key, NotAZTPOffer: true})
	s.Drain()

	if s.State() != ztp.UpdatingClients {
		t.Fatalf("want to cycle straight back through HoldingDown to UpdatingClients, got %v", s.State())
	}
	if s.EffectiveLevel().IsDefined() {
		t.Fatalf("want undefined level once HAL is lost with no offers, got %v", s.EffectiveLevel())
	}
}

// TestExpiredOfferIsRemovedOnShortTic covers invariant 5 (spec.md §8).
func TestExpiredOfferIsRemovedOnShortTic(t *testing.T) {
	t.Parallel()

	clock := timeclock.NewFake(time.Unix(0, 0))
	notifier := &fakeNotifier{}
	s := ztp.New(2, riftid.Undefined, notifier, fakeAdjacency{}, discardLogger(), ztp.WithClock(clock))
	s.Drain()

	key := ztp.OfferKey{SystemId: 1, LinkId: 1}
	s.PostOffer(ztp.Offer{Key: key, Level: mustLevel(t, 24), ExpirationDeadline: clock.Now().Add(1 * time.Second)})
	s.Drain()
	if !s.HAL().Equal(mustLevel(t, 24)) {
		t.Fatalf("want HAL 24, got %v", s.HAL())
	}

	clock.Advance(2 * time.Second)
	s.Push(ztp.Event{Kind: ztp.EventShortTic})
	s.Drain()

	if s.HAL().IsDefined() {
		t.Fatalf("want HAL cleared after expiry, got %v", s.HAL())
	}
}

func mustLevel(t *testing.T, v int) riftid.Level {
	t.Helper()
	l, err := riftid.NewLevel(v)
	if err != nil {
		t.Fatalf("NewLevel(%d): %v", v, err)
	}
	return l
}
