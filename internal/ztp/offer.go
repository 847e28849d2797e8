package ztp

import (
	"time"

	"github.com/rift-sim/riftsim/internal/riftid"
)

// OfferKey identifies an offer by its source interface (spec.md §3).
type OfferKey struct {
	SystemId riftid.SystemId
	LinkId   riftid.LinkId
}

// Offer is one neighbor's advertised level, held by the ZTP FSM until it
// expires or is superseded (spec.md §3).
type Offer struct {
	Key                OfferKey
	Level              riftid.Level
	NotAZTPOffer       bool
	ExpirationDeadline time.Time
	ThreeWay           bool
}

func (o Offer) expired(now time.Time) bool {
	return !o.ExpirationDeadline.After(now)
}

// offerTable holds the ZTP FSM's current offers and the last published
// (hal, hat, hals) tuple that COMPARE_OFFERS diffs against.
type offerTable struct {
	self    riftid.SystemId
	offers  map[OfferKey]Offer
	hal     riftid.Level
	hat     riftid.Level
	hals    []riftid.SystemId
}

func newOfferTable(self riftid.SystemId) *offerTable {
	return &offerTable{
		self:   self,
		offers: make(map[OfferKey]Offer),
		hal:    riftid.Undefined,
		hat:    riftid.Undefined,
	}
}

// processOffer implements PROCESS_OFFER (spec.md §4.2).
func (t *offerTable) processOffer(o Offer) []EventKind {
	if o.NotAZTPOffer || !o.Level.IsDefined() {
		return t.removeOffer(o.Key)
	}
	return t.updateOffer(o)
}

// updateOffer implements UPDATE_OFFER.
func (t *offerTable) updateOffer(o Offer) []EventKind {
	t.offers[o.Key] = o
	return t.compareOffers()
}

// removeOffer implements REMOVE_OFFER.
func (t *offerTable) removeOffer(key OfferKey) []EventKind {
	delete(t.offers, key)
	return t.compareOffers()
}

// purgeOffers implements PURGE_OFFERS.
func (t *offerTable) purgeOffers() []EventKind {
	t.offers = make(map[OfferKey]Offer)
	return t.compareOffers()
}

// expireOffers drops any offer whose deadline has passed, then, if any
// were dropped, runs COMPARE_OFFERS once however many there were
// (invariant 3, spec.md §3: "An Offer ... is removed the first instant
// its expiration_deadline lies in the past").
func (t *offerTable) expireOffers(now time.Time) []EventKind {
	dropped := false
	for k, o := range t.offers {
		if o.expired(now) {
			delete(t.offers, k)
			dropped = true
		}
	}
	if !dropped {
		return nil
	}
	return t.compareOffers()
}

// compareOffers implements COMPARE_OFFERS (spec.md §4.2): a pure function
// of the current offer set and the previously published (hal, hat)
// values.
func (t *offerTable) compareOffers() []EventKind {
	var hal riftid.Level = riftid.Undefined
	for k, o := range t.offers {
		if k.SystemId == t.self {
			continue
		}
		if !o.Level.IsDefined() {
			continue
		}
		if !hal.IsDefined() || hal.Less(o.Level) {
			hal = o.Level
		}
	}

	var hat riftid.Level = riftid.Undefined
	if hal.IsDefined() {
		for k, o := range t.offers {
			if k.SystemId == t.self || !o.Level.IsDefined() {
				continue
			}
			if o.Level.Less(hal) && (!hat.IsDefined() || hat.Less(o.Level)) {
				hat = o.Level
			}
		}
	}

	var hals []riftid.SystemId
	if hal.IsDefined() {
		for k, o := range t.offers {
			if o.Level.Equal(hal) {
				hals = append(hals, k.SystemId)
			}
		}
	}

	var events []EventKind
	switch {
	case hal.IsDefined() && (!t.hal.IsDefined() || t.hal.Less(hal)):
		events = append(events, EventBetterHAL)
	case !hal.IsDefined() && t.hal.IsDefined():
		events = append(events, EventLostHAL)
	}
	switch {
	case hat.IsDefined() && (!t.hat.IsDefined() || t.hat.Less(hat)):
		events = append(events, EventBetterHAT)
	case !hat.IsDefined() && t.hat.IsDefined():
		events = append(events, EventLostHAT)
	}

	t.hal, t.hat, t.hals = hal, hat, hals
	return events
}
