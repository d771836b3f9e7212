// Package lifecycle defines the parcel status state machine: the canonical
// vocabulary, normalization of free-text upstream statuses, the allowed
// transitions on both tracks, and which actor may move a parcel where.
package lifecycle

import (
	"strings"
	"time"

	"lastmile/internal/model"
)

// Track separates the warehouse/freight progression from the courier-visible
// projection of the same parcel.
type Track string

const (
	TrackBackOffice Track = "back_office"
	TrackField      Track = "field"
)

// Actor identifies who is requesting a transition.
type Actor string

const (
	ActorWarehouse Actor = "warehouse"
	ActorCourier   Actor = "courier"
	ActorSync      Actor = "sync"
)

// normRule maps free-text fragments onto a canonical status. Matching is by
// substring containment, not equality: historical data carries decorated
// variants like "包裹已送达现场". Order matters; first hit wins.
type normRule struct {
	needles []string
	status  model.Status
}

var normRules = []normRule{
	{[]string{"已送达", "delivered"}, model.StatusDelivered},
	{[]string{"已签收", "signed"}, model.StatusSigned},
	{[]string{"已取消", "cancelled", "canceled"}, model.StatusCancelled},
	{[]string{"待收货", "到达待取", "pending_receipt"}, model.StatusPendingReceipt},
	{[]string{"运输中", "转运中", "in_transit"}, model.StatusInTransit},
	{[]string{"已入库", "inbound"}, model.StatusInbound},
	{[]string{"待付款", "pending_prepay"}, model.StatusPendingPrepay},
	{[]string{"已付款", "prepaid"}, model.StatusPrepaid},
	{[]string{"派送中", "配送中", "delivering"}, model.StatusDelivering},
	{[]string{"已取件", "picked_up"}, model.StatusPickedUp},
	{[]string{"待取件", "pending_pickup"}, model.StatusPendingPickup},
	{[]string{"异常", "anomaly"}, model.StatusAnomalyReported},
	{[]string{"已下单", "ordered"}, model.StatusOrdered},
}

// Normalize maps a free-text status onto the canonical vocabulary. The
// second return is false when no rule matched.
func Normalize(raw string) (model.Status, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return "", false
	}
	for _, r := range normRules {
		for _, n := range r.needles {
			if strings.Contains(s, n) {
				return r.status, true
			}
		}
	}
	return "", false
}

// Resolve computes the effective status of a parcel record. A delivery
// timestamp is authoritative: it forces Delivered no matter what the raw
// status string claims. Otherwise the raw string is normalized, falling back
// to the stored status, then to Ordered.
func Resolve(status model.Status, rawStatus string, deliveredAt *time.Time) model.Status {
	if deliveredAt != nil && !deliveredAt.IsZero() {
		return model.StatusDelivered
	}
	if s, ok := Normalize(rawStatus); ok {
		return s
	}
	if status != "" {
		return status
	}
	return model.StatusOrdered
}

// Terminal reports whether no further transition is allowed from s.
func Terminal(s model.Status) bool {
	return s == model.StatusSigned || s == model.StatusCancelled || s == model.StatusDelivered
}

// TrackOf classifies a status onto its track.
func TrackOf(s model.Status) Track {
	switch s {
	case model.StatusPendingPickup, model.StatusPickedUp, model.StatusDelivering,
		model.StatusDelivered, model.StatusAnomalyReported:
		return TrackField
	}
	return TrackBackOffice
}

var transitions = map[model.Status][]model.Status{
	model.StatusOrdered:        {model.StatusPendingPrepay, model.StatusPrepaid, model.StatusInbound},
	model.StatusPendingPrepay:  {model.StatusPrepaid},
	model.StatusPrepaid:        {model.StatusInbound},
	model.StatusInbound:        {model.StatusInTransit},
	model.StatusInTransit:      {model.StatusPendingReceipt},
	model.StatusPendingReceipt: {model.StatusSigned},

	model.StatusPendingPickup: {model.StatusPickedUp},
	model.StatusPickedUp:      {model.StatusDelivering},
	model.StatusDelivering:    {model.StatusDelivered, model.StatusAnomalyReported},
	// An anomaly blocks completion until the back office resolves it; the
	// resolution moves the parcel back to Delivering, never straight to
	// Delivered.
	model.StatusAnomalyReported: {model.StatusDelivering, model.StatusCancelled},
}

var rank = map[model.Status]int{
	model.StatusOrdered:        0,
	model.StatusPendingPrepay:  1,
	model.StatusPrepaid:        2,
	model.StatusInbound:        3,
	model.StatusInTransit:      4,
	model.StatusPendingReceipt: 5,
	model.StatusSigned:         9,

	model.StatusPendingPickup:   5,
	model.StatusPickedUp:        6,
	model.StatusDelivering:      7,
	model.StatusAnomalyReported: 7,
	model.StatusDelivered:       9,
	model.StatusCancelled:       9,
}

// Rank orders statuses by progression so callers can ask "has the server
// caught up to my optimistic status yet". Terminal states share the top
// rank.
func Rank(s model.Status) int { return rank[s] }

// CanTransition reports whether from → to is a legal move. Any non-terminal
// state may be cancelled.
func CanTransition(from, to model.Status) bool {
	if from == to {
		return true
	}
	if Terminal(from) {
		return false
	}
	if to == model.StatusCancelled {
		return true
	}
	// Acceptance moves a parcel from any live back-office state onto the
	// field track.
	if to == model.StatusPendingPickup && TrackOf(from) == TrackBackOffice {
		return true
	}
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// Authorized reports whether the actor may set a parcel to the target
// status. Couriers own the field track; warehouse operations own the
// back-office track; only the consistency syncer crosses between them (it
// writes the back-office track as a side effect of field completions).
func Authorized(actor Actor, to model.Status) bool {
	if actor == ActorSync {
		return true
	}
	switch TrackOf(to) {
	case TrackField:
		return actor == ActorCourier
	default:
		return actor == ActorWarehouse
	}
}
