package lifecycle

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"lastmile/internal/model"
)

func TestNormalizeContainment(t *testing.T) {
	cases := []struct {
		raw  string
		want model.Status
		ok   bool
	}{
		{"已送达", model.StatusDelivered, true},
		{"  已送达 ", model.StatusDelivered, true},
		{"包裹已送达现场", model.StatusDelivered, true},
		{"DELIVERED", model.StatusDelivered, true},
		{"已签收", model.StatusSigned, true},
		{"已取消", model.StatusCancelled, true},
		{"到达待取", model.StatusPendingReceipt, true},
		{"转运中", model.StatusInTransit, true},
		{"配送中", model.StatusDelivering, true},
		{"包裹状态异常，请联系客服", model.StatusAnomalyReported, true},
		{"", "", false},
		{"完全未知的状态", "", false},
	}
	for _, tc := range cases {
		got, ok := Normalize(tc.raw)
		assert.Equal(t, tc.ok, ok, "raw=%q", tc.raw)
		assert.Equal(t, tc.want, got, "raw=%q", tc.raw)
	}
}

func TestNormalizeOrderMatters(t *testing.T) {
	// "已送达" contains no other needle, but a decorated string could hit
	// several rules; the delivered rule is checked first so a completed
	// parcel never regresses on a re-read.
	got, ok := Normalize("异常处理后已送达")
	assert.True(t, ok)
	assert.Equal(t, model.StatusDelivered, got)
}

func TestResolveDeliveredTimestampWins(t *testing.T) {
	at := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	// Raw status lies; the timestamp is authoritative.
	got := Resolve(model.StatusDelivering, "派送中", &at)
	assert.Equal(t, model.StatusDelivered, got)
}

func TestResolveFallbacks(t *testing.T) {
	assert.Equal(t, model.StatusInbound, Resolve(model.StatusInbound, "garbled", nil))
	assert.Equal(t, model.StatusOrdered, Resolve("", "", nil))
	assert.Equal(t, model.StatusSigned, Resolve(model.StatusInbound, "已签收", nil))
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(model.StatusInbound, model.StatusInTransit))
	assert.True(t, CanTransition(model.StatusInTransit, model.StatusPendingReceipt))
	assert.True(t, CanTransition(model.StatusDelivering, model.StatusDelivered))
	assert.True(t, CanTransition(model.StatusDelivering, model.StatusAnomalyReported))
	assert.True(t, CanTransition(model.StatusAnomalyReported, model.StatusDelivering))

	// Self-transition is a no-op, always allowed.
	assert.True(t, CanTransition(model.StatusInbound, model.StatusInbound))

	// Any live state can be cancelled; terminal states cannot move at all.
	assert.True(t, CanTransition(model.StatusPickedUp, model.StatusCancelled))
	assert.False(t, CanTransition(model.StatusDelivered, model.StatusCancelled))
	assert.False(t, CanTransition(model.StatusSigned, model.StatusInTransit))
	assert.False(t, CanTransition(model.StatusCancelled, model.StatusDelivering))

	// Acceptance enters the field track from any live back-office state.
	assert.True(t, CanTransition(model.StatusInbound, model.StatusPendingPickup))
	assert.True(t, CanTransition(model.StatusPendingReceipt, model.StatusPendingPickup))
	assert.False(t, CanTransition(model.StatusDelivered, model.StatusPendingPickup))

	// No skipping within a track.
	assert.False(t, CanTransition(model.StatusPendingPickup, model.StatusDelivering))
	assert.False(t, CanTransition(model.StatusAnomalyReported, model.StatusDelivered))
}

func TestAuthorized(t *testing.T) {
	assert.True(t, Authorized(ActorCourier, model.StatusPickedUp))
	assert.False(t, Authorized(ActorCourier, model.StatusInTransit))
	assert.True(t, Authorized(ActorWarehouse, model.StatusInTransit))
	assert.False(t, Authorized(ActorWarehouse, model.StatusDelivering))
	assert.True(t, Authorized(ActorSync, model.StatusDelivered))
	assert.True(t, Authorized(ActorSync, model.StatusInTransit))
}

func TestRankProgression(t *testing.T) {
	assert.Less(t, Rank(model.StatusPendingPickup), Rank(model.StatusPickedUp))
	assert.Less(t, Rank(model.StatusPickedUp), Rank(model.StatusDelivering))
	assert.Less(t, Rank(model.StatusDelivering), Rank(model.StatusDelivered))
	assert.Equal(t, Rank(model.StatusDelivered), Rank(model.StatusSigned))
}
