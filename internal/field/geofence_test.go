package field

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/geo"
	"lastmile/internal/model"
)

type recordingFiler struct {
	filed []model.AnomalyReport
}

func (f *recordingFiler) ReportAnomaly(ctx context.Context, a model.AnomalyReport) (model.AnomalyReport, error) {
	f.filed = append(f.filed, a)
	return a, nil
}

func deliverableParcel() model.Parcel {
	return model.Parcel{
		TrackingNo:   "TN1",
		DeliverPoint: &model.GeoPoint{Lat: 16.8409, Lng: 96.1735},
	}
}

func TestVerifyCompletionBoundary(t *testing.T) {
	ctx := context.Background()
	p := deliverableParcel()
	pos := model.GeoPoint{Lat: 16.8409 + 0.0015, Lng: 96.1735}
	dist := geo.HaversineMeters(pos, *p.DeliverPoint)
	require.Greater(t, dist, 100.0)

	// At exactly the measured distance the completion passes; the block is
	// strictly greater-than.
	g := NewGate(nil)
	g.CompletionRadiusM = dist
	assert.NoError(t, g.VerifyCompletion(ctx, "c1", pos, p, Report{}))

	g.CompletionRadiusM = dist - 0.1
	err := g.VerifyCompletion(ctx, "c1", pos, p, Report{})
	var tooFar *TooFarError
	require.ErrorAs(t, err, &tooFar)
	assert.InDelta(t, dist, tooFar.DistanceM, 0.01)
	assert.Equal(t, g.CompletionRadiusM, tooFar.RadiusM)
	assert.Contains(t, err.Error(), "outside delivery geofence")
}

func TestVerifyCompletionInsideRadius(t *testing.T) {
	ctx := context.Background()
	g := NewGate(nil)
	p := deliverableParcel()
	// ~50m offset, well within the 200m default.
	pos := model.GeoPoint{Lat: 16.8409 + 0.00045, Lng: 96.1735}
	assert.NoError(t, g.VerifyCompletion(ctx, "c1", pos, p, Report{}))
}

func TestVerifyCompletionMockedLocationFilesAnomaly(t *testing.T) {
	ctx := context.Background()
	filer := &recordingFiler{}
	g := NewGate(filer)
	p := deliverableParcel()

	// Even standing on the doorstep, a mocked fix blocks and auto-files.
	err := g.VerifyCompletion(ctx, "c7", *p.DeliverPoint, p, Report{LocationMocked: true})
	assert.ErrorIs(t, err, ErrMockedLocation)
	require.Len(t, filer.filed, 1)
	assert.Equal(t, "TN1", filer.filed[0].TrackingNo)
	assert.Equal(t, "c7", filer.filed[0].CourierID)
	assert.True(t, filer.filed[0].Automatic)
	assert.NotNil(t, filer.filed[0].Position)
}

func TestVerifyCompletionNoDeliveryPoint(t *testing.T) {
	ctx := context.Background()
	g := NewGate(nil)
	p := model.Parcel{TrackingNo: "TN2"}
	err := g.VerifyCompletion(ctx, "c1", model.GeoPoint{}, p, Report{})
	assert.ErrorIs(t, err, ErrNoDeliveryPos)
}

func TestCheckAcceptanceTrustThresholds(t *testing.T) {
	g := NewGate(nil)

	assert.ErrorIs(t, g.CheckAcceptance(59, 100), ErrTrustTooLow)
	assert.NoError(t, g.CheckAcceptance(60, 100))

	// Between the thresholds, only high-value parcels are blocked; the fee
	// bound itself is exclusive.
	assert.ErrorIs(t, g.CheckAcceptance(79, 5001), ErrTrustHighValue)
	assert.NoError(t, g.CheckAcceptance(79, 5000))
	assert.NoError(t, g.CheckAcceptance(80, 99999))
}

func TestNearPickupAdvisory(t *testing.T) {
	g := NewGate(nil)
	p := model.Parcel{PickupPoint: &model.GeoPoint{Lat: 16.8409, Lng: 96.1735}}

	near := model.GeoPoint{Lat: 16.8409 + 0.0005, Lng: 96.1735} // ~55m
	farAway := model.GeoPoint{Lat: 16.8409 + 0.01, Lng: 96.1735}
	assert.True(t, g.NearPickup(near, p))
	assert.False(t, g.NearPickup(farAway, p))
	assert.False(t, g.NearPickup(near, model.Parcel{}))
}
