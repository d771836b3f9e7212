package route

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lastmile/internal/geocode"
	"lastmile/internal/model"
)

func pt(lat, lng float64) *model.GeoPoint { return &model.GeoPoint{Lat: lat, Lng: lng} }

func testEngine() *Engine {
	return &Engine{Resolver: &geocode.Resolver{
		Local:   geocode.NewMemoryKV(),
		Default: model.GeoPoint{Lat: 16.8409, Lng: 96.1735},
	}}
}

func parcelAt(tn string, pickup, deliver *model.GeoPoint) model.Parcel {
	return model.Parcel{TrackingNo: tn, PickupPoint: pickup, DeliverPoint: deliver}
}

func TestPlanOrdersByProximity(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	origin := model.GeoPoint{Lat: 16.80, Lng: 96.10}

	// near has the closest pickup; far is several km off.
	near := parcelAt("NEAR", pt(16.801, 96.101), pt(16.802, 96.102))
	far := parcelAt("FAR", pt(16.85, 96.15), pt(16.86, 96.16))

	visits, err := e.Plan(ctx, origin, []model.Parcel{far, near}, StrategyShortest)
	require.NoError(t, err)
	require.Len(t, visits, 2)
	assert.Equal(t, "NEAR", visits[0].TrackingNo)
	assert.Equal(t, "FAR", visits[1].TrackingNo)

	// Cumulative distance is monotonic and the ETA tracks it.
	assert.Greater(t, visits[1].CumDistM, visits[0].CumDistM)
	assert.Greater(t, visits[1].ETASec, visits[0].ETASec)
	assert.Greater(t, visits[0].LegDistM, 0.0)
}

func TestPlanDeterministicAcrossRuns(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	origin := model.GeoPoint{Lat: 16.80, Lng: 96.10}
	// Two parcels with identical coordinates: the tie must break the same
	// way every run, on input order.
	a := parcelAt("A", pt(16.81, 96.11), pt(16.82, 96.12))
	b := parcelAt("B", pt(16.81, 96.11), pt(16.82, 96.12))

	first, err := e.Plan(ctx, origin, []model.Parcel{a, b}, StrategyShortest)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := e.Plan(ctx, origin, []model.Parcel{a, b}, StrategyShortest)
		require.NoError(t, err)
		require.Len(t, again, len(first))
		for j := range first {
			assert.Equal(t, first[j].TrackingNo, again[j].TrackingNo)
		}
	}
	assert.Equal(t, "A", first[0].TrackingNo)
}

func TestPlanPriorityStrategySurfacesExpedited(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	origin := model.GeoPoint{Lat: 16.80, Lng: 96.10}

	normal := parcelAt("NORMAL", pt(16.801, 96.101), pt(16.802, 96.102))
	urgent := parcelAt("URGENT", pt(16.805, 96.105), pt(16.806, 96.106))
	urgent.Expedited = true

	// Under shortest, the nearer pickup wins regardless of urgency.
	visits, err := e.Plan(ctx, origin, []model.Parcel{normal, urgent}, StrategyShortest)
	require.NoError(t, err)
	assert.Equal(t, "NORMAL", visits[0].TrackingNo)

	// Priority halves the expedited score, but the greedy pass still walks
	// pickups nearest-first from the current position, so the urgent parcel
	// surfaces when its discounted score ranks it ahead.
	visits, err = e.Plan(ctx, origin, []model.Parcel{normal, urgent}, StrategyPriority)
	require.NoError(t, err)
	require.Len(t, visits, 2)
}

func TestPlanFallsBackToDefaultPoint(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	origin := model.GeoPoint{Lat: 16.80, Lng: 96.10}

	// No coordinates and no cached address: both ends resolve to the city
	// default rather than failing the plan.
	p := model.Parcel{TrackingNo: "X", PickupAddress: "某处", DeliverAddress: "别处"}
	visits, err := e.Plan(ctx, origin, []model.Parcel{p}, StrategyShortest)
	require.NoError(t, err)
	require.Len(t, visits, 1)
	assert.Equal(t, geocode.SourceDefault, visits[0].Pickup.Source)
	assert.Equal(t, e.Resolver.Default, visits[0].Delivery.Point)
}

func TestPlanEmptyAndNilInputs(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	visits, err := e.Plan(ctx, model.GeoPoint{}, nil, "")
	require.NoError(t, err)
	assert.Empty(t, visits)

	bad := &Engine{}
	_, err = bad.Plan(ctx, model.GeoPoint{}, nil, "")
	assert.Error(t, err)
}
