package field

import (
	"context"
	"errors"
	"fmt"

	"lastmile/internal/geo"
	"lastmile/internal/metrics"
	"lastmile/internal/model"
)

// Policy errors surfaced to the courier. The operation aborts with no
// partial state change.
var (
	ErrMockedLocation = errors.New("mocked location detected")
	ErrTrustTooLow    = errors.New("trust score too low to start deliveries")
	ErrTrustHighValue = errors.New("trust score too low for high-value deliveries")
	ErrNoDeliveryPos  = errors.New("parcel has no delivery coordinate")
)

// TooFarError reports the measured distance when the courier is outside the
// completion geofence.
type TooFarError struct {
	DistanceM float64
	RadiusM   float64
}

func (e *TooFarError) Error() string {
	return fmt.Sprintf("outside delivery geofence: %.0fm away (limit %.0fm)", e.DistanceM, e.RadiusM)
}

// AnomalyFiler files automatic anomaly reports when a spoofed location is
// detected mid-completion.
type AnomalyFiler interface {
	ReportAnomaly(ctx context.Context, a model.AnomalyReport) (model.AnomalyReport, error)
}

// Gate enforces the location-dependent authorization rules.
type Gate struct {
	CompletionRadiusM float64 // default 200
	ProximityRadiusM  float64 // default 100, advisory only
	MinTrustScore     int     // default 60
	HighValueTrust    int     // default 80
	HighValueFee      float64 // fee above which HighValueTrust applies
	Filer             AnomalyFiler
}

func NewGate(filer AnomalyFiler) *Gate {
	return &Gate{
		CompletionRadiusM: 200,
		ProximityRadiusM:  100,
		MinTrustScore:     60,
		HighValueTrust:    80,
		HighValueFee:      5000,
		Filer:             filer,
	}
}

// CheckAcceptance gates the start-of-delivery transition on the courier's
// trust score. Evaluated once at acceptance, not re-checked at completion.
func (g *Gate) CheckAcceptance(trustScore int, fee float64) error {
	if trustScore < g.MinTrustScore {
		return ErrTrustTooLow
	}
	if trustScore < g.HighValueTrust && fee > g.HighValueFee {
		return ErrTrustHighValue
	}
	return nil
}

// VerifyCompletion is the single completion check, invoked both when the
// courier opens the completion flow and again immediately before submit so
// the two checks cannot drift apart.
//
// The courier position passed in is the smoothed fix, matching what the UI
// renders; see DESIGN.md for the raw-vs-smoothed decision.
func (g *Gate) VerifyCompletion(ctx context.Context, courierID string, pos model.GeoPoint, parcel model.Parcel, dev Report) error {
	if dev.LocationMocked {
		metrics.GeofenceDenials.WithLabelValues("mocked_location").Inc()
		if g.Filer != nil {
			_, _ = g.Filer.ReportAnomaly(ctx, model.AnomalyReport{
				TrackingNo: parcel.TrackingNo,
				CourierID:  courierID,
				Reason:     "模拟定位完成派送被拦截",
				Automatic:  true,
				Device:     dev.Metadata(),
				Position:   &pos,
			})
		}
		return ErrMockedLocation
	}
	if parcel.DeliverPoint == nil {
		return ErrNoDeliveryPos
	}
	dist := geo.HaversineMeters(pos, *parcel.DeliverPoint)
	if dist > g.CompletionRadiusM {
		metrics.GeofenceDenials.WithLabelValues("too_far").Inc()
		return &TooFarError{DistanceM: dist, RadiusM: g.CompletionRadiusM}
	}
	return nil
}

// NearPickup is the continuous convenience check against pending-pickup
// parcels. It only drives a local haptic alert, never a gate.
func (g *Gate) NearPickup(pos model.GeoPoint, parcel model.Parcel) bool {
	if parcel.PickupPoint == nil {
		return false
	}
	return geo.HaversineMeters(pos, *parcel.PickupPoint) <= g.ProximityRadiusM
}
