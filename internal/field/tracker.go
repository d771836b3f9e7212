package field

import (
	"context"
	"log"
	"sync"
	"time"

	"lastmile/internal/geo"
	"lastmile/internal/model"
)

// Accuracy requested from the location sensor.
type Accuracy string

const (
	AccuracyLow    Accuracy = "low"
	AccuracyMedium Accuracy = "medium"
	AccuracyHigh   Accuracy = "high"
)

// SamplingConfig is the effective cadence of the location subscription.
type SamplingConfig struct {
	Accuracy     Accuracy
	MinInterval  time.Duration
	MinDistanceM float64
}

// The three cadence modes. Background keeps the battery alive, active keeps
// the geofence checks honest, idle sits between.
var (
	cadenceBackground = SamplingConfig{Accuracy: AccuracyLow, MinInterval: 240 * time.Second, MinDistanceM: 250}
	cadenceActive     = SamplingConfig{Accuracy: AccuracyHigh, MinInterval: 10 * time.Second, MinDistanceM: 15}
	cadenceIdle       = SamplingConfig{Accuracy: AccuracyMedium, MinInterval: 20 * time.Second, MinDistanceM: 80}
)

// Fix is one raw sample from the sensor.
type Fix struct {
	Point    model.GeoPoint
	SpeedMPS float64
	At       time.Time
}

// Subscription is a running sensor stream.
type Subscription interface {
	Stop()
}

// Sampler abstracts the platform location API.
type Sampler interface {
	Start(cfg SamplingConfig, fn func(Fix)) (Subscription, error)
}

// Uploader ships throttled positions to the server. Calls are
// fire-and-forget; failures are logged, never surfaced.
type Uploader interface {
	UploadLocation(ctx context.Context, upd model.LocationUpdate) error
}

const (
	smoothingAlpha    = 0.35
	uploadMinMoveM    = 15.0
	uploadHeartbeat   = 2 * time.Minute
	movingThresholdMS = 0.8
)

// Tracker runs the single continuous location subscription. The cadence is
// recomputed whenever the assignment set or foreground state changes, and
// the subscription is torn down and restarted only when the effective
// config actually changed, avoiding sampling gaps.
type Tracker struct {
	Sampler   Sampler
	Uploader  Uploader
	CourierID string
	// OnPosition receives each smoothed position (UI rendering, proximity
	// alerts). Optional.
	OnPosition func(model.GeoPoint)

	mu          sync.Mutex
	sub         Subscription
	cfg         SamplingConfig
	foreground  bool
	assignments int
	smoothed    *model.GeoPoint
	lastUpload  time.Time
	lastUplPos  model.GeoPoint
}

func NewTracker(sampler Sampler, uploader Uploader, courierID string) *Tracker {
	return &Tracker{Sampler: sampler, Uploader: uploader, CourierID: courierID}
}

func cadenceFor(foreground bool, assignments int) SamplingConfig {
	switch {
	case !foreground:
		return cadenceBackground
	case assignments > 0:
		return cadenceActive
	default:
		return cadenceIdle
	}
}

// SetState updates foreground/assignment state and reconciles the
// subscription. No-op when the effective cadence is unchanged.
func (t *Tracker) SetState(foreground bool, assignments int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.foreground = foreground
	t.assignments = assignments
	want := cadenceFor(foreground, assignments)
	if t.sub != nil && want == t.cfg {
		return nil
	}
	return t.restartLocked(want)
}

// Start begins sampling with the cadence for the current state.
func (t *Tracker) Start() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		return nil
	}
	return t.restartLocked(cadenceFor(t.foreground, t.assignments))
}

func (t *Tracker) restartLocked(cfg SamplingConfig) error {
	if t.sub != nil {
		t.sub.Stop()
		t.sub = nil
	}
	sub, err := t.Sampler.Start(cfg, t.onFix)
	if err != nil {
		return err
	}
	t.sub = sub
	t.cfg = cfg
	return nil
}

// Stop releases the subscription. Idempotent: lifecycle events (background
// with no assignments, logout) can each request it.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sub != nil {
		t.sub.Stop()
		t.sub = nil
	}
}

// Running reports whether the subscription is live.
func (t *Tracker) Running() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sub != nil
}

// Position returns the latest smoothed position.
func (t *Tracker) Position() (model.GeoPoint, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.smoothed == nil {
		return model.GeoPoint{}, false
	}
	return *t.smoothed, true
}

func (t *Tracker) onFix(f Fix) {
	t.mu.Lock()
	var pt model.GeoPoint
	if t.smoothed == nil {
		pt = f.Point
	} else {
		pt = geo.Smooth(*t.smoothed, f.Point, smoothingAlpha)
	}
	t.smoothed = &pt
	upload := t.shouldUploadLocked(pt, f)
	if upload {
		t.lastUpload = f.At
		t.lastUplPos = pt
	}
	onPos := t.OnPosition
	t.mu.Unlock()

	if onPos != nil {
		onPos(pt)
	}
	if upload && t.Uploader != nil {
		upd := model.LocationUpdate{
			CourierID: t.CourierID,
			Lat:       pt.Lat,
			Lng:       pt.Lng,
			SpeedMPS:  f.SpeedMPS,
			TS:        f.At.UTC().Format(time.RFC3339),
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := t.Uploader.UploadLocation(ctx, upd); err != nil {
				log.Printf("tracker: location upload failed: %v", err)
			}
		}()
	}
}

// shouldUploadLocked throttles uploads independently of sampling: send when
// the courier moved more than 15 m while actually moving, or when the
// 2-minute heartbeat elapses, bounding write volume while staying live when
// stationary.
func (t *Tracker) shouldUploadLocked(pt model.GeoPoint, f Fix) bool {
	if t.lastUpload.IsZero() {
		return true
	}
	if f.At.Sub(t.lastUpload) > uploadHeartbeat {
		return true
	}
	moved := geo.HaversineMeters(t.lastUplPos, pt)
	return moved > uploadMinMoveM && f.SpeedMPS > movingThresholdMS
}
