// Package geocode resolves parcel addresses to coordinates through a tiered
// lookup: explicit coordinates, local device cache, shared network cache,
// external geocoder, and finally a fixed default point.
package geocode

import (
	"context"
	"log"
	"strings"
	"time"

	"lastmile/internal/metrics"
	"lastmile/internal/model"
)

// Precision tags how trustworthy a resolved point is.
type Precision string

const (
	PrecisionHigh   Precision = "high"
	PrecisionMedium Precision = "medium"
	PrecisionLow    Precision = "low"
)

// Source names the tier that produced a resolution.
type Source string

const (
	SourceCoords      Source = "coords"
	SourceLocalCache  Source = "local_cache"
	SourceSharedCache Source = "shared_cache"
	SourceGeocoder    Source = "geocoder"
	SourceDefault     Source = "default"
)

// Resolution is the (point, precision, source) tuple handed to callers.
type Resolution struct {
	Point     model.GeoPoint `json:"point"`
	Precision Precision      `json:"precision"`
	Source    Source         `json:"source"`
}

// Geocoder is the external lookup collaborator. It may be slow or down;
// the resolver degrades instead of failing.
type Geocoder interface {
	Lookup(ctx context.Context, address string) (model.GeoPoint, error)
}

// Resolver walks the tiers in order. Local and Shared may be nil (tier
// skipped). Online gates the external lookup; when it reports false the
// geocoder is never called.
type Resolver struct {
	Local    KV
	Shared   KV
	External Geocoder
	Online   func() bool
	Default  model.GeoPoint
	TTL      time.Duration
}

// DefaultTTL bounds cache staleness for geocoded addresses.
const DefaultTTL = 30 * 24 * time.Hour

// NormalizeAddress produces the cache key: trimmed and case-folded.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// Resolve resolves a parcel location. Explicit coordinates win; otherwise
// the address walks local cache → shared cache → external geocoder →
// default. Successful coordinate and geocoder resolutions are written back
// into both caches.
func (r *Resolver) Resolve(ctx context.Context, coords *model.GeoPoint, address string) Resolution {
	key := NormalizeAddress(address)

	if coords != nil && (coords.Lat != 0 || coords.Lng != 0) {
		if key != "" {
			r.writeBack(ctx, key, *coords)
		}
		return r.resolved(Resolution{Point: *coords, Precision: PrecisionHigh, Source: SourceCoords})
	}

	if key == "" {
		return r.resolved(Resolution{Point: r.Default, Precision: PrecisionLow, Source: SourceDefault})
	}

	if r.Local != nil {
		if pt, ok := r.Local.Get(ctx, key); ok {
			return r.resolved(Resolution{Point: pt, Precision: PrecisionHigh, Source: SourceLocalCache})
		}
	}

	if r.Shared != nil {
		if pt, ok := r.Shared.Get(ctx, key); ok {
			// Promote into the local tier so the next lookup stays on
			// device.
			if r.Local != nil {
				r.Local.Put(ctx, key, pt, r.ttl())
			}
			return r.resolved(Resolution{Point: pt, Precision: PrecisionHigh, Source: SourceSharedCache})
		}
	}

	if r.External != nil && (r.Online == nil || r.Online()) {
		pt, err := r.External.Lookup(ctx, address)
		if err == nil {
			r.writeBack(ctx, key, pt)
			return r.resolved(Resolution{Point: pt, Precision: PrecisionMedium, Source: SourceGeocoder})
		}
		log.Printf("geocode: external lookup for %q failed, using default: %v", address, err)
	}

	return r.resolved(Resolution{Point: r.Default, Precision: PrecisionLow, Source: SourceDefault})
}

func (r *Resolver) resolved(res Resolution) Resolution {
	metrics.GeocodeHits.WithLabelValues(string(res.Source)).Inc()
	return res
}

func (r *Resolver) writeBack(ctx context.Context, key string, pt model.GeoPoint) {
	if r.Local != nil {
		r.Local.Put(ctx, key, pt, r.ttl())
	}
	if r.Shared != nil {
		r.Shared.Put(ctx, key, pt, r.ttl())
	}
}

func (r *Resolver) ttl() time.Duration {
	if r.TTL > 0 {
		return r.TTL
	}
	return DefaultTTL
}
