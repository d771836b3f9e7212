// Package geo holds the distance and smoothing math shared by the route
// engine, the geofence gate, and the field tracker.
package geo

import (
	"math"

	"lastmile/internal/model"
)

const earthRadiusM = 6371000.0

// HaversineMeters returns the great-circle distance between two points.
func HaversineMeters(a, b model.GeoPoint) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(a.Lat*math.Pi/180)*math.Cos(b.Lat*math.Pi/180)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return earthRadiusM * c
}

// ETASeconds estimates travel time over distM meters at avgSpeedMPS. A
// non-positive speed falls back to a 5 m/s urban courier default.
func ETASeconds(distM, avgSpeedMPS float64) int {
	if avgSpeedMPS <= 0 {
		avgSpeedMPS = 5
	}
	return int(math.Ceil(distM / avgSpeedMPS))
}

// Smooth applies one step of the exponential filter used for raw GPS fixes:
// smoothed = prev + alpha*(raw-prev).
func Smooth(prev, raw model.GeoPoint, alpha float64) model.GeoPoint {
	if alpha <= 0 || alpha > 1 {
		return raw
	}
	return model.GeoPoint{
		Lat: prev.Lat + alpha*(raw.Lat-prev.Lat),
		Lng: prev.Lng + alpha*(raw.Lng-prev.Lng),
	}
}
