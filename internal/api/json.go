package api

import (
	"encoding/json"
	"net/http"

	"lastmile/internal/field"
)

// Problem is an RFC7807 problem-details body. DistanceM and RadiusM are
// extension members, populated only on geofence denials.
type Problem struct {
	Type      string  `json:"type"`
	Title     string  `json:"title"`
	Status    int     `json:"status"`
	Detail    string  `json:"detail,omitempty"`
	Instance  string  `json:"instance,omitempty"`
	DistanceM float64 `json:"distanceM,omitempty"`
	RadiusM   float64 `json:"radiusM,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail, instance string) {
	writeProblemBody(w, Problem{
		Type:     "about:blank",
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: instance,
	})
}

// writeTooFar reports a geofence denial with the measured distance so the
// client can render how far off the courier is.
func writeTooFar(w http.ResponseWriter, e *field.TooFarError, instance string) {
	writeProblemBody(w, Problem{
		Type:      "outside_geofence",
		Title:     "Outside delivery geofence",
		Status:    http.StatusForbidden,
		Detail:    e.Error(),
		Instance:  instance,
		DistanceM: e.DistanceM,
		RadiusM:   e.RadiusM,
	})
}

func writeProblemBody(w http.ResponseWriter, p Problem) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(p.Status)
	_ = json.NewEncoder(w).Encode(p)
}
