package store

import (
	"encoding/json"

	"lastmile/internal/model"
)

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullLat(p *model.GeoPoint) any {
	if p == nil {
		return nil
	}
	return p.Lat
}

func nullLng(p *model.GeoPoint) any {
	if p == nil {
		return nil
	}
	return p.Lng
}

func toJSON(v any) any {
	if v == nil {
		return nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return string(b)
}

func fromJSON(s string) map[string]any {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		return nil
	}
	return m
}
