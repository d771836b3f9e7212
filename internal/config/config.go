// Package config loads domain thresholds from a YAML file. Infrastructure
// wiring (DATABASE_URL, REDIS_URL, PORT) stays in the environment.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

type Geofence struct {
	CompletionRadiusM float64 `yaml:"completion_radius_m"`
	ProximityRadiusM  float64 `yaml:"proximity_radius_m"`
}

type Trust struct {
	MinScore       int     `yaml:"min_score"`
	HighValueScore int     `yaml:"high_value_score"`
	HighValueFee   float64 `yaml:"high_value_fee"`
}

type Geocode struct {
	DefaultLat float64 `yaml:"default_lat"`
	DefaultLng float64 `yaml:"default_lng"`
	TTLDays    int     `yaml:"ttl_days"`
}

type Config struct {
	Geofence Geofence `yaml:"geofence"`
	Trust    Trust    `yaml:"trust"`
	Geocode  Geocode  `yaml:"geocode"`
}

// Default mirrors production Yangon settings.
func Default() Config {
	return Config{
		Geofence: Geofence{CompletionRadiusM: 200, ProximityRadiusM: 100},
		Trust:    Trust{MinScore: 60, HighValueScore: 80, HighValueFee: 5000},
		Geocode:  Geocode{DefaultLat: 16.8409, DefaultLng: 96.1735, TTLDays: 30},
	}
}

// Load reads path over the defaults. A missing file is not an error; a
// malformed one is.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}
