package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file: %v", err)
	}
	if cfg.Geofence.CompletionRadiusM != 200 || cfg.Trust.MinScore != 60 {
		t.Fatalf("defaults: %+v", cfg)
	}
	if cfg.Geocode.TTLDays != 30 {
		t.Fatalf("geocode defaults: %+v", cfg.Geocode)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := []byte("geofence:\n  completion_radius_m: 150\ntrust:\n  high_value_fee: 8000\n")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Geofence.CompletionRadiusM != 150 {
		t.Fatalf("override: %+v", cfg.Geofence)
	}
	if cfg.Trust.HighValueFee != 8000 || cfg.Trust.MinScore != 60 {
		t.Fatalf("partial override keeps defaults: %+v", cfg.Trust)
	}
}

func TestLoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("geofence: ["), 0o600); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}
}
