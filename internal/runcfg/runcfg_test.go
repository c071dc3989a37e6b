package runcfg

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Particles != DefaultParticles {
		t.Errorf("expected %d particles, got %d", DefaultParticles, cfg.Particles)
	}
	if cfg.EndTime <= 0 {
		t.Error("end time should be positive")
	}
	if cfg.Strength >= 0 {
		t.Error("default strength should keep the stored value (negative sentinel)")
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	data := []byte("particles: 500\nend_time: 2.5\nincoming: [radial, \"0.5\", \"0.5\"]\n")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Particles != 500 {
		t.Errorf("expected 500 particles, got %d", cfg.Particles)
	}
	if cfg.EndTime != 2.5 {
		t.Errorf("expected end time 2.5, got %g", cfg.EndTime)
	}
	if len(cfg.Incoming) != 3 || cfg.Incoming[0] != "radial" {
		t.Errorf("incoming spec not parsed: %v", cfg.Incoming)
	}
	// Untouched fields keep their defaults.
	if cfg.MemoryMB != DefaultMemoryMB {
		t.Errorf("memory default lost: %d", cfg.MemoryMB)
	}
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.yaml")
	cfg := Default()
	cfg.Particles = 123
	cfg.Observers = []string{"density", "caustics"}

	if err := Save(path, cfg); err != nil {
		t.Fatal(err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Particles != 123 || len(loaded.Observers) != 2 {
		t.Errorf("round trip lost data: %+v", loaded)
	}
}
