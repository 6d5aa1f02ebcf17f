package forecast

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeModelFile(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write model file: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPathIsDefault(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	want := DefaultConfig()
	if cfg.DefaultHorizon != want.DefaultHorizon || cfg.RainGain != want.RainGain {
		t.Errorf("LoadConfig(\"\") = %+v, want defaults", cfg)
	}
	if _, err := NewEngine(cfg); err != nil {
		t.Errorf("default config rejected: %v", err)
	}
}

func TestLoadConfig_OverridesDefaults(t *testing.T) {
	path := writeModelFile(t, `
default_horizon: 5
rain_gain: 0.03
regions:
  - name: deccan
    min_lat: 10
    max_lat: 20
    min_lon: 70
    max_lon: 80
    baseline: 8.25
`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.DefaultHorizon != 5 {
		t.Errorf("DefaultHorizon = %d, want 5", cfg.DefaultHorizon)
	}
	if cfg.RainGain != 0.03 {
		t.Errorf("RainGain = %v, want 0.03", cfg.RainGain)
	}
	if cfg.TempDecay != DefaultConfig().TempDecay {
		t.Errorf("TempDecay = %v, want default kept", cfg.TempDecay)
	}
	if len(cfg.Regions) != 1 || cfg.Regions[0].Baseline != 8.25 {
		t.Fatalf("Regions = %+v", cfg.Regions)
	}

	e, err := NewEngine(cfg)
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	got, err := e.Baseline(Location{Latitude: 15, Longitude: 75})
	if err != nil || got != 8.25 {
		t.Errorf("Baseline = %v, %v; want 8.25", got, err)
	}
}

func TestLoadConfig_Errors(t *testing.T) {
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file: want error")
	}

	path := writeModelFile(t, "rain_gainz: 1\n")
	if _, err := LoadConfig(path); err == nil {
		t.Error("unknown key: want error")
	}
}

func TestLoadConfig_NullBaselineUnavailable(t *testing.T) {
	path := writeModelFile(t, "default_baseline: null\n")
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if _, err := NewEngine(cfg); !errors.Is(err, ErrModelUnavailable) {
		t.Errorf("NewEngine err = %v, want ErrModelUnavailable", err)
	}
}
