package forecast

import (
	"bytes"
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Region is a rectangular area sharing one historical baseline level.
type Region struct {
	Name     string  `yaml:"name"`
	MinLat   float64 `yaml:"min_lat"`
	MaxLat   float64 `yaml:"max_lat"`
	MinLon   float64 `yaml:"min_lon"`
	MaxLon   float64 `yaml:"max_lon"`
	Baseline float64 `yaml:"baseline"`
}

func (r Region) contains(loc Location) bool {
	return loc.Latitude >= r.MinLat && loc.Latitude <= r.MaxLat &&
		loc.Longitude >= r.MinLon && loc.Longitude <= r.MaxLon
}

// Config holds the model coefficients. It is treated as read-only once
// handed to NewEngine.
type Config struct {
	DefaultHorizon int `yaml:"default_horizon"`
	MaxHorizon     int `yaml:"max_horizon"`
	Decimals       int `yaml:"decimals"`

	// Regions are searched in order; the first containing region wins.
	Regions         []Region `yaml:"regions"`
	DefaultBaseline *float64 `yaml:"default_baseline"`

	// Recession is the natural drawdown per step in metres.
	Recession float64 `yaml:"recession"`

	// RainGain is metres of recharge per mm of rain on the day it falls.
	RainGain  float64 `yaml:"rain_gain"`
	RainDecay float64 `yaml:"rain_decay"`

	// TempGain is metres of evapotranspiration loss per °C above TempReference.
	TempGain      float64 `yaml:"temp_gain"`
	TempDecay     float64 `yaml:"temp_decay"`
	TempReference float64 `yaml:"temp_reference"`

	// WarningDrop is the first-to-last fall in metres that raises a warning advisory.
	WarningDrop float64 `yaml:"warning_drop"`
}

// DefaultConfig returns the coefficients used when no model file is supplied.
func DefaultConfig() Config {
	baseline := 10.0
	return Config{
		DefaultHorizon:  7,
		MaxHorizon:      16,
		Decimals:        3,
		DefaultBaseline: &baseline,
		Recession:       0.02,
		RainGain:        0.015,
		RainDecay:       0.6,
		TempGain:        0.004,
		TempDecay:       0.5,
		TempReference:   20,
		WarningDrop:     0.3,
	}
}

// LoadConfig reads a YAML model file over DefaultConfig. An empty path
// returns the defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read model config: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse model config %s: %w", path, err)
	}
	return cfg, nil
}

func (c Config) validate() error {
	if len(c.Regions) == 0 && c.DefaultBaseline == nil {
		return &ModelUnavailableError{Reason: "no baseline regions and no default baseline configured"}
	}
	if c.MaxHorizon < 1 {
		return &ModelUnavailableError{Reason: fmt.Sprintf("max_horizon %d must be positive", c.MaxHorizon)}
	}
	if c.DefaultHorizon < 1 || c.DefaultHorizon > c.MaxHorizon {
		return &ModelUnavailableError{Reason: fmt.Sprintf("default_horizon %d outside [1, %d]", c.DefaultHorizon, c.MaxHorizon)}
	}
	if c.Decimals < 0 || c.Decimals > 9 {
		return &ModelUnavailableError{Reason: fmt.Sprintf("decimals %d outside [0, 9]", c.Decimals)}
	}

	coefficients := []struct {
		name  string
		value float64
		decay bool
	}{
		{"recession", c.Recession, false},
		{"rain_gain", c.RainGain, false},
		{"temp_gain", c.TempGain, false},
		{"rain_decay", c.RainDecay, true},
		{"temp_decay", c.TempDecay, true},
		{"warning_drop", c.WarningDrop, false},
	}
	for _, co := range coefficients {
		if math.IsNaN(co.value) || math.IsInf(co.value, 0) || co.value < 0 {
			return &ModelUnavailableError{Reason: fmt.Sprintf("%s must be a non-negative number", co.name)}
		}
		if co.decay && co.value > 1 {
			return &ModelUnavailableError{Reason: fmt.Sprintf("%s must be within [0, 1]", co.name)}
		}
	}
	if !finite(c.TempReference) {
		return &ModelUnavailableError{Reason: "temp_reference must be finite"}
	}
	if c.DefaultBaseline != nil && !finite(*c.DefaultBaseline) {
		return &ModelUnavailableError{Reason: "default_baseline must be finite"}
	}
	for i, r := range c.Regions {
		if !finite(r.Baseline) || r.MinLat > r.MaxLat || r.MinLon > r.MaxLon {
			return &ModelUnavailableError{Reason: fmt.Sprintf("region %d (%s) has an invalid box or baseline", i, r.Name)}
		}
	}
	return nil
}

// clone returns a copy sharing no memory with c.
func (c Config) clone() Config {
	out := c
	out.Regions = append([]Region(nil), c.Regions...)
	if c.DefaultBaseline != nil {
		b := *c.DefaultBaseline
		out.DefaultBaseline = &b
	}
	return out
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
