// Package forecast turns a borewell location and a short-range weather
// signal into a groundwater level forecast, and decides whether that
// forecast breaches a user's alert threshold.
//
// Everything here is pure: no I/O, no clock reads, no shared mutable state.
package forecast

import (
	"fmt"
	"math"
)

const (
	minTemperature = -90.0
	maxTemperature = 60.0

	// maxRainfall is a daily total above the wettest day on record.
	maxRainfall = 2000.0
)

// Location is a WGS-84 coordinate in decimal degrees.
type Location struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// WeatherSignal carries per-step temperature (°C) and rainfall (mm).
// A single-element slice acts as a scalar; steps past the end of a series
// reuse its last value.
type WeatherSignal struct {
	Temperature []float64 `json:"temperature"`
	Rainfall    []float64 `json:"rainfall"`
}

// Series is a chronological water level forecast in metres; index 0 is
// the nearest step and lower values are drier.
type Series []float64

// Engine computes forecasts from an immutable Config. It is safe for
// concurrent use.
type Engine struct {
	cfg   Config
	scale float64
}

// NewEngine validates cfg and binds a private copy of it.
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:   cfg.clone(),
		scale: math.Pow(10, float64(cfg.Decimals)),
	}, nil
}

// DefaultHorizon is the step count used when Forecast is called with 0.
func (e *Engine) DefaultHorizon() int { return e.cfg.DefaultHorizon }

// MaxHorizon is the largest accepted horizon.
func (e *Engine) MaxHorizon() int { return e.cfg.MaxHorizon }

// WarningDrop is the configured fall that raises a warning advisory.
func (e *Engine) WarningDrop() float64 { return e.cfg.WarningDrop }

// Forecast returns horizon predicted levels for loc. A horizon of 0 selects
// the configured default. Inputs are validated in full before any
// computation starts.
func (e *Engine) Forecast(loc Location, w WeatherSignal, horizon int) (Series, error) {
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	horizon, err := e.ResolveHorizon(horizon)
	if err != nil {
		return nil, err
	}

	baseline, err := e.Baseline(loc)
	if err != nil {
		return nil, err
	}

	rainKernel := kernel(e.cfg.RainDecay, horizon)
	tempKernel := kernel(e.cfg.TempDecay, horizon)

	out := make(Series, horizon)
	for i := 0; i < horizon; i++ {
		var recharge, loss float64
		for j := 0; j <= i; j++ {
			recharge += e.cfg.RainGain * at(w.Rainfall, j) * rainKernel[i-j]
			loss += e.cfg.TempGain * (at(w.Temperature, j) - e.cfg.TempReference) * tempKernel[i-j]
		}
		level := e.round(baseline - e.cfg.Recession*float64(i+1) + recharge - loss)
		if !finite(level) {
			return nil, invalid("weather", "step %d level is not a finite number", i)
		}
		out[i] = level
	}
	return out, nil
}

// Baseline returns the historical level for loc: the first configured
// region containing it, otherwise the default baseline.
func (e *Engine) Baseline(loc Location) (float64, error) {
	for _, r := range e.cfg.Regions {
		if r.contains(loc) {
			return r.Baseline, nil
		}
	}
	if e.cfg.DefaultBaseline != nil {
		return *e.cfg.DefaultBaseline, nil
	}
	return 0, &ModelUnavailableError{
		Reason: fmt.Sprintf("no baseline covers %.4f,%.4f", loc.Latitude, loc.Longitude),
	}
}

// Validate checks loc against the coordinate invariants.
func (l Location) Validate() error {
	if !finite(l.Latitude) || l.Latitude < -90 || l.Latitude > 90 {
		return invalid("latitude", "%v outside [-90, 90]", l.Latitude)
	}
	if !finite(l.Longitude) || l.Longitude < -180 || l.Longitude > 180 {
		return invalid("longitude", "%v outside [-180, 180]", l.Longitude)
	}
	return nil
}

// Validate checks both series are present, finite and physically plausible.
func (w WeatherSignal) Validate() error {
	if len(w.Temperature) == 0 {
		return invalid("temperature", "at least one value required")
	}
	if len(w.Rainfall) == 0 {
		return invalid("rainfall", "at least one value required")
	}
	for i, t := range w.Temperature {
		if !finite(t) || t < minTemperature || t > maxTemperature {
			return invalid(fmt.Sprintf("temperature[%d]", i), "%v outside [%v, %v] °C", t, minTemperature, maxTemperature)
		}
	}
	for i, r := range w.Rainfall {
		if !finite(r) || r < 0 {
			return invalid(fmt.Sprintf("rainfall[%d]", i), "%v must be a non-negative number", r)
		}
		if r > maxRainfall {
			return invalid(fmt.Sprintf("rainfall[%d]", i), "%v above %v mm", r, maxRainfall)
		}
	}
	return nil
}

// ResolveHorizon maps 0 to the default horizon and rejects anything
// outside [1, MaxHorizon].
func (e *Engine) ResolveHorizon(horizon int) (int, error) {
	if horizon == 0 {
		horizon = e.cfg.DefaultHorizon
	}
	if horizon < 1 || horizon > e.cfg.MaxHorizon {
		return 0, invalid("horizon", "%d outside [1, %d]", horizon, e.cfg.MaxHorizon)
	}
	return horizon, nil
}

// round rounds half away from zero to the configured decimals. The +0
// turns a negative zero into positive zero.
func (e *Engine) round(v float64) float64 {
	return math.Round(v*e.scale)/e.scale + 0
}

// kernel returns decay^k for k in [0, n).
func kernel(decay float64, n int) []float64 {
	w := make([]float64, n)
	weight := 1.0
	for k := range w {
		w[k] = weight
		weight *= decay
	}
	return w
}

func at(values []float64, i int) float64 {
	if i >= len(values) {
		return values[len(values)-1]
	}
	return values[i]
}
