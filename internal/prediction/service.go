// Package prediction runs a forecast for a stored borewell: it resolves
// the location and threshold, fetches weather, calls the forecast engine
// and records the outcome.
package prediction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lox/wellwatch/internal/forecast"
	"github.com/lox/wellwatch/internal/logger"
	"github.com/lox/wellwatch/internal/metrics"
	"github.com/lox/wellwatch/internal/models"
	"github.com/lox/wellwatch/internal/store"
	"github.com/lox/wellwatch/internal/weather"
)

const (
	TriggerAPI   = "api"
	TriggerSweep = "sweep"
)

var (
	ErrNoBorewell = errors.New("no borewell found")
	ErrWeather    = errors.New("weather fetch failed")
)

// WeatherSource supplies the weather signal for a location.
type WeatherSource interface {
	Fetch(ctx context.Context, loc forecast.Location, days int) (forecast.WeatherSignal, *weather.FetchResult, error)
}

type Request struct {
	UserID     int64
	BorewellID int64 // 0 selects the primary borewell
	Horizon    int
	Trigger    string
}

type Result struct {
	RunID    int64
	Borewell models.Borewell
	Horizon  int
	Series   forecast.Series
	Alert    forecast.AlertResult
	Advisory forecast.Advisory
}

type Service struct {
	store   *store.Store
	engine  *forecast.Engine
	weather WeatherSource
	now     func() time.Time
}

func NewService(st *store.Store, engine *forecast.Engine, ws WeatherSource) *Service {
	return &Service{
		store:   st,
		engine:  engine,
		weather: ws,
		now:     time.Now,
	}
}

// Predict resolves the user's borewell and threshold and runs a forecast.
func (s *Service) Predict(ctx context.Context, req Request) (*Result, error) {
	trigger := req.Trigger
	if trigger == "" {
		trigger = TriggerAPI
	}

	var well *models.Borewell
	var err error
	if req.BorewellID != 0 {
		well, err = s.store.GetBorewell(req.UserID, req.BorewellID)
	} else {
		well, err = s.store.GetPrimaryBorewell(req.UserID)
	}
	if err != nil {
		return nil, fmt.Errorf("get borewell: %w", err)
	}
	if well == nil {
		metrics.PredictionsTotal.WithLabelValues(trigger, "no_borewell").Inc()
		return nil, ErrNoBorewell
	}

	threshold, err := s.store.GetThreshold(req.UserID)
	if err != nil {
		return nil, fmt.Errorf("get threshold: %w", err)
	}

	return s.Run(ctx, *well, threshold, req.Horizon, trigger)
}

// Run forecasts for a known borewell. Location and horizon are checked
// before weather is fetched.
func (s *Service) Run(ctx context.Context, well models.Borewell, threshold *float64, horizon int, trigger string) (*Result, error) {
	res, err := s.run(ctx, well, threshold, horizon, trigger)
	metrics.PredictionsTotal.WithLabelValues(trigger, outcome(err)).Inc()
	if err != nil {
		return nil, err
	}
	if res.Alert.Triggered {
		metrics.AlertsTriggered.WithLabelValues(trigger).Inc()
	}
	return res, nil
}

func (s *Service) run(ctx context.Context, well models.Borewell, threshold *float64, horizon int, trigger string) (*Result, error) {
	log := logger.WithComponent("prediction")

	loc := forecast.Location{Latitude: well.Latitude, Longitude: well.Longitude}
	if err := loc.Validate(); err != nil {
		return nil, err
	}
	horizon, err := s.engine.ResolveHorizon(horizon)
	if err != nil {
		return nil, err
	}

	signal, fetch, err := s.weather.Fetch(ctx, loc, horizon)
	if fetch != nil && len(fetch.Body) > 0 {
		if _, serr := s.store.StoreWeatherPayload(weather.Source, loc.Latitude, loc.Longitude, fetch.Body); serr != nil {
			log.Warn().Err(serr).Msg("archive weather payload")
		}
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrWeather, err)
	}

	series, err := s.engine.Forecast(loc, signal, horizon)
	if err != nil {
		return nil, err
	}
	alert, err := forecast.Evaluate(series, threshold)
	if err != nil {
		return nil, err
	}
	advisory := forecast.Advise(series, alert, s.engine.WarningDrop())

	res := &Result{
		Borewell: well,
		Horizon:  horizon,
		Series:   series,
		Alert:    alert,
		Advisory: advisory,
	}

	run, err := newRun(well, trigger, s.now(), res)
	if err != nil {
		return nil, err
	}
	if res.RunID, err = s.store.InsertPredictionRun(run); err != nil {
		log.Warn().Err(err).Int64("borewell_id", well.ID).Msg("record prediction run")
	}

	log.Debug().
		Int64("user_id", well.UserID).
		Int64("borewell_id", well.ID).
		Int("horizon", horizon).
		Bool("alert", alert.Triggered).
		Str("status", string(advisory.Status)).
		Msg("prediction complete")
	return res, nil
}

func newRun(well models.Borewell, trigger string, now time.Time, res *Result) (models.PredictionRun, error) {
	seriesJSON, err := json.Marshal(res.Series)
	if err != nil {
		return models.PredictionRun{}, fmt.Errorf("marshal series: %w", err)
	}
	run := models.PredictionRun{
		UserID:      well.UserID,
		BorewellID:  well.ID,
		RequestedAt: now.UTC(),
		Source:      trigger,
		Horizon:     res.Horizon,
		SeriesJSON:  string(seriesJSON),
		Alert:       res.Alert.Triggered,
		Status:      string(res.Advisory.Status),
	}
	if res.Alert.Index >= 0 {
		run.MinIndex.Int64, run.MinIndex.Valid = int64(res.Alert.Index), true
		run.MinValue.Float64, run.MinValue.Valid = res.Alert.Value, true
	}
	if res.Alert.Threshold != nil {
		run.Threshold.Float64, run.Threshold.Valid = *res.Alert.Threshold, true
	}
	return run, nil
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrWeather):
		return "weather_error"
	case errors.Is(err, forecast.ErrInvalidInput):
		return "invalid_input"
	case errors.Is(err, forecast.ErrModelUnavailable):
		return "model_unavailable"
	default:
		return "error"
	}
}
