package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/lox/wellwatch/internal/logger"
	"github.com/lox/wellwatch/internal/metrics"
	"github.com/lox/wellwatch/internal/models"
	"github.com/lox/wellwatch/internal/prediction"
	"github.com/lox/wellwatch/internal/store"
)

const (
	DefaultSchedule         = "0 6 * * *"
	DefaultConcurrency      = 4
	DefaultPayloadRetention = 30 * 24 * time.Hour
)

// Predictor runs a forecast for one borewell.
type Predictor interface {
	Run(ctx context.Context, well models.Borewell, threshold *float64, horizon int, trigger string) (*prediction.Result, error)
}

type Config struct {
	Schedule         string
	Concurrency      int
	Horizon          int
	PayloadRetention time.Duration
}

type SweepResult struct {
	Targets int
	Alerts  int
	Failed  int
}

// Scheduler periodically forecasts every user with a threshold and
// reports the ones whose borewell is expected to fall below it.
type Scheduler struct {
	store     *store.Store
	predictor Predictor
	cfg       Config
	now       func() time.Time
}

func New(st *store.Store, p Predictor, cfg Config) *Scheduler {
	if cfg.Schedule == "" {
		cfg.Schedule = DefaultSchedule
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultConcurrency
	}
	if cfg.PayloadRetention <= 0 {
		cfg.PayloadRetention = DefaultPayloadRetention
	}
	return &Scheduler{
		store:     st,
		predictor: p,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Run starts the cron schedule and blocks until ctx is done. Running jobs
// finish before it returns.
func (s *Scheduler) Run(ctx context.Context) error {
	log := logger.WithComponent("scheduler")

	c := cron.New()
	if _, err := c.AddFunc(s.cfg.Schedule, func() {
		if _, err := s.Sweep(ctx); err != nil {
			log.Error().Err(err).Msg("scheduled sweep failed")
		}
	}); err != nil {
		return fmt.Errorf("schedule sweep %q: %w", s.cfg.Schedule, err)
	}
	if _, err := c.AddFunc("@hourly", s.Cleanup); err != nil {
		return fmt.Errorf("schedule cleanup: %w", err)
	}

	log.Info().Str("schedule", s.cfg.Schedule).Msg("scheduler started")
	c.Start()

	<-ctx.Done()
	log.Info().Msg("scheduler shutting down")
	<-c.Stop().Done()
	return nil
}

// Sweep forecasts every alert target once. Individual failures are
// logged and counted; only a failure to list targets is returned.
func (s *Scheduler) Sweep(ctx context.Context) (SweepResult, error) {
	log := logger.WithComponent("scheduler")
	start := s.now()
	defer func() {
		metrics.SweepDuration.Observe(time.Since(start).Seconds())
	}()

	targets, err := s.store.ListAlertTargets()
	if err != nil {
		return SweepResult{}, fmt.Errorf("list alert targets: %w", err)
	}

	var mu sync.Mutex
	result := SweepResult{Targets: len(targets)}

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, target := range targets {
		target := target
		g.Go(func() error {
			threshold := target.Threshold
			res, err := s.predictor.Run(gCtx, target.Borewell, &threshold, s.cfg.Horizon, prediction.TriggerSweep)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed++
				log.Warn().Err(err).Int64("user_id", target.UserID).Int64("borewell_id", target.Borewell.ID).Msg("sweep prediction failed")
				return nil
			}
			if res.Alert.Triggered {
				result.Alerts++
				log.Warn().
					Int64("user_id", target.UserID).
					Str("email", target.Email).
					Int64("borewell_id", target.Borewell.ID).
					Int("step", res.Alert.Index).
					Float64("level", res.Alert.Value).
					Float64("threshold", threshold).
					Msg("water level alert")
			}
			return nil
		})
	}
	g.Wait()

	log.Info().
		Int("targets", result.Targets).
		Int("alerts", result.Alerts).
		Int("failed", result.Failed).
		Dur("took", time.Since(start)).
		Msg("sweep complete")
	return result, nil
}

// Cleanup removes expired sessions and archived weather payloads past
// retention.
func (s *Scheduler) Cleanup() {
	log := logger.WithComponent("scheduler")
	now := s.now()

	if n, err := s.store.DeleteExpiredSessions(now); err != nil {
		log.Error().Err(err).Msg("delete expired sessions")
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("expired sessions removed")
	}

	if n, err := s.store.CleanupWeatherPayloads(now.Add(-s.cfg.PayloadRetention)); err != nil {
		log.Error().Err(err).Msg("cleanup weather payloads")
	} else if n > 0 {
		log.Info().Int64("deleted", n).Msg("old weather payloads removed")
	}
}
