package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/alecthomas/kong"
	kongdotenv "github.com/titusjaka/kong-dotenv-go"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/lox/wellwatch/internal/api"
	"github.com/lox/wellwatch/internal/auth"
	"github.com/lox/wellwatch/internal/forecast"
	"github.com/lox/wellwatch/internal/httputil"
	"github.com/lox/wellwatch/internal/logger"
	"github.com/lox/wellwatch/internal/prediction"
	"github.com/lox/wellwatch/internal/scheduler"
	"github.com/lox/wellwatch/internal/store"
	"github.com/lox/wellwatch/internal/weather"
)

type Globals struct {
	EnvFile     kongdotenv.ENVFileConfig `kong:"optional,name='env-file',default='.env',help='Path to .env file.'"`
	DB          string                   `name:"db" env:"WELLWATCH_DB" default:"data/wellwatch.db" help:"Path to SQLite database."`
	ModelConfig string                   `name:"model-config" env:"MODEL_CONFIG" help:"YAML file with forecast model coefficients."`
	LogLevel    string                   `name:"log-level" env:"LOG_LEVEL" default:"info" enum:"debug,info,warn,error" help:"Log level."`
	LogPretty   bool                     `name:"log-pretty" env:"LOG_PRETTY" help:"Human-readable console logs."`
}

type CLI struct {
	Globals

	Serve   ServeCmd   `cmd:"" default:"1" help:"Run the HTTP API and scheduled alert sweep."`
	Predict PredictCmd `cmd:"" help:"Forecast a location offline from given weather values."`
	Migrate MigrateCmd `cmd:"" help:"Apply database migrations."`
	Sweep   SweepCmd   `cmd:"" help:"Run one alert sweep and exit."`
}

type WeatherFlags struct {
	WeatherBaseURL string        `name:"weather-base-url" env:"WEATHER_BASE_URL" default:"https://api.open-meteo.com/v1/forecast" help:"Open-Meteo forecast endpoint."`
	WeatherTimeout time.Duration `name:"weather-timeout" env:"WEATHER_TIMEOUT" default:"15s" help:"Per-request weather timeout."`
}

type ServeCmd struct {
	WeatherFlags `embed:""`

	Port          string        `env:"PORT" default:"8080" help:"HTTP server port."`
	NoSweep       bool          `name:"no-sweep" help:"Disable the scheduled alert sweep."`
	SweepSchedule string        `name:"sweep-schedule" env:"SWEEP_SCHEDULE" default:"0 6 * * *" help:"Cron expression for the alert sweep."`
	Concurrency   int           `env:"SWEEP_CONCURRENCY" default:"4" help:"Concurrent forecasts during a sweep."`
	SessionTTL    time.Duration `name:"session-ttl" env:"SESSION_TTL" default:"168h" help:"Login session lifetime."`
	SecureCookies bool          `name:"secure-cookies" env:"SECURE_COOKIES" help:"Mark session cookies Secure."`
}

type PredictCmd struct {
	Lat       float64   `required:"" help:"Latitude in decimal degrees."`
	Lon       float64   `required:"" help:"Longitude in decimal degrees."`
	Temp      []float64 `default:"25" sep:"," help:"Temperature per day in °C."`
	Rain      []float64 `default:"0" sep:"," help:"Rainfall per day in mm."`
	Horizon   int       `default:"0" help:"Days to forecast (0 uses the model default)."`
	Threshold *float64  `help:"Alert threshold in metres."`
}

type MigrateCmd struct{}

type SweepCmd struct {
	WeatherFlags `embed:""`

	Concurrency int `env:"SWEEP_CONCURRENCY" default:"4" help:"Concurrent forecasts."`
}

func main() {
	var cli CLI
	ctx := kong.Parse(&cli,
		kong.Name("wellwatch"),
		kong.Description("Borewell groundwater forecasting and alerts."),
		kong.UsageOnError(),
	)
	logger.Init(cli.LogLevel, cli.LogPretty)
	ctx.FatalIfErrorf(ctx.Run(&cli.Globals))
}

func (c *ServeCmd) Run(g *Globals) error {
	log := logger.WithComponent("main")

	st, closeDB, err := openStore(g.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	engine, err := loadEngine(g.ModelConfig)
	if err != nil {
		return err
	}

	ws := c.WeatherFlags.client()
	predictions := prediction.NewService(st, engine, ws)
	authSvc := auth.NewService(st, auth.Config{SessionTTL: c.SessionTTL})

	server := api.NewServer(st, authSvc, predictions, c.Port)
	server.SetSecureCookies(c.SecureCookies)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	eg, gctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return server.Run(gctx) })
	if !c.NoSweep {
		sched := scheduler.New(st, predictions, scheduler.Config{
			Schedule:    c.SweepSchedule,
			Concurrency: c.Concurrency,
		})
		eg.Go(func() error { return sched.Run(gctx) })
	} else {
		log.Info().Msg("alert sweep disabled (--no-sweep)")
	}
	return eg.Wait()
}

func (c *PredictCmd) Run(g *Globals) error {
	engine, err := loadEngine(g.ModelConfig)
	if err != nil {
		return err
	}

	loc := forecast.Location{Latitude: c.Lat, Longitude: c.Lon}
	series, err := engine.Forecast(loc, forecast.WeatherSignal{Temperature: c.Temp, Rainfall: c.Rain}, c.Horizon)
	if err != nil {
		return err
	}
	alert, err := forecast.Evaluate(series, c.Threshold)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Prediction  forecast.Series      `json:"prediction"`
		Alert       bool                 `json:"alert"`
		AlertDetail forecast.AlertResult `json:"alert_detail"`
		Advisory    forecast.Advisory    `json:"advisory"`
		Location    forecast.Location    `json:"location"`
	}{series, alert.Triggered, alert, forecast.Advise(series, alert, engine.WarningDrop()), loc})
}

func (c *MigrateCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	version, err := st.MigrationVersion()
	if err != nil {
		return err
	}
	fmt.Printf("schema version %d\n", version)
	return nil
}

func (c *SweepCmd) Run(g *Globals) error {
	st, closeDB, err := openStore(g.DB)
	if err != nil {
		return err
	}
	defer closeDB()

	engine, err := loadEngine(g.ModelConfig)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	predictions := prediction.NewService(st, engine, c.WeatherFlags.client())
	res, err := scheduler.New(st, predictions, scheduler.Config{Concurrency: c.Concurrency}).Sweep(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("targets=%d alerts=%d failed=%d\n", res.Targets, res.Alerts, res.Failed)
	return nil
}

func (w WeatherFlags) client() *weather.Client {
	return weather.NewClient(w.WeatherBaseURL, weather.WithHTTPClient(httputil.NewClient(w.WeatherTimeout)))
}

// openStore opens and migrates the database.
func openStore(path string) (*store.Store, func(), error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return st, func() { db.Close() }, nil
}

func loadEngine(path string) (*forecast.Engine, error) {
	cfg, err := forecast.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	return forecast.NewEngine(cfg)
}
