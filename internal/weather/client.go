package weather

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/sony/gobreaker/v2"

	"github.com/lox/wellwatch/internal/forecast"
	"github.com/lox/wellwatch/internal/httputil"
	"github.com/lox/wellwatch/internal/logger"
	"github.com/lox/wellwatch/internal/metrics"
)

const (
	Source         = "openmeteo"
	DefaultBaseURL = "https://api.open-meteo.com/v1/forecast"

	// MaxDays is the longest daily forecast Open-Meteo serves.
	MaxDays = 16
)

// ErrUnavailable matches every failure to obtain a usable weather signal.
var ErrUnavailable = errors.New("weather unavailable")

var errRetryable = errors.New("retryable status")

type FetchResult struct {
	HTTPStatus   int
	ResponseSize int
	RecordCount  int
	ParseErrors  int
	ParseError   string
	Body         []byte
}

type Client struct {
	baseURL    string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[[]byte]
	maxElapsed time.Duration
}

type Option func(*Client)

// WithHTTPClient replaces the default outbound client.
func WithHTTPClient(c *http.Client) Option {
	return func(cl *Client) { cl.client = c }
}

// WithMaxElapsed bounds the total time spent retrying one fetch.
func WithMaxElapsed(d time.Duration) Option {
	return func(cl *Client) { cl.maxElapsed = d }
}

func NewClient(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL:    baseURL,
		client:     httputil.NewClient(0),
		maxElapsed: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.breaker = gobreaker.NewCircuitBreaker[[]byte](gobreaker.Settings{
		Name:        Source,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     2 * time.Minute,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	})
	return c
}

type dailyResponse struct {
	Daily struct {
		Time             []string   `json:"time"`
		TemperatureMax   []*float64 `json:"temperature_2m_max"`
		TemperatureMin   []*float64 `json:"temperature_2m_min"`
		PrecipitationSum []*float64 `json:"precipitation_sum"`
	} `json:"daily"`
}

// Fetch returns a daily weather signal for loc covering up to days steps.
// Temperature is the mean of the daily max and min.
func (c *Client) Fetch(ctx context.Context, loc forecast.Location, days int) (forecast.WeatherSignal, *FetchResult, error) {
	if days < 1 {
		days = 1
	}
	if days > MaxDays {
		days = MaxDays
	}

	result := &FetchResult{}
	start := time.Now()
	body, err := c.get(ctx, c.url(loc, days), result)
	metrics.WeatherAPILatency.WithLabelValues(Source).Observe(time.Since(start).Seconds())
	if err != nil {
		status := "error"
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			status = "circuit_open"
		}
		metrics.WeatherAPICallsTotal.WithLabelValues(Source, status).Inc()
		return forecast.WeatherSignal{}, result, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	result.Body = body
	result.ResponseSize = len(body)

	signal, err := parseDaily(body, result)
	if err != nil {
		metrics.WeatherAPICallsTotal.WithLabelValues(Source, "parse_error").Inc()
		return forecast.WeatherSignal{}, result, fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	metrics.WeatherAPICallsTotal.WithLabelValues(Source, "success").Inc()

	if result.ParseErrors > 0 {
		log := logger.WithComponent("weather")
		log.Warn().Int("parse_errors", result.ParseErrors).Str("first", result.ParseError).Msg("dropped incomplete forecast days")
	}
	return signal, result, nil
}

func (c *Client) url(loc forecast.Location, days int) string {
	values := url.Values{}
	values.Set("latitude", strconv.FormatFloat(loc.Latitude, 'f', 4, 64))
	values.Set("longitude", strconv.FormatFloat(loc.Longitude, 'f', 4, 64))
	values.Set("daily", "temperature_2m_max,temperature_2m_min,precipitation_sum")
	values.Set("forecast_days", strconv.Itoa(days))
	values.Set("timezone", "auto")
	return c.baseURL + "?" + values.Encode()
}

func (c *Client) get(ctx context.Context, u string, result *FetchResult) ([]byte, error) {
	var body []byte
	operation := func() error {
		b, err := c.breaker.Execute(func() ([]byte, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
			if err != nil {
				return nil, backoff.Permanent(err)
			}
			resp, err := c.client.Do(req)
			if err != nil {
				return nil, fmt.Errorf("fetch forecast: %w", err)
			}
			defer resp.Body.Close()

			result.HTTPStatus = resp.StatusCode
			if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
				return nil, fmt.Errorf("%w: %d", errRetryable, resp.StatusCode)
			}
			if resp.StatusCode != http.StatusOK {
				b, _ := io.ReadAll(resp.Body)
				return nil, backoff.Permanent(fmt.Errorf("fetch forecast: status %d: %s", resp.StatusCode, string(b)))
			}

			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return nil, fmt.Errorf("read body: %w", err)
			}
			return b, nil
		})
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		body = b
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = c.maxElapsed
	if err := backoff.Retry(operation, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func parseDaily(body []byte, result *FetchResult) (forecast.WeatherSignal, error) {
	var data dailyResponse
	if err := json.Unmarshal(body, &data); err != nil {
		return forecast.WeatherSignal{}, fmt.Errorf("unmarshal: %w", err)
	}

	d := data.Daily
	var signal forecast.WeatherSignal
	var parseErrors []string
	for i := range d.Time {
		tmax, tmin, rain := value(d.TemperatureMax, i), value(d.TemperatureMin, i), value(d.PrecipitationSum, i)
		if tmax == nil || tmin == nil || rain == nil {
			parseErrors = append(parseErrors, fmt.Sprintf("daily[%d] %s: missing value", i, d.Time[i]))
			continue
		}
		signal.Temperature = append(signal.Temperature, (*tmax+*tmin)/2)
		signal.Rainfall = append(signal.Rainfall, *rain)
	}

	result.RecordCount = len(signal.Temperature)
	if len(parseErrors) > 0 {
		result.ParseErrors = len(parseErrors)
		result.ParseError = fmt.Sprintf("%d parse errors: %v", len(parseErrors), parseErrors[0])
	}

	if result.RecordCount == 0 {
		return forecast.WeatherSignal{}, fmt.Errorf("no usable forecast days in response")
	}
	if err := signal.Validate(); err != nil {
		return forecast.WeatherSignal{}, fmt.Errorf("implausible provider data: %v", err)
	}
	return signal, nil
}

func value(values []*float64, i int) *float64 {
	if i >= len(values) {
		return nil
	}
	return values[i]
}
