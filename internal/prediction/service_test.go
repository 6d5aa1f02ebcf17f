package prediction

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"

	_ "modernc.org/sqlite"

	"github.com/lox/wellwatch/internal/forecast"
	"github.com/lox/wellwatch/internal/store"
	"github.com/lox/wellwatch/internal/weather"
)

type fakeWeather struct {
	signal forecast.WeatherSignal
	body   []byte
	err    error
	calls  int
	days   int
}

func (f *fakeWeather) Fetch(ctx context.Context, loc forecast.Location, days int) (forecast.WeatherSignal, *weather.FetchResult, error) {
	f.calls++
	f.days = days
	return f.signal, &weather.FetchResult{Body: f.body}, f.err
}

func setupTestService(t *testing.T, ws WeatherSource) (*Service, *store.Store) {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	st := store.New(db)
	if err := st.Migrate(); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	engine, err := forecast.NewEngine(forecast.DefaultConfig())
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return NewService(st, engine, ws), st
}

func createUserWithWell(t *testing.T, st *store.Store, lat, lon float64) int64 {
	t.Helper()
	userID, err := st.CreateUser("farmer@example.com", "hash", "farmer")
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	if _, err := st.AddBorewell(userID, "home", lat, lon); err != nil {
		t.Fatalf("AddBorewell: %v", err)
	}
	return userID
}

func TestPredict_RecordsRun(t *testing.T) {
	ws := &fakeWeather{
		signal: forecast.WeatherSignal{Temperature: []float64{36}, Rainfall: []float64{0}},
		body:   []byte(`{"daily":{}}`),
	}
	svc, st := setupTestService(t, ws)
	userID := createUserWithWell(t, st, 12.97, 77.59)
	if err := st.SetThreshold(userID, 100); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}

	res, err := svc.Predict(context.Background(), Request{UserID: userID, Horizon: 5})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if len(res.Series) != 5 || ws.days != 5 {
		t.Errorf("len(Series) = %d, days fetched = %d; want 5", len(res.Series), ws.days)
	}
	if !res.Alert.Triggered {
		t.Error("threshold of 100 m should trigger")
	}
	if res.Advisory.Status != forecast.StatusCritical {
		t.Errorf("Status = %q, want critical", res.Advisory.Status)
	}
	if res.RunID == 0 {
		t.Error("RunID = 0")
	}

	runs, err := st.ListPredictionRuns(userID, 10)
	if err != nil {
		t.Fatalf("ListPredictionRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("len(runs) = %d, want 1", len(runs))
	}
	var stored []float64
	if err := json.Unmarshal([]byte(runs[0].SeriesJSON), &stored); err != nil {
		t.Fatalf("unmarshal series: %v", err)
	}
	if len(stored) != 5 || stored[0] != res.Series[0] {
		t.Errorf("stored series = %v, want %v", stored, res.Series)
	}
	if !runs[0].Threshold.Valid || runs[0].Threshold.Float64 != 100 || runs[0].Source != TriggerAPI {
		t.Errorf("run = %+v", runs[0])
	}

	if body, _, err := st.GetWeatherPayload(1); err != nil || string(body) != `{"daily":{}}` {
		t.Errorf("archived payload = %q, %v", body, err)
	}
}

func TestPredict_NoThreshold(t *testing.T) {
	ws := &fakeWeather{signal: forecast.WeatherSignal{Temperature: []float64{25}, Rainfall: []float64{2}}}
	svc, st := setupTestService(t, ws)
	userID := createUserWithWell(t, st, 12.97, 77.59)

	res, err := svc.Predict(context.Background(), Request{UserID: userID})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Alert.Triggered || res.Alert.Index != -1 {
		t.Errorf("Alert = %+v, want untriggered with index -1", res.Alert)
	}
	if len(res.Series) != forecast.DefaultConfig().DefaultHorizon {
		t.Errorf("len(Series) = %d, want default horizon", len(res.Series))
	}
}

func TestPredict_Errors(t *testing.T) {
	tests := []struct {
		name      string
		weather   *fakeWeather
		wellLat   float64
		noWell    bool
		horizon   int
		borewell  int64
		want      error
		wantFetch bool
	}{
		{
			name:    "no borewell",
			weather: &fakeWeather{},
			noWell:  true,
			want:    ErrNoBorewell,
		},
		{
			name:     "borewell owned by someone else",
			weather:  &fakeWeather{},
			borewell: 999,
			want:     ErrNoBorewell,
		},
		{
			name:    "horizon too large",
			weather: &fakeWeather{},
			horizon: 100,
			want:    forecast.ErrInvalidInput,
		},
		{
			name:    "negative horizon",
			weather: &fakeWeather{},
			horizon: -1,
			want:    forecast.ErrInvalidInput,
		},
		{
			name:    "stored latitude out of range",
			weather: &fakeWeather{},
			wellLat: 95,
			want:    forecast.ErrInvalidInput,
		},
		{
			name:      "weather failure",
			weather:   &fakeWeather{err: weather.ErrUnavailable},
			want:      ErrWeather,
			wantFetch: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, st := setupTestService(t, tt.weather)
			var userID int64
			if tt.noWell {
				id, err := st.CreateUser("nowell@example.com", "hash", "farmer")
				if err != nil {
					t.Fatalf("CreateUser: %v", err)
				}
				userID = id
			} else {
				lat := tt.wellLat
				if lat == 0 {
					lat = 12.97
				}
				userID = createUserWithWell(t, st, lat, 77.59)
			}

			_, err := svc.Predict(context.Background(), Request{UserID: userID, BorewellID: tt.borewell, Horizon: tt.horizon})
			if !errors.Is(err, tt.want) {
				t.Fatalf("err = %v, want %v", err, tt.want)
			}
			if fetched := tt.weather.calls > 0; fetched != tt.wantFetch {
				t.Errorf("weather fetched = %v, want %v", fetched, tt.wantFetch)
			}

			runs, _ := st.ListPredictionRuns(userID, 10)
			if len(runs) != 0 {
				t.Errorf("failed prediction recorded %d runs", len(runs))
			}
		})
	}
}

func TestPredict_SpecificBorewell(t *testing.T) {
	ws := &fakeWeather{signal: forecast.WeatherSignal{Temperature: []float64{25}, Rainfall: []float64{0}}}
	svc, st := setupTestService(t, ws)
	userID := createUserWithWell(t, st, 12.97, 77.59)
	second, err := st.AddBorewell(userID, "second", 13.1, 77.7)
	if err != nil {
		t.Fatalf("AddBorewell: %v", err)
	}

	res, err := svc.Predict(context.Background(), Request{UserID: userID, BorewellID: second.ID, Horizon: 2})
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if res.Borewell.ID != second.ID {
		t.Errorf("Borewell = %d, want %d", res.Borewell.ID, second.ID)
	}
}
