package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/wellwatch/internal/forecast"
	"github.com/lox/wellwatch/internal/models"
	"github.com/lox/wellwatch/internal/prediction"
)

type borewellRequest struct {
	Name      string   `json:"name" validate:"max=100"`
	Latitude  *float64 `json:"latitude" validate:"required,gte=-90,lte=90"`
	Longitude *float64 `json:"longitude" validate:"required,gte=-180,lte=180"`
}

type thresholdRequest struct {
	Threshold *float64 `json:"threshold" validate:"required"`
}

type predictRequest struct {
	BorewellID int64 `json:"borewell_id" validate:"gte=0"`
	Horizon    int   `json:"horizon"`
}

type predictLocation struct {
	BorewellID int64   `json:"borewell_id"`
	Name       string  `json:"name"`
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
}

type predictResponse struct {
	Prediction  forecast.Series      `json:"prediction"`
	Alert       bool                 `json:"alert"`
	AlertDetail forecast.AlertResult `json:"alert_detail"`
	Advisory    forecast.Advisory    `json:"advisory"`
	Location    predictLocation      `json:"location"`
	Horizon     int                  `json:"horizon"`
	RunID       int64                `json:"run_id,omitempty"`
}

type predictionRunResponse struct {
	ID          int64     `json:"id"`
	BorewellID  int64     `json:"borewell_id"`
	RequestedAt time.Time `json:"requested_at"`
	Source      string    `json:"source"`
	Horizon     int       `json:"horizon"`
	Prediction  []float64 `json:"prediction"`
	Alert       bool      `json:"alert"`
	MinIndex    *int64    `json:"min_index,omitempty"`
	MinValue    *float64  `json:"min_value,omitempty"`
	Threshold   *float64  `json:"threshold,omitempty"`
	Status      string    `json:"status"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleAddBorewell(w http.ResponseWriter, r *http.Request) {
	var req borewellRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	sess := sessionFrom(r)
	well, err := s.store.AddBorewell(sess.UserID, req.Name, *req.Latitude, *req.Longitude)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, struct {
		Message  string          `json:"message"`
		Borewell models.Borewell `json:"borewell"`
	}{"Borewell added", *well})
}

func (s *Server) handleListBorewells(w http.ResponseWriter, r *http.Request) {
	wells, err := s.store.ListBorewells(sessionFrom(r).UserID)
	if err != nil {
		writeInternal(w, r, err)
		return
	}
	if wells == nil {
		wells = []models.Borewell{}
	}
	writeJSON(w, http.StatusOK, wells)
}

func (s *Server) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var req thresholdRequest
	if !s.decode(w, r, &req, false) {
		return
	}

	if err := s.store.SetThreshold(sessionFrom(r).UserID, *req.Threshold); err != nil {
		writeInternal(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Message   string  `json:"message"`
		Threshold float64 `json:"threshold"`
	}{"Threshold saved", *req.Threshold})
}

func (s *Server) handlePredict(w http.ResponseWriter, r *http.Request) {
	var req predictRequest
	if !s.decode(w, r, &req, true) {
		return
	}

	res, err := s.predictor.Predict(r.Context(), prediction.Request{
		UserID:     sessionFrom(r).UserID,
		BorewellID: req.BorewellID,
		Horizon:    req.Horizon,
		Trigger:    prediction.TriggerAPI,
	})
	if err != nil {
		writeFailure(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, predictResponse{
		Prediction:  res.Series,
		Alert:       res.Alert.Triggered,
		AlertDetail: res.Alert,
		Advisory:    res.Advisory,
		Location: predictLocation{
			BorewellID: res.Borewell.ID,
			Name:       res.Borewell.Name,
			Latitude:   res.Borewell.Latitude,
			Longitude:  res.Borewell.Longitude,
		},
		Horizon: res.Horizon,
		RunID:   res.RunID,
	})
}

func (s *Server) handleListPredictions(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 200 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}

	runs, err := s.store.ListPredictionRuns(sessionFrom(r).UserID, limit)
	if err != nil {
		writeInternal(w, r, err)
		return
	}

	out := make([]predictionRunResponse, 0, len(runs))
	for _, run := range runs {
		run := run
		resp := predictionRunResponse{
			ID:          run.ID,
			BorewellID:  run.BorewellID,
			RequestedAt: run.RequestedAt,
			Source:      run.Source,
			Horizon:     run.Horizon,
			Alert:       run.Alert,
			Status:      run.Status,
		}
		if err := json.Unmarshal([]byte(run.SeriesJSON), &resp.Prediction); err != nil {
			writeInternal(w, r, err)
			return
		}
		if run.MinIndex.Valid {
			resp.MinIndex = &run.MinIndex.Int64
		}
		if run.MinValue.Valid {
			resp.MinValue = &run.MinValue.Float64
		}
		if run.Threshold.Valid {
			resp.Threshold = &run.Threshold.Float64
		}
		out = append(out, resp)
	}
	writeJSON(w, http.StatusOK, out)
}
