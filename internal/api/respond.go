package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/lox/wellwatch/internal/forecast"
	"github.com/lox/wellwatch/internal/logger"
	"github.com/lox/wellwatch/internal/prediction"
	"github.com/lox/wellwatch/internal/store"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error string `json:"error"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeInternal(w http.ResponseWriter, r *http.Request, err error) {
	id, _ := r.Context().Value(requestIDKey).(string)
	log := logger.WithComponent("api")
	log.Error().Err(err).Str("request_id", id).Str("path", r.URL.Path).Msg("internal error")
	writeError(w, http.StatusInternalServerError, "internal error")
}

// writeFailure maps domain errors onto HTTP statuses.
func writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	var iie *forecast.InvalidInputError
	switch {
	case errors.Is(err, prediction.ErrNoBorewell):
		writeError(w, http.StatusNotFound, "No borewell found")
	case errors.Is(err, prediction.ErrWeather):
		writeError(w, http.StatusBadGateway, "weather service unavailable")
	case errors.As(err, &iie):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: iie.Error(), Field: iie.Field})
	case errors.Is(err, forecast.ErrModelUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, "already exists")
	default:
		writeInternal(w, r, err)
	}
}

// decode reads a JSON body into dst and validates it. An empty body is
// accepted when allowEmpty is set. It writes the 400 response itself and
// reports whether the handler should continue.
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any, allowEmpty bool) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if !(allowEmpty && errors.Is(err, io.EOF)) {
			writeError(w, http.StatusBadRequest, "invalid JSON body: "+err.Error())
			return false
		}
	}

	if err := s.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			fe := verrs[0]
			writeJSON(w, http.StatusBadRequest, errorResponse{
				Error: validationMessage(fe),
				Field: fe.Field(),
			})
			return false
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func validationMessage(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return "Missing fields: " + field
	case "email":
		return field + " must be a valid email address"
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", field, fe.Param())
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	default:
		return fmt.Sprintf("%s failed %s validation", field, fe.Tag())
	}
}

// newValidator reports field errors under their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
