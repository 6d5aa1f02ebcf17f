package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lox/wellwatch/internal/auth"
	"github.com/lox/wellwatch/internal/logger"
	"github.com/lox/wellwatch/internal/prediction"
	"github.com/lox/wellwatch/internal/store"
)

const sessionCookie = "session_id"

// Predictor runs a forecast for a signed-in user.
type Predictor interface {
	Predict(ctx context.Context, req prediction.Request) (*prediction.Result, error)
}

type Server struct {
	store         *store.Store
	auth          *auth.Service
	predictor     Predictor
	port          string
	validate      *validator.Validate
	secureCookies bool
}

func NewServer(st *store.Store, authSvc *auth.Service, predictor Predictor, port string) *Server {
	return &Server{
		store:     st,
		auth:      authSvc,
		predictor: predictor,
		port:      port,
		validate:  newValidator(),
	}
}

// SetSecureCookies marks the session cookie Secure, for deployments
// behind TLS.
func (s *Server) SetSecureCookies(secure bool) {
	s.secureCookies = secure
}

func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Post("/register", s.handleRegister)
	r.Post("/login", s.handleLogin)
	r.Post("/logout", s.handleLogout)
	r.Get("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.requireSession)
		r.Post("/add-borewell", s.handleAddBorewell)
		r.Get("/borewells", s.handleListBorewells)
		r.Post("/set-threshold", s.handleSetThreshold)
		r.Post("/predict", s.handlePredict)
		r.Get("/predictions", s.handleListPredictions)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log := logger.WithComponent("api")
	log.Info().Str("addr", server.Addr).Msg("starting server")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
