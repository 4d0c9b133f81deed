// Package api exposes the prediction service over HTTP.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"ev-insight/internal/ml"
)

const defaultRequestTimeout = 5 * time.Second

// Observer records finished requests.
type Observer interface {
	HTTPRequestObserve(route string, code int, seconds float64)
}

// Options configures a Server. Only Addr is required.
type Options struct {
	Addr           string
	RequestTimeout time.Duration
	// Versions enables the registry routes when set.
	Versions *ml.ModelManager
	Observer Observer
	// Gatherer backs /metrics; the default registry when nil.
	Gatherer prometheus.Gatherer
}

// Server serves predictions, explanations and model management.
type Server struct {
	predictor ml.Predictor
	versions  *ml.ModelManager
	observer  Observer
	timeout   time.Duration
	router    *mux.Router
	server    *http.Server
}

// NewServer wires the routes for predictor.
func NewServer(predictor ml.Predictor, opts Options) *Server {
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	s := &Server{
		predictor: predictor,
		versions:  opts.Versions,
		observer:  opts.Observer,
		timeout:   opts.RequestTimeout,
		router:    mux.NewRouter(),
	}

	metricsHandler := promhttp.Handler()
	if opts.Gatherer != nil {
		metricsHandler = promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{})
	}

	r := s.router
	r.Use(s.instrument)
	r.HandleFunc("/predict", s.handlePredict).Methods("POST")
	r.HandleFunc("/sensitivity", s.handleSensitivity).Methods("POST")
	r.HandleFunc("/schema", s.handleSchema).Methods("GET")
	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/drift", s.handleDrift).Methods("GET")
	r.HandleFunc("/model/info", s.handleModelInfo).Methods("GET")
	r.HandleFunc("/model/reload", s.handleReload).Methods("POST")
	r.HandleFunc("/model/versions", s.handleListVersions).Methods("GET")
	r.HandleFunc("/model/rollback", s.handleRollback).Methods("POST")
	r.Handle("/metrics", metricsHandler).Methods("GET")

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: opts.RequestTimeout + 5*time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// Handler returns the router, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving HTTP until Shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.server.Addr).Msg("Starting prediction API")
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type statusRecorder struct {
	http.ResponseWriter
	code int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument records route, status and latency of every request.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		elapsed := time.Since(start)
		if s.observer != nil {
			s.observer.HTTPRequestObserve(route, rec.code, elapsed.Seconds())
		}
		log.Debug().
			Str("method", r.Method).
			Str("route", route).
			Int("status", rec.code).
			Dur("latency", elapsed).
			Msg("HTTP request")
	})
}
