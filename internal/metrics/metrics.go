// Package metrics provides Prometheus metrics for the EV adoption prediction
// service. It covers request outcomes, latency of the prediction and
// attribution stages, input drift outside the training range and model
// lifecycle events.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors of the service.
type Metrics struct {
	// Prediction metrics
	Predictions        prometheus.Counter     // Successful predictions
	PredictionFailures *prometheus.CounterVec // Failed predictions by error kind
	ValidationFailures *prometheus.CounterVec // Rejected requests by cause
	PredictionLatency  prometheus.Histogram   // End-to-end prediction latency
	ExplanationLatency prometheus.Histogram   // Attribution latency
	EfficiencyResidual prometheus.Histogram   // |baseline + Σφ - prediction|
	InputOutOfRange    *prometheus.CounterVec // Inputs outside the training range by feature
	SensitivityRuns    prometheus.Counter     // What-if sweeps served

	// Model lifecycle
	ModelReloads *prometheus.CounterVec // Reload attempts by result
	ModelAge     prometheus.Gauge       // Seconds since the active model was trained

	// Storage and transport
	RecorderErrors  prometheus.Counter     // Failed writes to the prediction log
	HTTPRequests    *prometheus.CounterVec // API requests by route and status
	HTTPRequestTime *prometheus.HistogramVec
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics on a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	latencyBuckets := []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0}

	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "predictions_total",
			Help: "Total number of successful predictions",
		}),
		PredictionFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "prediction_failures_total",
			Help: "Total number of failed predictions by error kind",
		}, []string{"kind"}),
		ValidationFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "validation_failures_total",
			Help: "Total number of rejected prediction requests by cause",
		}, []string{"cause"}),
		PredictionLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "prediction_latency_seconds",
			Help:    "Prediction latency in seconds (build, scale, predict, explain)",
			Buckets: latencyBuckets,
		}),
		ExplanationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "explanation_latency_seconds",
			Help:    "Shapley attribution latency in seconds",
			Buckets: latencyBuckets,
		}),
		EfficiencyResidual: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "efficiency_residual",
			Help:    "Absolute difference between baseline plus attributions and the prediction",
			Buckets: prometheus.ExponentialBuckets(1e-12, 10, 10),
		}),
		InputOutOfRange: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "input_out_of_range_total",
			Help: "Total number of inputs outside the training range by feature",
		}, []string{"feature"}),
		SensitivityRuns: factory.NewCounter(prometheus.CounterOpts{
			Name: "sensitivity_runs_total",
			Help: "Total number of sensitivity sweeps",
		}),
		ModelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "model_reloads_total",
			Help: "Total number of model reload attempts by result",
		}, []string{"result"}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "model_age_seconds",
			Help: "Age of the active model in seconds since training",
		}),
		RecorderErrors: factory.NewCounter(prometheus.CounterOpts{
			Name: "prediction_log_errors_total",
			Help: "Total number of failed writes to the prediction log",
		}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of API requests by route and status code",
		}, []string{"route", "code"}),
		HTTPRequestTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
	}
}

// ErrorRate is failures / (successes + failures) as currently recorded by
// the gatherer, or 0 before any request.
func ErrorRate(g prometheus.Gatherer) float64 {
	families, err := g.Gather()
	if err != nil {
		return 0
	}

	var ok, failed float64
	for _, mf := range families {
		switch mf.GetName() {
		case "predictions_total":
			for _, m := range mf.GetMetric() {
				ok += m.GetCounter().GetValue()
			}
		case "prediction_failures_total":
			for _, m := range mf.GetMetric() {
				failed += m.GetCounter().GetValue()
			}
		}
	}

	if ok+failed == 0 {
		return 0
	}
	return failed / (ok + failed)
}
