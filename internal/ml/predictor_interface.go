// Package ml serves EV adoption predictions with per-feature Shapley
// attributions. It owns the active model snapshot, hot reloads it, and
// tracks model versions, global importance and input drift.
//
// A Service never mutates a loaded artifact: every request runs against the
// snapshot it started with, and reloads swap the snapshot atomically.
package ml

import (
	"context"

	"ev-insight/internal/artifact"
	"ev-insight/internal/storage"
)

// Predictor is the surface the HTTP layer needs from the service.
type Predictor interface {
	// Predict returns the prediction, its baseline and the ranked attributions.
	Predict(ctx context.Context, req Request) (*Result, error)

	// Sensitivity moves each adjustable feature up and down by its step and
	// reports the change in prediction.
	Sensitivity(ctx context.Context, req Request) (*SensitivityReport, error)

	Schema() []artifact.Feature
	Info() ModelInfo
	Health() HealthStatus
	Drift() []DriftAlert

	// Reload loads the artifact at path, or the active artifact's path when
	// empty, and swaps it in once it validates.
	Reload(path string) error
}

// MetricsInterface defines metrics methods needed by the service
type MetricsInterface interface {
	PredictionsInc()
	PredictionFailuresInc(kind string)
	ValidationFailuresInc(cause string)
	PredictionLatencyObserve(float64)
	ExplanationLatencyObserve(float64)
	EfficiencyResidualObserve(float64)
	InputOutOfRangeInc(feature string)
	SensitivityRunsInc()
	ModelReloadsInc(result string)
	ModelAgeSet(float64)
	RecorderErrorsInc()
}

// Recorder persists served predictions and failed requests.
type Recorder interface {
	StorePrediction(storage.PredictionRecord) error
	StoreFailure(storage.FailureRecord) error
}

type nopMetrics struct{}

func (nopMetrics) PredictionsInc()                   {}
func (nopMetrics) PredictionFailuresInc(string)      {}
func (nopMetrics) ValidationFailuresInc(string)      {}
func (nopMetrics) PredictionLatencyObserve(float64)  {}
func (nopMetrics) ExplanationLatencyObserve(float64) {}
func (nopMetrics) EfficiencyResidualObserve(float64) {}
func (nopMetrics) InputOutOfRangeInc(string)         {}
func (nopMetrics) SensitivityRunsInc()               {}
func (nopMetrics) ModelReloadsInc(string)            {}
func (nopMetrics) ModelAgeSet(float64)               {}
func (nopMetrics) RecorderErrorsInc()                {}
