package ml

import (
	"errors"
	"sync"

	"ev-insight/internal/storage"
)

// MockMetrics implements MetricsInterface for testing
type MockMetrics struct {
	mu                 sync.Mutex
	predictions        int
	failures           map[string]int
	validationFailures map[string]int
	latencySum         float64
	explainSum         float64
	residuals          []float64
	outOfRange         map[string]int
	sensitivityRuns    int
	reloads            map[string]int
	modelAge           float64
	recorderErrors     int
}

func NewMockMetrics() *MockMetrics {
	return &MockMetrics{
		failures:           make(map[string]int),
		validationFailures: make(map[string]int),
		outOfRange:         make(map[string]int),
		reloads:            make(map[string]int),
	}
}

func (m *MockMetrics) PredictionsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.predictions++
}

func (m *MockMetrics) PredictionFailuresInc(kind string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[kind]++
}

func (m *MockMetrics) ValidationFailuresInc(cause string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.validationFailures[cause]++
}

func (m *MockMetrics) PredictionLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latencySum += v
}

func (m *MockMetrics) ExplanationLatencyObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.explainSum += v
}

func (m *MockMetrics) EfficiencyResidualObserve(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.residuals = append(m.residuals, v)
}

func (m *MockMetrics) InputOutOfRangeInc(feature string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outOfRange[feature]++
}

func (m *MockMetrics) SensitivityRunsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sensitivityRuns++
}

func (m *MockMetrics) ModelReloadsInc(result string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reloads[result]++
}

func (m *MockMetrics) ModelAgeSet(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.modelAge = v
}

func (m *MockMetrics) RecorderErrorsInc() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recorderErrors++
}

// MockRecorder implements Recorder for testing. When Fail is set every
// write returns an error.
type MockRecorder struct {
	mu          sync.Mutex
	Fail        bool
	predictions []storage.PredictionRecord
	failures    []storage.FailureRecord
}

func (r *MockRecorder) StorePrediction(rec storage.PredictionRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return errors.New("recorder unavailable")
	}
	r.predictions = append(r.predictions, rec)
	return nil
}

func (r *MockRecorder) StoreFailure(rec storage.FailureRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Fail {
		return errors.New("recorder unavailable")
	}
	r.failures = append(r.failures, rec)
	return nil
}

func (r *MockRecorder) Predictions() []storage.PredictionRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.PredictionRecord(nil), r.predictions...)
}

func (r *MockRecorder) Failures() []storage.FailureRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]storage.FailureRecord(nil), r.failures...)
}
