package ml

import (
	"context"
	"errors"
	"math"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gonum.org/v1/gonum/floats"

	"ev-insight/internal/artifact"
	"ev-insight/internal/errs"
	"ev-insight/internal/explain"
	"ev-insight/internal/features"
	"ev-insight/internal/storage"
)

// efficiencyTolerance bounds |baseline + Σφ - prediction| relative to the
// prediction (absolute below 1).
const efficiencyTolerance = 1e-6

// Request is one prediction request in raw units.
type Request struct {
	ID       string             `json:"request_id,omitempty"`
	Features map[string]float64 `json:"features"`
}

// Result is a prediction with its additive explanation.
type Result struct {
	ID               string                `json:"request_id"`
	ModelVersion     string                `json:"model_version"`
	Prediction       float64               `json:"prediction"`
	Baseline         float64               `json:"baseline"`
	Attributions     []explain.Attribution `json:"attributions"`
	GlobalImportance []explain.Attribution `json:"global_importance"`
	OutOfRange       []string              `json:"out_of_range,omitempty"`
	Latency          time.Duration         `json:"-"`
}

// HealthStatus summarises the service for the health endpoint.
type HealthStatus struct {
	Healthy         bool      `json:"healthy"`
	LastCheck       time.Time `json:"last_check"`
	ModelLoaded     bool      `json:"model_loaded"`
	ModelVersion    string    `json:"model_version"`
	PredictionCount int64     `json:"prediction_count"`
	FailureCount    int64     `json:"failure_count"`
	ErrorRate       float64   `json:"error_rate"`
	LastError       string    `json:"last_error,omitempty"`
	DriftAlerts     int       `json:"drift_alerts"`
	UptimeSeconds   float64   `json:"uptime_seconds"`
}

// Service runs builder, scaler, regressor and explainer against the active
// model snapshot. It is safe for concurrent use.
type Service struct {
	cfg      Config
	current  atomic.Pointer[Model]
	metrics  MetricsInterface
	recorder Recorder
	reloadMu sync.Mutex
	started  time.Time

	predictions         atomic.Int64
	failures            atomic.Int64
	computationFailures atomic.Int64
	lastError           atomic.Value // string
}

// NewService serves a. metrics and recorder may be nil.
func NewService(a *artifact.Artifact, cfg Config, metrics MetricsInterface, recorder Recorder) (*Service, error) {
	if cfg.SensitivitySteps <= 0 {
		cfg.SensitivitySteps = 1
	}
	if metrics == nil {
		metrics = nopMetrics{}
	}

	m, err := NewModel(a, cfg)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:      cfg,
		metrics:  metrics,
		recorder: recorder,
		started:  time.Now(),
	}
	s.install(m)
	return s, nil
}

// Model returns the active snapshot.
func (s *Service) Model() *Model {
	return s.current.Load()
}

func (s *Service) install(m *Model) {
	s.current.Store(m)
	s.metrics.ModelAgeSet(m.Artifact.Age(time.Now()).Seconds())
	log.Info().
		Str("version", m.Version()).
		Int("features", m.Artifact.Schema.Len()).
		Int("trees", len(m.Artifact.Model.Trees)).
		Str("explain_method", string(m.Explainer.Method())).
		Float64("baseline", m.Baseline).
		Msg("Model loaded")
}

// Predict implements Predictor.
func (s *Service) Predict(ctx context.Context, req Request) (*Result, error) {
	start := time.Now()
	m := s.current.Load()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	res, err := s.predict(ctx, m, req)
	latency := time.Since(start)
	s.metrics.PredictionLatencyObserve(latency.Seconds())
	if err != nil {
		s.recordFailure(m, req, err)
		return nil, err
	}

	res.Latency = latency
	s.predictions.Add(1)
	s.metrics.PredictionsInc()
	s.record(m, req, res)
	return res, nil
}

func (s *Service) predict(ctx context.Context, m *Model, req Request) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, errs.Computation(err, "request abandoned before prediction")
	}
	a := m.Artifact

	raw, err := features.Build(req.Features, a.Schema)
	if err != nil {
		return nil, err
	}
	outOfRange := s.checkRanges(m, req.ID, raw)

	scaled, err := a.Scaler.Transform(raw)
	if err != nil {
		return nil, err
	}
	prediction, err := a.Model.Predict(scaled)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, errs.Computation(err, "request abandoned before attribution")
	}
	explainStart := time.Now()
	exp, err := m.Explainer.Explain(scaled)
	s.metrics.ExplanationLatencyObserve(time.Since(explainStart).Seconds())
	if err != nil {
		return nil, err
	}

	total := exp.Baseline + floats.Sum(exp.Values)
	residual := math.Abs(total - prediction)
	s.metrics.EfficiencyResidualObserve(residual)
	if residual > efficiencyTolerance*math.Max(1, math.Abs(prediction)) || math.IsNaN(residual) {
		return nil, errs.Computation(errs.ErrInvalidValue,
			"attributions sum to %v but prediction is %v", total, prediction)
	}
	m.drift.Observe(raw)

	return &Result{
		ID:               req.ID,
		ModelVersion:     a.Version,
		Prediction:       prediction,
		Baseline:         exp.Baseline,
		Attributions:     exp.Ranked(a.Schema),
		GlobalImportance: m.Importance.Ranked(),
		OutOfRange:       outOfRange,
	}, nil
}

// checkRanges warns about inputs outside the training range. It never fails
// the request.
func (s *Service) checkRanges(m *Model, requestID string, raw features.Vector) []string {
	outOfRange := features.OutOfRange(raw, m.ranges, m.Artifact.Schema)
	if len(outOfRange) == 0 {
		return nil
	}
	for _, name := range outOfRange {
		s.metrics.InputOutOfRangeInc(name)
	}
	log.Warn().
		Str("request_id", requestID).
		Strs("features", outOfRange).
		Msg("Inputs outside training range, prediction is an extrapolation")
	return outOfRange
}

func (s *Service) recordFailure(m *Model, req Request, err error) {
	kind := errs.Label(err)
	s.failures.Add(1)
	s.lastError.Store(err.Error())
	s.metrics.PredictionFailuresInc(kind)

	if errors.Is(err, errs.ErrValidation) {
		s.metrics.ValidationFailuresInc(causeLabel(err))
		log.Debug().Err(err).Str("request_id", req.ID).Msg("Rejected prediction request")
	} else {
		s.computationFailures.Add(1)
		log.Error().Err(err).Str("request_id", req.ID).Str("kind", kind).Msg("Prediction failed")
	}

	if s.recorder == nil {
		return
	}
	rec := storage.FailureRecord{
		ID:           req.ID,
		ModelVersion: m.Version(),
		Timestamp:    time.Now(),
		Kind:         kind,
		Error:        err.Error(),
		Inputs:       finiteInputs(req.Features),
	}
	if err := s.recorder.StoreFailure(rec); err != nil {
		s.metrics.RecorderErrorsInc()
		log.Warn().Err(err).Str("request_id", req.ID).Msg("Failed to log failed request")
	}
}

func (s *Service) record(m *Model, req Request, res *Result) {
	if s.recorder == nil {
		return
	}
	attributions := make(map[string]float64, len(res.Attributions))
	for _, a := range res.Attributions {
		attributions[a.Name] = a.Value
	}
	rec := storage.PredictionRecord{
		ID:           res.ID,
		ModelVersion: m.Version(),
		Timestamp:    time.Now(),
		Inputs:       req.Features,
		Prediction:   res.Prediction,
		Baseline:     res.Baseline,
		Attributions: attributions,
		OutOfRange:   res.OutOfRange,
	}
	if err := s.recorder.StorePrediction(rec); err != nil {
		s.metrics.RecorderErrorsInc()
		log.Warn().Err(err).Str("request_id", res.ID).Msg("Failed to log prediction")
	}
}

// causeLabel names the validation cause for metrics.
func causeLabel(err error) string {
	switch {
	case errors.Is(err, errs.ErrSchemaMismatch):
		return "schema_mismatch"
	case errors.Is(err, errs.ErrInvalidValue):
		return "invalid_value"
	default:
		return "other"
	}
}

// finiteInputs drops NaN and ±Inf, which JSON cannot encode.
func finiteInputs(in map[string]float64) map[string]float64 {
	out := make(map[string]float64, len(in))
	for k, v := range in {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out[k] = v
		}
	}
	return out
}

// Reload implements Predictor. A failed reload keeps the current model.
func (s *Service) Reload(path string) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	if path == "" {
		path = s.current.Load().Artifact.Path
	}

	a, err := artifact.Load(path)
	if err == nil {
		err = s.swap(a)
	}
	if err != nil {
		s.metrics.ModelReloadsInc("failure")
		log.Error().Err(err).Str("path", path).Msg("Model reload failed, keeping current model")
		return err
	}
	s.metrics.ModelReloadsInc("success")
	return nil
}

// Swap installs an already loaded artifact.
func (s *Service) Swap(a *artifact.Artifact) error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()
	return s.swap(a)
}

func (s *Service) swap(a *artifact.Artifact) error {
	m, err := NewModel(a, s.cfg)
	if err != nil {
		return err
	}
	previous := s.current.Load()
	s.install(m)
	log.Info().Str("from", previous.Version()).Str("to", m.Version()).Msg("Model swapped")
	return nil
}

// Watch reloads the active artifact whenever its file is modified after it
// was loaded, checking every interval until ctx is done.
func (s *Service) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var failedMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a := s.current.Load().Artifact
			s.metrics.ModelAgeSet(a.Age(time.Now()).Seconds())

			info, err := os.Stat(a.Path)
			if err != nil {
				continue
			}
			mod := info.ModTime()
			if !mod.After(a.ModTime) || mod.Equal(failedMod) {
				continue
			}
			log.Info().Time("modified", mod).Str("path", a.Path).Msg("Model file changed, reloading")
			if err := s.Reload(""); err != nil {
				failedMod = mod
			}
		}
	}
}

// Schema implements Predictor.
func (s *Service) Schema() []artifact.Feature {
	return append([]artifact.Feature(nil), s.current.Load().Artifact.Features...)
}

// Info implements Predictor.
func (s *Service) Info() ModelInfo {
	return s.current.Load().Info()
}

// Drift implements Predictor.
func (s *Service) Drift() []DriftAlert {
	return s.current.Load().drift.Detect()
}

// Health implements Predictor.
func (s *Service) Health() HealthStatus {
	m := s.current.Load()
	predictions := s.predictions.Load()
	failures := s.failures.Load()

	var errorRate float64
	if total := predictions + failures; total > 0 {
		errorRate = float64(s.computationFailures.Load()) / float64(total)
	}

	status := HealthStatus{
		Healthy:         m != nil && errorRate < 0.1,
		LastCheck:       time.Now(),
		ModelLoaded:     m != nil,
		PredictionCount: predictions,
		FailureCount:    failures,
		ErrorRate:       errorRate,
		UptimeSeconds:   time.Since(s.started).Seconds(),
	}
	if last, ok := s.lastError.Load().(string); ok {
		status.LastError = last
	}
	if m != nil {
		status.ModelVersion = m.Version()
		status.DriftAlerts = len(m.drift.Detect())
	}
	return status
}
