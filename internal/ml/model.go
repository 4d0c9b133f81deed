package ml

import (
	"time"

	"ev-insight/internal/artifact"
	"ev-insight/internal/errs"
	"ev-insight/internal/explain"
	"ev-insight/internal/features"
)

// Config selects the service's optional behaviour.
type Config struct {
	ExplainMethod       explain.Method
	SensitivitySteps    int
	HideFixedImportance bool
	Drift               DriftConfig
}

// Model is an immutable snapshot of everything a request needs. Only the
// drift window inside it changes, under its own lock.
type Model struct {
	Artifact   *artifact.Artifact
	Explainer  explain.Explainer
	Importance GlobalImportance
	Baseline   float64
	LoadedAt   time.Time

	ranges []features.Range
	drift  *DriftDetector
}

// NewModel checks that a can be served and explained and prepares the
// per-artifact state.
func NewModel(a *artifact.Artifact, cfg Config) (*Model, error) {
	if a == nil || a.Model == nil {
		return nil, errs.Configuration(errs.ErrModelUnavailable, "no artifact loaded")
	}
	if a.Scaler.Len() != a.Schema.Len() || a.Model.NumFeatures() != a.Schema.Len() {
		return nil, errs.Configuration(errs.ErrDimensionMismatch,
			"schema has %d features, scaler %d, model %d", a.Schema.Len(), a.Scaler.Len(), a.Model.NumFeatures())
	}

	explainer, err := explain.New(a.Model, cfg.ExplainMethod)
	if err != nil {
		return nil, err
	}

	return &Model{
		Artifact:   a,
		Explainer:  explainer,
		Importance: NewGlobalImportance(a, cfg.HideFixedImportance),
		Baseline:   a.Model.ExpectedValue(),
		LoadedAt:   time.Now(),
		ranges:     a.Ranges(),
		drift:      NewDriftDetector(a, cfg.Drift),
	}, nil
}

func (m *Model) Version() string { return m.Artifact.Version }

// ModelInfo describes the active model.
type ModelInfo struct {
	Version          string                `json:"version"`
	TrainedAt        time.Time             `json:"trained_at"`
	LoadedAt         time.Time             `json:"loaded_at"`
	Target           string                `json:"target"`
	Path             string                `json:"path,omitempty"`
	Features         []string              `json:"features"`
	Trees            int                   `json:"trees"`
	LearningRate     float64               `json:"learning_rate"`
	Baseline         float64               `json:"baseline"`
	ExplainMethod    explain.Method        `json:"explain_method"`
	Metrics          artifact.Metrics      `json:"metrics"`
	GlobalImportance []explain.Attribution `json:"global_importance"`
}

func (m *Model) Info() ModelInfo {
	a := m.Artifact
	return ModelInfo{
		Version:          a.Version,
		TrainedAt:        a.TrainedAt,
		LoadedAt:         m.LoadedAt,
		Target:           a.Target,
		Path:             a.Path,
		Features:         a.Schema.Names(),
		Trees:            len(a.Model.Trees),
		LearningRate:     a.Model.LearningRate,
		Baseline:         m.Baseline,
		ExplainMethod:    m.Explainer.Method(),
		Metrics:          a.Metrics,
		GlobalImportance: m.Importance.Ranked(),
	}
}
