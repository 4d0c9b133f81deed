package ml

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"ev-insight/internal/errs"
	"ev-insight/internal/features"
)

// SensitivityEntry is the prediction change when one feature is moved by
// Delta in raw units, all others held at the request's values.
type SensitivityEntry struct {
	Feature string  `json:"feature"`
	Delta   float64 `json:"delta"`
	Up      float64 `json:"up"`
	Down    float64 `json:"down"`
}

// Swing is the spread between the up and down moves.
func (e SensitivityEntry) Swing() float64 { return math.Abs(e.Up - e.Down) }

// SensitivityReport lists entries by swing, largest first.
type SensitivityReport struct {
	ID           string             `json:"request_id"`
	ModelVersion string             `json:"model_version"`
	Prediction   float64            `json:"prediction"`
	Steps        int                `json:"steps"`
	Entries      []SensitivityEntry `json:"entries"`
}

// Sensitivity implements Predictor. Fixed features and features without a
// step are not moved.
func (s *Service) Sensitivity(ctx context.Context, req Request) (*SensitivityReport, error) {
	start := time.Now()
	m := s.current.Load()
	if req.ID == "" {
		req.ID = uuid.NewString()
	}

	report, err := s.sensitivity(ctx, m, req)
	if err != nil {
		s.recordFailure(m, req, err)
		return nil, err
	}

	s.metrics.SensitivityRunsInc()
	log.Debug().
		Str("request_id", req.ID).
		Int("features", len(report.Entries)).
		Dur("latency", time.Since(start)).
		Msg("Sensitivity sweep complete")
	return report, nil
}

func (s *Service) sensitivity(ctx context.Context, m *Model, req Request) (*SensitivityReport, error) {
	a := m.Artifact
	raw, err := features.Build(req.Features, a.Schema)
	if err != nil {
		return nil, err
	}

	predictRaw := func(v features.Vector) (float64, error) {
		scaled, err := a.Scaler.Transform(v)
		if err != nil {
			return 0, err
		}
		return a.Model.Predict(scaled)
	}

	base, err := predictRaw(raw)
	if err != nil {
		return nil, err
	}

	steps := float64(s.cfg.SensitivitySteps)
	var entries []SensitivityEntry
	for i, f := range a.Features {
		if f.Fixed || f.Step <= 0 {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, errs.Computation(err, "sensitivity sweep abandoned at %s", f.Name)
		}

		delta := f.Step * steps
		moved := raw.Clone()

		moved[i] = raw[i] + delta
		up, err := predictRaw(moved)
		if err != nil {
			return nil, err
		}
		moved[i] = raw[i] - delta
		down, err := predictRaw(moved)
		if err != nil {
			return nil, err
		}

		entries = append(entries, SensitivityEntry{Feature: f.Name, Delta: delta, Up: up - base, Down: down - base})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].Swing() > entries[j].Swing() })

	return &SensitivityReport{
		ID:           req.ID,
		ModelVersion: a.Version,
		Prediction:   base,
		Steps:        s.cfg.SensitivitySteps,
		Entries:      entries,
	}, nil
}
