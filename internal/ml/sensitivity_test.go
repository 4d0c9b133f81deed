package ml

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ev-insight/internal/errs"
)

func TestSensitivity(t *testing.T) {
	s, metrics, _ := newTestService(t, Config{SensitivitySteps: 10})

	report, err := s.Sensitivity(context.Background(), Request{ID: "sweep", Features: evInputs()})
	require.NoError(t, err)

	assert.Equal(t, "sweep", report.ID)
	assert.Equal(t, "2024-12-01", report.ModelVersion)
	assert.Equal(t, 10, report.Steps)
	assert.InDelta(t, 1825, report.Prediction, 1e-9)

	want := []SensitivityEntry{
		{Feature: "charger_density", Delta: 1e-9, Up: 0, Down: -225},
		{Feature: "median_household_income", Delta: 10000, Up: 0, Down: -150},
		{Feature: "dem_votes", Delta: 1000, Up: 0, Down: 0},
		{Feature: "rep_votes", Delta: 1000, Up: 0, Down: 0},
	}
	require.Len(t, report.Entries, len(want), "fixed margin_error is not swept")
	for i, w := range want {
		got := report.Entries[i]
		assert.Equal(t, w.Feature, got.Feature)
		assert.InEpsilon(t, w.Delta, got.Delta, 1e-9, w.Feature)
		assert.InDelta(t, w.Up, got.Up, 1e-9, w.Feature)
		assert.InDelta(t, w.Down, got.Down, 1e-9, w.Feature)
	}
	assert.InDelta(t, 225, report.Entries[0].Swing(), 1e-9)
	assert.Equal(t, 1, metrics.sensitivityRuns)
}

func TestSensitivity_DefaultsToOneStep(t *testing.T) {
	s, _, _ := newTestService(t, Config{})

	report, err := s.Sensitivity(context.Background(), Request{Features: evInputs()})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Steps)
	assert.NotEmpty(t, report.ID)
	for _, e := range report.Entries {
		if e.Feature == "median_household_income" {
			assert.Equal(t, 1000.0, e.Delta)
		}
	}
}

func TestSensitivity_ValidationError(t *testing.T) {
	s, metrics, recorder := newTestService(t, Config{})

	inputs := evInputs()
	delete(inputs, "rep_votes")
	_, err := s.Sensitivity(context.Background(), Request{Features: inputs})
	assert.ErrorIs(t, err, errs.ErrValidation)
	assert.ErrorIs(t, err, errs.ErrSchemaMismatch)
	assert.Equal(t, 0, metrics.sensitivityRuns)
	assert.Equal(t, 1, metrics.validationFailures["schema_mismatch"])
	assert.Len(t, recorder.Failures(), 1)
}

func TestSensitivity_Cancelled(t *testing.T) {
	s, _, _ := newTestService(t, Config{})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Sensitivity(ctx, Request{Features: evInputs()})
	assert.ErrorIs(t, err, errs.ErrComputation)
	assert.ErrorIs(t, err, context.Canceled)
}
