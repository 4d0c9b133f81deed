package errs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorKinds(t *testing.T) {
	tests := []struct {
		name  string
		err   error
		kind  error
		cause error
		label string
	}{
		{"configuration", Configuration(ErrModelUnavailable, "read %s", "model.json"), ErrConfiguration, ErrModelUnavailable, "configuration"},
		{"validation", Validation(ErrInvalidValue, "feature %q is NaN", "dem_votes"), ErrValidation, ErrInvalidValue, "validation"},
		{"computation", Computation(ErrDimensionMismatch, "want 5 got 4"), ErrComputation, ErrDimensionMismatch, "computation"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.err, tt.kind)
			assert.ErrorIs(t, tt.err, tt.cause)
			assert.Equal(t, tt.kind, KindOf(tt.err))
			assert.Equal(t, tt.label, Label(tt.err))
		})
	}
}

func TestKindSurvivesWrapping(t *testing.T) {
	err := fmt.Errorf("load artifact: %w", Configuration(ErrModelUnavailable, "corrupt"))
	assert.ErrorIs(t, err, ErrConfiguration)
	assert.ErrorIs(t, err, ErrModelUnavailable)
	assert.Contains(t, err.Error(), "model unavailable: corrupt")
}

func TestSchemaMismatch(t *testing.T) {
	assert.NoError(t, NewSchemaMismatch(nil, nil))

	err := NewSchemaMismatch([]string{"rep_votes", "dem_votes"}, []string{"population"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSchemaMismatch)
	assert.ErrorIs(t, err, ErrValidation)
	assert.NotErrorIs(t, err, ErrComputation)
	assert.Equal(t, "schema mismatch: missing [dem_votes, rep_votes], extra [population]", err.Error())

	var mismatch *SchemaMismatchError
	require.True(t, errors.As(err, &mismatch))
	assert.Equal(t, []string{"dem_votes", "rep_votes"}, mismatch.Missing)
	assert.Equal(t, []string{"population"}, mismatch.Extra)
}

func TestLabelUnknown(t *testing.T) {
	assert.Nil(t, KindOf(errors.New("plain")))
	assert.Equal(t, "unknown", Label(errors.New("plain")))
}
