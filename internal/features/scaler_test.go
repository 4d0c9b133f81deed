package features

import (
	"errors"
	"math"
	"testing"

	"ev-insight/internal/errs"
)

func TestScaler_SingleFeature(t *testing.T) {
	s, err := NewScaler([]float64{50000}, []float64{20000})
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}

	got, err := s.Transform(Vector{70000})
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	if len(got) != 1 || got[0] != 1.0 {
		t.Errorf("Expected [1.0], got %v", got)
	}
}

func TestScaler_MatchesFormulaExactly(t *testing.T) {
	mean := []float64{81234.5, 3012.25, 48211, 29877, 5.3e-9}
	scale := []float64{19876.1, 512.3, 40111.7, 20233.9, 2.1e-9}
	s, err := NewScaler(mean, scale)
	if err != nil {
		t.Fatalf("NewScaler: %v", err)
	}

	v := Vector{91000, 3100, 52000, 31000, 6e-9}
	got, err := s.Transform(v)
	if err != nil {
		t.Fatalf("Transform: %v", err)
	}
	for i := range v {
		want := (v[i] - mean[i]) / scale[i]
		if got[i] != want {
			t.Errorf("feature %d: expected %v, got %v", i, want, got[i])
		}
	}

	if v[0] != 91000 {
		t.Error("Transform mutated its input")
	}

	back, err := s.Inverse(got)
	if err != nil {
		t.Fatalf("Inverse: %v", err)
	}
	for i := range v {
		if math.Abs(back[i]-v[i]) > 1e-9*math.Max(1, math.Abs(v[i])) {
			t.Errorf("feature %d: inverse %v != %v", i, back[i], v[i])
		}
	}
}

func TestScaler_DimensionMismatch(t *testing.T) {
	s, _ := NewScaler([]float64{0, 0}, []float64{1, 1})

	_, err := s.Transform(Vector{1, 2, 3})
	if !errors.Is(err, errs.ErrDimensionMismatch) {
		t.Errorf("Expected dimension mismatch, got %v", err)
	}
	_, err = s.Inverse(Vector{1})
	if !errors.Is(err, errs.ErrDimensionMismatch) {
		t.Errorf("Expected dimension mismatch from Inverse, got %v", err)
	}
}

func TestNewScaler_Invalid(t *testing.T) {
	testCases := []struct {
		name  string
		mean  []float64
		scale []float64
	}{
		{"zero scale", []float64{1, 2}, []float64{1, 0}},
		{"nan scale", []float64{1}, []float64{math.NaN()}},
		{"inf mean", []float64{math.Inf(1)}, []float64{1}},
		{"length mismatch", []float64{1, 2}, []float64{1}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := NewScaler(tc.mean, tc.scale); !errors.Is(err, errs.ErrConfiguration) {
				t.Errorf("Expected configuration error, got %v", err)
			}
		})
	}
}
