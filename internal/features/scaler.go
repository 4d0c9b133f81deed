package features

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"ev-insight/internal/errs"
)

// Scaler holds fitted standardization parameters, one (mean, scale) pair per
// schema feature.
type Scaler struct {
	mean  []float64
	scale []float64
}

func NewScaler(mean, scale []float64) (Scaler, error) {
	if len(mean) != len(scale) {
		return Scaler{}, errs.Configuration(errs.ErrDimensionMismatch, "scaler has %d means and %d scales", len(mean), len(scale))
	}
	for i := range scale {
		if scale[i] == 0 || math.IsNaN(scale[i]) || math.IsInf(scale[i], 0) {
			return Scaler{}, errs.Configuration(errs.ErrInvalidValue, "scale of feature %d is %v", i, scale[i])
		}
		if math.IsNaN(mean[i]) || math.IsInf(mean[i], 0) {
			return Scaler{}, errs.Configuration(errs.ErrInvalidValue, "mean of feature %d is %v", i, mean[i])
		}
	}
	s := Scaler{mean: make([]float64, len(mean)), scale: make([]float64, len(scale))}
	copy(s.mean, mean)
	copy(s.scale, scale)
	return s, nil
}

func (s Scaler) Len() int { return len(s.mean) }

// Params returns copies of the fitted means and scales.
func (s Scaler) Params() (mean, scale []float64) {
	mean = make([]float64, len(s.mean))
	scale = make([]float64, len(s.scale))
	copy(mean, s.mean)
	copy(scale, s.scale)
	return mean, scale
}

// Transform returns a new vector with scaled[i] = (v[i]-mean[i])/scale[i].
func (s Scaler) Transform(v Vector) (Vector, error) {
	if len(v) != len(s.mean) {
		return nil, errs.Computation(errs.ErrDimensionMismatch, "scaler expects %d features, got %d", len(s.mean), len(v))
	}
	out := make(Vector, len(v))
	floats.SubTo(out, v, s.mean)
	floats.Div(out, s.scale)
	return out, nil
}

// Inverse maps a scaled vector back to raw units.
func (s Scaler) Inverse(scaled Vector) (Vector, error) {
	if len(scaled) != len(s.mean) {
		return nil, errs.Computation(errs.ErrDimensionMismatch, "scaler expects %d features, got %d", len(s.mean), len(scaled))
	}
	out := make(Vector, len(scaled))
	floats.MulTo(out, scaled, s.scale)
	floats.Add(out, s.mean)
	return out, nil
}
