package features

import (
	"math"

	"ev-insight/internal/errs"
)

// Vector is one row of feature values in schema order.
type Vector []float64

// Build lays inputs out in schema order. The key set of inputs must equal the
// schema's name set; anything else is rejected before any numeric work.
func Build(inputs map[string]float64, schema Schema) (Vector, error) {
	var missing, extra []string
	for _, name := range schema.names {
		if _, ok := inputs[name]; !ok {
			missing = append(missing, name)
		}
	}
	for name := range inputs {
		if _, ok := schema.index[name]; !ok {
			extra = append(extra, name)
		}
	}
	if err := errs.NewSchemaMismatch(missing, extra); err != nil {
		return nil, err
	}

	v := make(Vector, schema.Len())
	for i, name := range schema.names {
		value := inputs[name]
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return nil, errs.Validation(errs.ErrInvalidValue, "feature %q is %v", name, value)
		}
		v[i] = value
	}
	return v, nil
}

// Map is the inverse of Build.
func (v Vector) Map(schema Schema) map[string]float64 {
	out := make(map[string]float64, len(v))
	for i, value := range v {
		out[schema.names[i]] = value
	}
	return out
}

func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}
