package features

// Range is the span of a feature observed in the training data.
type Range struct {
	Min, Max float64
}

func (r Range) Contains(v float64) bool {
	if r.Min == 0 && r.Max == 0 {
		return true
	}
	return v >= r.Min && v <= r.Max
}

// OutOfRange names the features of v that fall outside their training range.
// ranges is aligned with the schema; a zero Range means unknown.
func OutOfRange(v Vector, ranges []Range, schema Schema) []string {
	var out []string
	for i, value := range v {
		if i >= len(ranges) {
			break
		}
		if !ranges[i].Contains(value) {
			out = append(out, schema.names[i])
		}
	}
	return out
}
