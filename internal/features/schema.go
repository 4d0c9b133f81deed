package features

import (
	"strings"

	"ev-insight/internal/errs"
)

// Schema is the ordered list of feature names a model was trained on.
// The order is authoritative: vectors are always laid out in schema order.
type Schema struct {
	names []string
	index map[string]int
}

func NewSchema(names []string) (Schema, error) {
	if len(names) == 0 {
		return Schema{}, errs.Configuration(errs.ErrSchemaMismatch, "feature schema is empty")
	}
	s := Schema{
		names: make([]string, len(names)),
		index: make(map[string]int, len(names)),
	}
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return Schema{}, errs.Configuration(errs.ErrSchemaMismatch, "feature %d has an empty name", i)
		}
		if _, dup := s.index[name]; dup {
			return Schema{}, errs.Configuration(errs.ErrSchemaMismatch, "duplicate feature name %q", name)
		}
		s.names[i] = name
		s.index[name] = i
	}
	return s, nil
}

func (s Schema) Len() int { return len(s.names) }

// Names returns a copy of the ordered names.
func (s Schema) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

func (s Schema) Name(i int) string { return s.names[i] }

func (s Schema) Index(name string) (int, bool) {
	i, ok := s.index[name]
	return i, ok
}
