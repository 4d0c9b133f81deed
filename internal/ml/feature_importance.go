package ml

import (
	"sort"

	"ev-insight/internal/artifact"
	"ev-insight/internal/explain"
)

// GlobalImportance is the model-wide importance of each feature, fixed for
// the lifetime of one artifact.
type GlobalImportance struct {
	ranked []explain.Attribution
}

// NewGlobalImportance ranks the artifact's importances, highest first. Fixed
// features are left out when hideFixed is set.
func NewGlobalImportance(a *artifact.Artifact, hideFixed bool) GlobalImportance {
	ranked := make([]explain.Attribution, 0, len(a.Importance))
	for i, score := range a.Importance {
		if hideFixed && a.Features[i].Fixed {
			continue
		}
		ranked = append(ranked, explain.Attribution{Name: a.Schema.Name(i), Value: score})
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].Value > ranked[j].Value })
	return GlobalImportance{ranked: ranked}
}

// Ranked returns a copy of the importances, highest first.
func (g GlobalImportance) Ranked() []explain.Attribution {
	return append([]explain.Attribution(nil), g.ranked...)
}

func (g GlobalImportance) Map() map[string]float64 {
	out := make(map[string]float64, len(g.ranked))
	for _, a := range g.ranked {
		out[a.Name] = a.Value
	}
	return out
}

// TopFeatures returns the names of the n most important features.
func (g GlobalImportance) TopFeatures(n int) []string {
	if n > len(g.ranked) {
		n = len(g.ranked)
	}
	out := make([]string, n)
	for i := 0; i < n; i++ {
		out[i] = g.ranked[i].Name
	}
	return out
}
