package ensemble

import "ev-insight/internal/errs"

// HasImpurity reports whether every tree carries node impurities and covers,
// which is what ImpurityImportance needs.
func (e *Ensemble) HasImpurity() bool {
	for i := range e.Trees {
		if len(e.Trees[i].Impurity) == 0 || len(e.Trees[i].Cover) == 0 {
			return false
		}
	}
	return e.HasCover()
}

// ImpurityImportance sums the weighted impurity decrease of every split per
// feature. Each tree's decreases are divided by its root cover, and the
// result is normalised to sum to 1 (all zeros when no split decreases
// impurity).
func (e *Ensemble) ImpurityImportance() ([]float64, error) {
	if !e.HasImpurity() {
		return nil, errs.Configuration(errs.ErrModelUnavailable, "trees carry no impurity or cover data")
	}
	out := make([]float64, e.numFeatures)
	for i := range e.Trees {
		t := &e.Trees[i]
		root := t.Cover[0]
		for node := 0; node < t.Len(); node++ {
			if t.IsLeaf(node) {
				continue
			}
			l, r := t.Left[node], t.Right[node]
			decrease := t.Cover[node]*t.Impurity[node] - t.Cover[l]*t.Impurity[l] - t.Cover[r]*t.Impurity[r]
			out[t.Feature[node]] += decrease / root
		}
	}
	total := 0.0
	for _, v := range out {
		total += v
	}
	if total > 0 {
		for i := range out {
			out[i] /= total
		}
	}
	return out, nil
}
