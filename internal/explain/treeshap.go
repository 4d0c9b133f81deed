package explain

import (
	"ev-insight/internal/ensemble"
	"ev-insight/internal/errs"
)

// pathElement tracks one split feature on the current root-to-node path:
// the fraction of cover that flows through the path when the feature is
// unknown (zero) or known (one), and the running permutation weight.
type pathElement struct {
	feature int
	zero    float64
	one     float64
	weight  float64
}

type treeExplainer struct {
	ens      *ensemble.Ensemble
	baseline float64
}

func newTreeExplainer(ens *ensemble.Ensemble) *treeExplainer {
	return &treeExplainer{ens: ens, baseline: ens.ExpectedValue()}
}

func (e *treeExplainer) Method() Method { return MethodTree }

func (e *treeExplainer) Explain(x []float64) (Explanation, error) {
	n := e.ens.NumFeatures()
	if len(x) != n {
		return Explanation{}, errs.Computation(errs.ErrDimensionMismatch, "explainer expects %d features, got %d", n, len(x))
	}

	phi := make([]float64, n)
	treePhi := make([]float64, n)
	for i := range e.ens.Trees {
		clear(treePhi)
		recurse(&e.ens.Trees[i], 0, x, treePhi, nil, 0, 1, 1, -1)
		for f := range phi {
			phi[f] += e.ens.LearningRate * treePhi[f]
		}
	}
	return Explanation{Baseline: e.baseline, Values: phi}, nil
}

// recurse walks every root-to-leaf path once, keeping the path's permutation
// weights so each leaf can credit its value to the features split on above it.
func recurse(t *ensemble.Tree, node int, x, phi []float64, parent []pathElement, depth int, zero, one float64, feature int) {
	path := make([]pathElement, depth+1)
	copy(path, parent[:depth])
	extend(path, depth, zero, one, feature)

	if t.IsLeaf(node) {
		v := t.Value[node]
		for i := 1; i <= depth; i++ {
			w := unwoundSum(path, depth, i)
			el := path[i]
			phi[el.feature] += w * (el.one - el.zero) * v
		}
		return
	}

	split := t.Feature[node]
	hot, cold := t.Right[node], t.Left[node]
	if t.GoesLeft(node, x[split]) {
		hot, cold = t.Left[node], t.Right[node]
	}
	hotZero := t.Cover[hot] / t.Cover[node]
	coldZero := t.Cover[cold] / t.Cover[node]

	// A feature split on twice along one path is tracked once.
	incomingZero, incomingOne := 1.0, 1.0
	k := 1
	for ; k <= depth; k++ {
		if path[k].feature == split {
			break
		}
	}
	if k <= depth {
		incomingZero, incomingOne = path[k].zero, path[k].one
		unwind(path, depth, k)
		depth--
	}

	recurse(t, hot, x, phi, path, depth+1, hotZero*incomingZero, incomingOne, split)
	recurse(t, cold, x, phi, path, depth+1, coldZero*incomingZero, 0, split)
}

func extend(path []pathElement, depth int, zero, one float64, feature int) {
	path[depth] = pathElement{feature: feature, zero: zero, one: one}
	if depth == 0 {
		path[depth].weight = 1
	}
	d := float64(depth + 1)
	for i := depth - 1; i >= 0; i-- {
		path[i+1].weight += one * path[i].weight * float64(i+1) / d
		path[i].weight = zero * path[i].weight * float64(depth-i) / d
	}
}

// unwind removes element index from the path, undoing its extend.
func unwind(path []pathElement, depth, index int) {
	one, zero := path[index].one, path[index].zero
	d := float64(depth + 1)
	next := path[depth].weight
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := path[i].weight
			path[i].weight = next * d / (float64(i+1) * one)
			next = tmp - path[i].weight*zero*float64(depth-i)/d
		} else {
			path[i].weight = path[i].weight * d / (zero * float64(depth-i))
		}
	}
	for i := index; i < depth; i++ {
		path[i].feature = path[i+1].feature
		path[i].zero = path[i+1].zero
		path[i].one = path[i+1].one
	}
}

// unwoundSum is the total permutation weight of the path with element index
// removed, without modifying the path.
func unwoundSum(path []pathElement, depth, index int) float64 {
	one, zero := path[index].one, path[index].zero
	d := float64(depth + 1)
	next := path[depth].weight
	total := 0.0
	for i := depth - 1; i >= 0; i-- {
		if one != 0 {
			tmp := next * d / (float64(i+1) * one)
			total += tmp
			next = path[i].weight - tmp*zero*float64(depth-i)/d
		} else if zero != 0 {
			total += path[i].weight / zero / (float64(depth-i) / d)
		}
	}
	return total
}
