// Package explain attributes a single tree-ensemble prediction to its input
// features with Shapley values.
//
// Both explainers use the same value function: the ensemble's output when only
// a subset of features is observed, with unobserved splits averaged by training
// cover. The tree explainer computes it in polynomial time by walking decision
// paths; the exact explainer enumerates every subset and exists to cross-check
// it on small schemas.
//
// Attributions satisfy baseline + Σ values == prediction.
package explain

import (
	"fmt"
	"math"
	"sort"

	"ev-insight/internal/ensemble"
	"ev-insight/internal/errs"
	"ev-insight/internal/features"
)

// Method selects the attribution algorithm.
type Method string

const (
	MethodTree  Method = "tree"
	MethodExact Method = "exact"
)

// MaxExactFeatures bounds the 2^n enumeration of the exact explainer.
const MaxExactFeatures = 16

// coverTolerance is the relative slack allowed between a node's cover and
// the sum of its children's.
const coverTolerance = 1e-6

// Explanation is the additive decomposition of one prediction. Values are in
// schema order.
type Explanation struct {
	Baseline float64
	Values   []float64
}

// Explainer computes the attributions of one scaled vector.
type Explainer interface {
	Explain(x []float64) (Explanation, error)
	Method() Method
}

// Attribution is one feature's signed contribution.
type Attribution struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// New returns an explainer for model. It fails with ErrExplainerUnavailable
// when the model's trees cannot be introspected.
func New(model ensemble.Regressor, method Method) (Explainer, error) {
	ens, ok := model.(*ensemble.Ensemble)
	if !ok {
		return nil, errs.Configuration(errs.ErrExplainerUnavailable, "model type %T exposes no tree structure", model)
	}
	if err := checkCover(ens); err != nil {
		return nil, err
	}

	switch method {
	case MethodTree, "":
		return newTreeExplainer(ens), nil
	case MethodExact:
		if ens.NumFeatures() > MaxExactFeatures {
			return nil, errs.Configuration(errs.ErrExplainerUnavailable,
				"exact attribution supports at most %d features, model has %d", MaxExactFeatures, ens.NumFeatures())
		}
		return &exactExplainer{ens: ens, baseline: ens.ExpectedValue()}, nil
	default:
		return nil, errs.Configuration(errs.ErrExplainerUnavailable, "unknown explain method %q", method)
	}
}

func checkCover(ens *ensemble.Ensemble) error {
	if !ens.HasCover() {
		return errs.Configuration(errs.ErrExplainerUnavailable, "trees carry no node cover")
	}
	for i := range ens.Trees {
		t := &ens.Trees[i]
		for node := 0; node < t.Len(); node++ {
			if t.IsLeaf(node) {
				continue
			}
			sum := t.Cover[t.Left[node]] + t.Cover[t.Right[node]]
			if math.Abs(sum-t.Cover[node]) > coverTolerance*t.Cover[node] {
				return errs.Configuration(errs.ErrExplainerUnavailable,
					"tree %d node %d: cover %v does not match children sum %v", i, node, t.Cover[node], sum)
			}
		}
	}
	return nil
}

// Named maps an explanation's values to schema names.
func (e Explanation) Named(schema features.Schema) map[string]float64 {
	out := make(map[string]float64, len(e.Values))
	for i, v := range e.Values {
		out[schema.Name(i)] = v
	}
	return out
}

// Ranked orders attributions by signed value, descending. Ties keep schema order.
func (e Explanation) Ranked(schema features.Schema) []Attribution {
	out := make([]Attribution, len(e.Values))
	for i, v := range e.Values {
		out[i] = Attribution{Name: schema.Name(i), Value: v}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Value > out[j].Value })
	return out
}

// Sum is Σ values.
func (e Explanation) Sum() float64 {
	sum := 0.0
	for _, v := range e.Values {
		sum += v
	}
	return sum
}

func (a Attribution) String() string {
	return fmt.Sprintf("%s=%+.4f", a.Name, a.Value)
}

type exactExplainer struct {
	ens      *ensemble.Ensemble
	baseline float64
}

func (e *exactExplainer) Method() Method { return MethodExact }

func (e *exactExplainer) Explain(x []float64) (Explanation, error) {
	n := e.ens.NumFeatures()
	if len(x) != n {
		return Explanation{}, errs.Computation(errs.ErrDimensionMismatch, "explainer expects %d features, got %d", n, len(x))
	}

	values := make([]float64, 1<<n)
	known := make([]bool, n)
	for mask := range values {
		for f := 0; f < n; f++ {
			known[f] = mask&(1<<f) != 0
		}
		values[mask] = e.ens.ConditionalExpectation(x, known)
	}

	// weight[k] = k!(n-k-1)!/n!
	weight := make([]float64, n)
	for k := 0; k < n; k++ {
		weight[k] = math.Exp(lgamma(k+1) + lgamma(n-k) - lgamma(n+1))
	}

	phi := make([]float64, n)
	for f := 0; f < n; f++ {
		bit := 1 << f
		for mask := range values {
			if mask&bit != 0 {
				continue
			}
			phi[f] += weight[popcount(mask)] * (values[mask|bit] - values[mask])
		}
	}
	return Explanation{Baseline: values[0], Values: phi}, nil
}

func lgamma(n int) float64 {
	v, _ := math.Lgamma(float64(n))
	return v
}

func popcount(v int) int {
	c := 0
	for v != 0 {
		v &= v - 1
		c++
	}
	return c
}
