// Package ensemble evaluates additive tree ensembles exported from a
// gradient-boosting regressor. Trees use the flat node-array layout of the
// trainer: node i is a leaf when Left[i] == Leaf, and x[Feature[i]] <= Threshold[i]
// descends to Left[i]. The trainer compares float32 inputs against float64
// thresholds, and so does every split here.
//
// An Ensemble is immutable once validated; every method is safe for
// concurrent use.
package ensemble

import (
	"fmt"
	"math"

	"github.com/hashicorp/go-multierror"

	"ev-insight/internal/errs"
)

// Leaf marks a node without children.
const Leaf = -1

// Regressor produces one scalar prediction from a scaled feature vector.
type Regressor interface {
	Predict(x []float64) (float64, error)
	NumFeatures() int
}

// Tree is one regression tree in flat array form.
type Tree struct {
	Left      []int
	Right     []int
	Feature   []int
	Threshold []float64
	Value     []float64
	// Cover is the training sample weight reaching each node. Optional for
	// prediction, required for attribution.
	Cover []float64
	// Impurity per node, optional. Used to derive importances.
	Impurity []float64
}

// Ensemble is init + rate * Σ tree(x).
type Ensemble struct {
	InitValue    float64
	LearningRate float64
	Trees        []Tree
	numFeatures  int
}

// New validates the trees against numFeatures and returns the ensemble.
// All structural problems are reported together.
func New(initValue, learningRate float64, trees []Tree, numFeatures int) (*Ensemble, error) {
	e := &Ensemble{
		InitValue:    initValue,
		LearningRate: learningRate,
		Trees:        trees,
		numFeatures:  numFeatures,
	}
	if err := e.validate(); err != nil {
		return nil, errs.Configuration(errs.ErrModelUnavailable, "invalid ensemble: %v", err)
	}
	return e, nil
}

func (e *Ensemble) NumFeatures() int { return e.numFeatures }

// Predict evaluates the ensemble on one scaled vector.
func (e *Ensemble) Predict(x []float64) (float64, error) {
	if len(x) != e.numFeatures {
		return 0, errs.Computation(errs.ErrDimensionMismatch, "model expects %d features, got %d", e.numFeatures, len(x))
	}
	sum := 0.0
	for i := range e.Trees {
		sum += e.Trees[i].Predict(x)
	}
	out := e.InitValue + e.LearningRate*sum
	if math.IsNaN(out) || math.IsInf(out, 0) {
		return 0, errs.Computation(errs.ErrInvalidValue, "model produced %v", out)
	}
	return out, nil
}

// HasCover reports whether every tree carries node covers.
func (e *Ensemble) HasCover() bool {
	for i := range e.Trees {
		if len(e.Trees[i].Cover) == 0 {
			return false
		}
	}
	return true
}

// ExpectedValue is the cover-weighted mean output of the ensemble, i.e. the
// prediction with no feature information. Requires covers.
func (e *Ensemble) ExpectedValue() float64 {
	sum := 0.0
	for i := range e.Trees {
		sum += e.Trees[i].ExpectedValue()
	}
	return e.InitValue + e.LearningRate*sum
}

// ConditionalExpectation evaluates the ensemble when only the features with
// known[f] == true are observed; unobserved splits average their children by
// cover. Requires covers.
func (e *Ensemble) ConditionalExpectation(x []float64, known []bool) float64 {
	sum := 0.0
	for i := range e.Trees {
		sum += e.Trees[i].conditional(0, x, known)
	}
	return e.InitValue + e.LearningRate*sum
}

func (t *Tree) Len() int { return len(t.Left) }

func (t *Tree) IsLeaf(node int) bool { return t.Left[node] == Leaf }

// GoesLeft reports whether split value v descends to the left child of node.
func (t *Tree) GoesLeft(node int, v float64) bool {
	return float64(float32(v)) <= t.Threshold[node]
}

// Predict walks one path from the root to a leaf.
func (t *Tree) Predict(x []float64) float64 {
	node := 0
	for !t.IsLeaf(node) {
		if t.GoesLeft(node, x[t.Feature[node]]) {
			node = t.Left[node]
		} else {
			node = t.Right[node]
		}
	}
	return t.Value[node]
}

// ExpectedValue is Σ leaf value * leaf cover / root cover.
func (t *Tree) ExpectedValue() float64 {
	return t.conditional(0, nil, nil)
}

func (t *Tree) conditional(node int, x []float64, known []bool) float64 {
	if t.IsLeaf(node) {
		return t.Value[node]
	}
	f := t.Feature[node]
	if known != nil && known[f] {
		if t.GoesLeft(node, x[f]) {
			return t.conditional(t.Left[node], x, known)
		}
		return t.conditional(t.Right[node], x, known)
	}
	l, r := t.Left[node], t.Right[node]
	return (t.Cover[l]*t.conditional(l, x, known) + t.Cover[r]*t.conditional(r, x, known)) / t.Cover[node]
}

// MaxDepth is the number of edges on the longest root-to-leaf path.
func (t *Tree) MaxDepth() int {
	var walk func(node int) int
	walk = func(node int) int {
		if t.IsLeaf(node) {
			return 0
		}
		return 1 + max(walk(t.Left[node]), walk(t.Right[node]))
	}
	return walk(0)
}

func (e *Ensemble) validate() error {
	var result *multierror.Error
	if e.numFeatures <= 0 {
		result = multierror.Append(result, fmt.Errorf("feature count must be positive, got %d", e.numFeatures))
	}
	if !finite(e.InitValue) {
		result = multierror.Append(result, fmt.Errorf("init value is %v", e.InitValue))
	}
	if !finite(e.LearningRate) || e.LearningRate <= 0 {
		result = multierror.Append(result, fmt.Errorf("learning rate must be positive, got %v", e.LearningRate))
	}
	if len(e.Trees) == 0 {
		result = multierror.Append(result, fmt.Errorf("ensemble has no trees"))
	}
	for i := range e.Trees {
		if err := e.Trees[i].validate(e.numFeatures); err != nil {
			result = multierror.Append(result, fmt.Errorf("tree %d: %w", i, err))
		}
	}
	return result.ErrorOrNil()
}

func (t *Tree) validate(numFeatures int) error {
	n := len(t.Left)
	if n == 0 {
		return fmt.Errorf("no nodes")
	}
	if len(t.Right) != n || len(t.Feature) != n || len(t.Threshold) != n || len(t.Value) != n {
		return fmt.Errorf("node arrays differ in length (left=%d right=%d feature=%d threshold=%d value=%d)",
			n, len(t.Right), len(t.Feature), len(t.Threshold), len(t.Value))
	}
	if len(t.Cover) != 0 && len(t.Cover) != n {
		return fmt.Errorf("cover has %d entries for %d nodes", len(t.Cover), n)
	}
	if len(t.Impurity) != 0 && len(t.Impurity) != n {
		return fmt.Errorf("impurity has %d entries for %d nodes", len(t.Impurity), n)
	}

	var result *multierror.Error
	visited := make([]bool, n)
	stack := []int{0}
	for len(stack) > 0 {
		node := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if visited[node] {
			return fmt.Errorf("node %d is reachable twice", node)
		}
		visited[node] = true

		if len(t.Cover) > 0 && (!finite(t.Cover[node]) || t.Cover[node] <= 0) {
			result = multierror.Append(result, fmt.Errorf("node %d: cover must be positive, got %v", node, t.Cover[node]))
		}
		if t.Left[node] == Leaf {
			if t.Right[node] != Leaf {
				result = multierror.Append(result, fmt.Errorf("node %d: leaf has a right child", node))
			}
			if !finite(t.Value[node]) {
				result = multierror.Append(result, fmt.Errorf("node %d: leaf value is %v", node, t.Value[node]))
			}
			continue
		}

		l, r := t.Left[node], t.Right[node]
		if l <= 0 || l >= n || r <= 0 || r >= n {
			result = multierror.Append(result, fmt.Errorf("node %d: child index out of range (left=%d right=%d)", node, l, r))
			continue
		}
		if f := t.Feature[node]; f < 0 || f >= numFeatures {
			result = multierror.Append(result, fmt.Errorf("node %d: feature index %d out of range", node, f))
		}
		if !finite(t.Threshold[node]) {
			result = multierror.Append(result, fmt.Errorf("node %d: threshold is %v", node, t.Threshold[node]))
		}
		stack = append(stack, l, r)
	}

	// Every node must hang off the root.
	for node, seen := range visited {
		if !seen {
			result = multierror.Append(result, fmt.Errorf("node %d is not reachable from the root", node))
		}
	}
	return result.ErrorOrNil()
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
