// Package ensembletest builds small trees for tests of packages that consume
// ensembles.
package ensembletest

import "ev-insight/internal/ensemble"

// Stump builds a depth-one tree splitting on feature at threshold.
func Stump(feature int, threshold, left, right, coverLeft, coverRight float64) ensemble.Tree {
	cover := coverLeft + coverRight
	return ensemble.Tree{
		Left:      []int{1, ensemble.Leaf, ensemble.Leaf},
		Right:     []int{2, ensemble.Leaf, ensemble.Leaf},
		Feature:   []int{feature, -2, -2},
		Threshold: []float64{threshold, -2, -2},
		Value:     []float64{(left*coverLeft + right*coverRight) / cover, left, right},
		Cover:     []float64{cover, coverLeft, coverRight},
	}
}

// Constant builds a single-leaf tree.
func Constant(value, cover float64) ensemble.Tree {
	return ensemble.Tree{
		Left:      []int{ensemble.Leaf},
		Right:     []int{ensemble.Leaf},
		Feature:   []int{-2},
		Threshold: []float64{-2},
		Value:     []float64{value},
		Cover:     []float64{cover},
	}
}
