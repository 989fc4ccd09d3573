// Package opt maximises box-constrained objectives. Parameters are mapped to
// unconstrained free coordinates with the transform package, and each
// iteration takes a gradient or Newton direction followed by a strong Wolfe
// line search.
package opt

import (
	"github.com/cwbudde/wolfefit/internal/sensitive"
	"github.com/cwbudde/wolfefit/internal/transform"
)

// Objective is a function to maximise over box-constrained parameters.
type Objective interface {
	Layout() sensitive.Layout
	Sources() int
	// Bounds partitions the flat parameter vector into bound groups.
	Bounds() transform.Groups
	// Start returns a feasible starting point in constrained coordinates.
	Start() []float64
	Evaluate(params []float64) (*sensitive.Float, error)
}

// Searcher is a derivative-free optimiser used for warm starts.
type Searcher interface {
	// Run minimises eval over the box [lower, upper] of dimension dim and
	// returns the best point and its cost.
	Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error)
}
