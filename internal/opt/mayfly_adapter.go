package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// minPopSize is the smallest population mayfly accepts.
const minPopSize = 20

// MayflyAdapter runs the mayfly swarm optimiser as a Searcher.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a mayfly searcher.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  popSize,
		seed:     seed,
	}
}

// Run executes mayfly. The library only supports one lower and one upper
// bound shared by every dimension, so lower and upper must be uniform.
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	if dim <= 0 || len(lower) != dim || len(upper) != dim {
		return nil, 0, &ValidationError{Field: "bounds", Reason: fmt.Sprintf("need %d lower and upper values, got %d and %d", dim, len(lower), len(upper))}
	}
	for i := 1; i < dim; i++ {
		if lower[i] != lower[0] || upper[i] != upper[0] {
			return nil, 0, &ValidationError{Field: "bounds", Reason: "mayfly needs the same bounds in every dimension"}
		}
	}
	if m.popSize < minPopSize {
		return nil, 0, &ValidationError{Field: "popSize", Reason: fmt.Sprintf("must be at least %d", minPopSize)}
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = eval
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower[0]
	config.UpperBound = upper[0]
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
