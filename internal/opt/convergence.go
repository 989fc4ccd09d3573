package opt

import (
	"log/slog"
	"math"
)

// ConvergenceConfig defines when an ascent has stopped making progress.
type ConvergenceConfig struct {
	// Enabled controls whether convergence detection is active
	Enabled bool `yaml:"enabled" json:"enabled"`

	// Patience is the number of consecutive iterations without significant
	// improvement before stopping
	Patience int `yaml:"patience" json:"patience"`

	// Threshold is the minimum improvement that counts as progress, relative
	// to max(|last significant value|, 1).
	// Example: 1e-6 with a value near -1000 needs a gain of 1e-3
	Threshold float64 `yaml:"threshold" json:"threshold"`
}

// DefaultConvergenceConfig returns sensible defaults for convergence detection
func DefaultConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled:   true,
		Patience:  5,
		Threshold: 1e-9,
	}
}

// DisabledConvergenceConfig returns a config with convergence detection disabled
func DisabledConvergenceConfig() ConvergenceConfig {
	return ConvergenceConfig{
		Enabled: false,
	}
}

// ConvergenceTracker tracks objective values of a maximisation and detects
// when it has converged.
type ConvergenceTracker struct {
	config          ConvergenceConfig
	history         []float64
	best            float64 // Best value ever seen
	lastSignificant float64 // Last value that was a significant improvement
	staleCount      int     // Number of updates without significant improvement
}

// NewConvergenceTracker creates a new convergence tracker with the given config
func NewConvergenceTracker(config ConvergenceConfig) *ConvergenceTracker {
	return &ConvergenceTracker{
		config:          config,
		history:         []float64{},
		best:            math.Inf(-1),
		lastSignificant: math.Inf(-1),
	}
}

// Update records a new value and returns true if convergence is detected
func (c *ConvergenceTracker) Update(value float64) bool {
	if !c.config.Enabled {
		return false
	}

	c.history = append(c.history, value)

	if value > c.best {
		c.best = value
	}

	// First value - initialize lastSignificant
	if len(c.history) == 1 {
		c.lastSignificant = value
		return false
	}

	relativeImprovement := (value - c.lastSignificant) / math.Max(math.Abs(c.lastSignificant), 1)

	if relativeImprovement >= c.config.Threshold {
		c.lastSignificant = value
		c.staleCount = 0
		return false
	}

	c.staleCount++
	slog.Debug("No significant improvement",
		"value", value,
		"last_significant", c.lastSignificant,
		"relative_improvement", relativeImprovement,
		"stale_count", c.staleCount,
		"patience", c.config.Patience,
	)

	if c.staleCount >= c.config.Patience {
		slog.Info("Convergence detected - stopping early",
			"stale_count", c.staleCount,
			"patience", c.config.Patience,
			"best_value", c.best,
		)
		return true
	}
	return false
}

// Best returns the best value seen so far
func (c *ConvergenceTracker) Best() float64 {
	return c.best
}

// History returns the full value history
func (c *ConvergenceTracker) History() []float64 {
	return append([]float64{}, c.history...)
}

// StaleCount returns the current number of updates without improvement
func (c *ConvergenceTracker) StaleCount() int {
	return c.staleCount
}

// Reset clears the tracker's state
func (c *ConvergenceTracker) Reset() {
	c.history = []float64{}
	c.best = math.Inf(-1)
	c.lastSignificant = math.Inf(-1)
	c.staleCount = 0
}
