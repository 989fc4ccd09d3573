package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/wolfefit/internal/config"
)

// Checkpoint is the saved state of a run that can be resumed later.
//
// Only the best point is saved. The ascent itself keeps no state between
// iterations beyond the current point, so resuming from BestParams
// continues the run exactly, except that the convergence tracker restarts
// with an empty history.
type Checkpoint struct {
	// JobID is the unique identifier for this run
	JobID string `json:"jobId"`

	// BestParams are the constrained parameters with the highest value so far
	BestParams []float64 `json:"bestParams"`

	// BestValue is the objective value at BestParams
	BestValue float64 `json:"bestValue"`

	// InitialValue is the objective value at the start of the run
	InitialValue float64 `json:"initialValue"`

	// Iteration is the number of accepted ascent steps
	Iteration int `json:"iteration"`

	FuncEvals int `json:"funcEvals"`
	GradEvals int `json:"gradEvals"`

	// Reason is why the run stopped; empty for periodic checkpoints
	Reason string `json:"reason,omitempty"`

	// Timestamp records when this checkpoint was created
	Timestamp time.Time `json:"timestamp"`

	// Config is the configuration of the run, checked on resume
	Config config.RunConfig `json:"config"`
}

// CheckpointInfo is checkpoint metadata without the parameter vector.
type CheckpointInfo struct {
	JobID     string    `json:"jobId"`
	BestValue float64   `json:"bestValue"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Problem   string    `json:"problem"`
	Mode      string    `json:"mode"`
	Sources   int       `json:"sources"`
	Reason    string    `json:"reason,omitempty"`
}

// NewCheckpoint creates a checkpoint stamped with the current time.
func NewCheckpoint(jobID string, bestParams []float64, bestValue, initialValue float64, iteration int, cfg config.RunConfig) *Checkpoint {
	return &Checkpoint{
		JobID:        jobID,
		BestParams:   bestParams,
		BestValue:    bestValue,
		InitialValue: initialValue,
		Iteration:    iteration,
		Timestamp:    time.Now(),
		Config:       cfg,
	}
}

// ToInfo converts a full Checkpoint to CheckpointInfo (metadata only).
func (c *Checkpoint) ToInfo() CheckpointInfo {
	return CheckpointInfo{
		JobID:     c.JobID,
		BestValue: c.BestValue,
		Iteration: c.Iteration,
		Timestamp: c.Timestamp,
		Problem:   c.Config.Problem,
		Mode:      c.Config.Mode,
		Sources:   c.Config.Sources,
		Reason:    c.Reason,
	}
}

// Validate checks if the checkpoint has valid data.
func (c *Checkpoint) Validate() error {
	if c.JobID == "" {
		return &ValidationError{Field: "JobID", Reason: "cannot be empty"}
	}
	if len(c.BestParams) == 0 {
		return &ValidationError{Field: "BestParams", Reason: "cannot be empty"}
	}
	for i, p := range c.BestParams {
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return &ValidationError{Field: "BestParams", Reason: fmt.Sprintf("element %d is not finite", i)}
		}
	}
	if math.IsNaN(c.BestValue) || math.IsInf(c.BestValue, 0) {
		return &ValidationError{Field: "BestValue", Reason: "must be finite"}
	}
	if math.IsNaN(c.InitialValue) || math.IsInf(c.InitialValue, 0) {
		return &ValidationError{Field: "InitialValue", Reason: "must be finite"}
	}
	if c.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if c.FuncEvals < 0 || c.GradEvals < 0 {
		return &ValidationError{Field: "FuncEvals/GradEvals", Reason: "cannot be negative"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("checkpoint config: %w", err)
	}
	// Every built-in layout has a fixed number of parameters per source.
	if len(c.BestParams)%c.Config.Sources != 0 {
		return &ValidationError{
			Field:  "BestParams",
			Reason: fmt.Sprintf("length %d is not a multiple of %d sources", len(c.BestParams), c.Config.Sources),
		}
	}
	return nil
}

// ErrValidation is the sentinel for errors.Is checks.
var ErrValidation = &ValidationError{}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}

// IsCompatible checks if this checkpoint can be resumed with the given
// config. The problem, its size and seed, and the mode must match; ascent
// settings may change between runs.
func (c *Checkpoint) IsCompatible(cfg config.RunConfig) error {
	if c.Config.Problem != cfg.Problem {
		return &CompatibilityError{Field: "Problem", Expected: c.Config.Problem, Actual: cfg.Problem}
	}
	if c.Config.Sources != cfg.Sources {
		return &CompatibilityError{
			Field:    "Sources",
			Expected: fmt.Sprintf("%d", c.Config.Sources),
			Actual:   fmt.Sprintf("%d", cfg.Sources),
		}
	}
	if c.Config.Seed != cfg.Seed {
		return &CompatibilityError{
			Field:    "Seed",
			Expected: fmt.Sprintf("%d", c.Config.Seed),
			Actual:   fmt.Sprintf("%d", cfg.Seed),
		}
	}
	if c.Config.Mode != cfg.Mode {
		return &CompatibilityError{Field: "Mode", Expected: c.Config.Mode, Actual: cfg.Mode}
	}
	return nil
}

// ErrIncompatible is the sentinel for errors.Is checks.
var ErrIncompatible = &CompatibilityError{}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}

func (e *CompatibilityError) Is(target error) bool {
	_, ok := target.(*CompatibilityError)
	return ok
}
