// Package config loads run configuration from YAML.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"

	"github.com/cwbudde/wolfefit/internal/opt"
	"github.com/cwbudde/wolfefit/internal/problem"
	"gopkg.in/yaml.v3"
)

// Optimisation modes.
const (
	ModeJoint      = "joint"
	ModeSequential = "sequential"
)

// RunConfig describes one optimisation run. The embedded opt.Config holds
// the ascent and line search settings.
type RunConfig struct {
	Problem  string `yaml:"problem" json:"problem"`
	Sources  int    `yaml:"sources" json:"sources"`
	Seed     int64  `yaml:"seed" json:"seed"`
	Mode     string `yaml:"mode" json:"mode"`     // joint, sequential
	Passes   int    `yaml:"passes" json:"passes"` // Sweeps over all sources in sequential mode
	Restarts int    `yaml:"restarts" json:"restarts"`
	// Spread is the standard deviation of restart perturbations in free
	// coordinates.
	Spread float64 `yaml:"spread" json:"spread"`

	CheckpointEvery int    `yaml:"checkpointEvery" json:"checkpointEvery"` // Iterations between checkpoints (0 = final only)
	DataDir         string `yaml:"dataDir" json:"dataDir"`

	opt.Config `yaml:",inline"`
}

// Default returns the configuration used when no file is given.
func Default() RunConfig {
	return RunConfig{
		Problem:         "catalog",
		Sources:         4,
		Seed:            42,
		Mode:            ModeJoint,
		Passes:          1,
		Restarts:        1,
		Spread:          1,
		CheckpointEvery: 10,
		DataDir:         "./data",
		Config:          opt.DefaultConfig(),
	}
}

// Load reads a YAML file on top of Default and validates the result.
// Unknown keys are rejected.
func Load(path string) (*RunConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML on top of Default and validates the result.
func Parse(data []byte) (*RunConfig, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration.
func (c *RunConfig) Validate() error {
	if !slices.Contains(problem.Names(), c.Problem) {
		return &ValidationError{Field: "problem", Reason: fmt.Sprintf("must be one of %v, got %q", problem.Names(), c.Problem)}
	}
	if c.Sources < 1 {
		return &ValidationError{Field: "sources", Reason: "must be at least 1"}
	}
	switch c.Mode {
	case ModeJoint, ModeSequential:
	default:
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("must be %q or %q, got %q", ModeJoint, ModeSequential, c.Mode)}
	}
	if c.Passes < 1 {
		return &ValidationError{Field: "passes", Reason: "must be at least 1"}
	}
	if c.Restarts < 1 {
		return &ValidationError{Field: "restarts", Reason: "must be at least 1"}
	}
	if c.Restarts > 1 && c.Mode != ModeJoint {
		return &ValidationError{Field: "restarts", Reason: "multiple restarts need joint mode"}
	}
	if !(c.Spread >= 0) || math.IsInf(c.Spread, 1) {
		return &ValidationError{Field: "spread", Reason: "must be non-negative and finite"}
	}
	if c.CheckpointEvery < 0 {
		return &ValidationError{Field: "checkpointEvery", Reason: "cannot be negative"}
	}
	if c.DataDir == "" {
		return &ValidationError{Field: "dataDir", Reason: "cannot be empty"}
	}
	if err := c.Config.Validate(); err != nil {
		return fmt.Errorf("invalid optimizer settings: %w", err)
	}
	return nil
}

// MultiStart returns the restart settings.
func (c *RunConfig) MultiStart() opt.MultiStartConfig {
	return opt.MultiStartConfig{Restarts: c.Restarts, Spread: c.Spread, Seed: c.Seed}
}

// ErrValidation is the sentinel for errors.Is checks.
var ErrValidation = &ValidationError{}

// ValidationError reports an invalid configuration value.
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
