package linesearch

import (
	"fmt"
	"math"
)

const (
	defaultC1          = 1e-4
	defaultC2          = 0.9
	defaultRho         = 2
	defaultInitialStep = 1
	defaultMaxStep     = 65536
	defaultMaxZoom     = 10
)

// Params configures the strong Wolfe search.
type Params struct {
	// C1 is the sufficient decrease (Armijo) constant.
	C1 float64 `yaml:"c1" json:"c1"`
	// C2 is the curvature constant. 0 < C1 < C2 < 1.
	C2 float64 `yaml:"c2" json:"c2"`
	// Rho is the expansion factor of the bracketing phase and the shrink
	// factor applied when the objective is not finite.
	Rho float64 `yaml:"rho" json:"rho"`
	// InitialStep is the first trial step.
	InitialStep float64 `yaml:"initialStep" json:"initialStep"`
	// MaxStep caps the bracketing phase.
	MaxStep float64 `yaml:"maxStep" json:"maxStep"`
	// MaxZoom caps the number of zoom refinements.
	MaxZoom int `yaml:"maxZoom" json:"maxZoom"`
}

// DefaultParams returns the standard strong Wolfe constants.
func DefaultParams() Params {
	return Params{
		C1:          defaultC1,
		C2:          defaultC2,
		Rho:         defaultRho,
		InitialStep: defaultInitialStep,
		MaxStep:     defaultMaxStep,
		MaxZoom:     defaultMaxZoom,
	}
}

// Validate checks the parameter ranges.
func (p Params) Validate() error {
	if !(p.C1 > 0 && p.C1 < p.C2 && p.C2 < 1) {
		return &ValidationError{Field: "C1/C2", Reason: fmt.Sprintf("must satisfy 0 < c1 < c2 < 1 (got %g, %g)", p.C1, p.C2)}
	}
	if !(p.Rho > 1) {
		return &ValidationError{Field: "Rho", Reason: fmt.Sprintf("must exceed 1 (got %g)", p.Rho)}
	}
	if !(p.InitialStep > 0 && p.InitialStep <= p.MaxStep) {
		return &ValidationError{Field: "InitialStep", Reason: fmt.Sprintf("must be in (0, MaxStep] (got %g, max %g)", p.InitialStep, p.MaxStep)}
	}
	if math.IsInf(p.MaxStep, 1) {
		return &ValidationError{Field: "MaxStep", Reason: "must be finite"}
	}
	if p.MaxZoom < 1 {
		return &ValidationError{Field: "MaxZoom", Reason: "must be at least 1"}
	}
	return nil
}
