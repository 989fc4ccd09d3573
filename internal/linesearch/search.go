// Package linesearch finds step lengths satisfying the strong Wolfe
// conditions along a descent direction.
//
// Search minimises φ(α) = f(x + α·p). It first brackets an acceptable step
// by expanding α geometrically, then refines the bracket with zoom, which
// proposes trial steps by cubic interpolation and falls back to bisection
// when the interpolant has no real minimiser. Running out of budget is not
// an error: the best available step is returned with Status Exhausted.
package linesearch

import (
	"fmt"
	"log/slog"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Problem is the objective being minimised along the line.
type Problem struct {
	// Func returns f(x).
	Func func(x []float64) float64
	// Grad writes ∇f(x) into grad.
	Grad func(grad, x []float64)
}

// Location carries an already known value and gradient at the start point
// so Search does not have to evaluate them again.
type Location struct {
	F    float64
	Grad []float64
}

// Status says how a search ended.
type Status int

const (
	// Converged means the returned step satisfies the strong Wolfe conditions.
	Converged Status = iota + 1
	// BracketEdge means zoom stopped because the slope at the trial step
	// points away from the bracket, so the step sits at a bracket edge.
	BracketEdge
	// Exhausted means MaxStep or the zoom cap was reached. The step is a
	// best effort and is not certified.
	Exhausted
)

func (s Status) String() string {
	switch s {
	case Converged:
		return "converged"
	case BracketEdge:
		return "bracket-edge"
	case Exhausted:
		return "exhausted"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

// Result is the outcome of a search.
type Result struct {
	Step      float64
	FuncEvals int
	GradEvals int
	Status    Status
}

// Search returns a step length along dir from x. start may be nil, in which
// case f and ∇f are evaluated at x (and counted). dir must be a descent
// direction: ∇f(x)·dir < 0.
func Search(prob Problem, x, dir []float64, start *Location, params Params) (Result, error) {
	if err := params.Validate(); err != nil {
		return Result{}, err
	}
	if prob.Func == nil || prob.Grad == nil {
		return Result{}, &ValidationError{Field: "Problem", Reason: "needs both Func and Grad"}
	}
	if len(x) == 0 {
		return Result{}, &ValidationError{Field: "x", Reason: "cannot be empty"}
	}
	if len(dir) != len(x) {
		return Result{}, &ValidationError{Field: "dir", Reason: fmt.Sprintf("has length %d, want %d", len(dir), len(x))}
	}

	line := newLineFunc(prob, x, dir)
	var phi0, dphi0 float64
	if start != nil {
		if len(start.Grad) != len(x) {
			return Result{}, &ValidationError{Field: "start.Grad", Reason: fmt.Sprintf("has length %d, want %d", len(start.Grad), len(x))}
		}
		phi0 = start.F
		dphi0 = floats.Dot(start.Grad, dir)
	} else {
		phi0 = line.value(0)
		dphi0 = line.deriv(0)
	}

	if !isFinite(phi0) || !isFinite(dphi0) {
		return Result{}, &ArithmeticError{Op: "search", Reason: fmt.Sprintf("objective or slope not finite at step 0 (%g, %g)", phi0, dphi0)}
	}
	if dphi0 >= 0 {
		return Result{}, &ArithmeticError{Op: "search", Reason: fmt.Sprintf("not a descent direction (slope %g)", dphi0)}
	}

	s := &searcher{line: line, params: params, phi0: phi0, dphi0: dphi0}
	return s.run(), nil
}

type decisionKind int

const (
	expand decisionKind = iota
	accept
	needsZoom
)

// decision is the outcome of one bracketing trial.
type decision struct {
	kind   decisionKind
	phi    float64 // φ at the trial step, for expand
	lo, hi float64 // bracket handed to zoom, for needsZoom
}

type searcher struct {
	line   *lineFunc
	params Params
	phi0   float64
	dphi0  float64
}

func (s *searcher) run() Result {
	prev, phiPrev := 0.0, s.phi0
	step := s.params.InitialStep

	for i := 1; ; i++ {
		d := s.bracket(i, step, prev, phiPrev)
		switch d.kind {
		case accept:
			return s.result(step, Converged)
		case needsZoom:
			slog.Debug("Line search bracketed", "lo", d.lo, "hi", d.hi, "trial", i)
			return s.zoom(d.lo, d.hi)
		}

		if step >= s.params.MaxStep {
			slog.Debug("Line search reached maximum step", "step", s.params.MaxStep, "trials", i)
			return s.result(s.params.MaxStep, Exhausted)
		}
		prev, phiPrev = step, d.phi
		step = math.Min(step*s.params.Rho, s.params.MaxStep)
	}
}

// bracket evaluates trial i at step and decides whether to accept it, hand
// a bracket to zoom, or keep expanding.
func (s *searcher) bracket(i int, step, prev, phiPrev float64) decision {
	phi := s.line.value(step)
	if !isFinite(phi) || !s.armijo(step, phi) || (i > 1 && phi >= phiPrev) {
		return decision{kind: needsZoom, lo: prev, hi: step}
	}

	dphi := s.line.deriv(step)
	switch {
	case !isFinite(dphi):
		return decision{kind: needsZoom, lo: prev, hi: step}
	case s.curvature(dphi):
		return decision{kind: accept}
	case dphi >= 0:
		// Overshot: traverse from the current step back toward the previous one.
		return decision{kind: needsZoom, lo: step, hi: prev}
	}
	return decision{kind: expand, phi: phi}
}

// zoom refines the bracket [lo, hi] (in either order). lo always satisfies
// the sufficient decrease condition.
func (s *searcher) zoom(lo, hi float64) Result {
	rho := s.params.Rho
	last := lo

	for j := 0; j < s.params.MaxZoom; j++ {
		phiLo := s.line.value(lo)
		dphiLo := s.line.deriv(lo)

		phiHi := s.line.value(hi)
		if !isFinite(phiHi) {
			// Shrink toward lo, not toward 0, so the bracket stays non-empty.
			hi = lo + (hi-lo)/rho
			slog.Debug("Zoom shrinking non-finite end", "lo", lo, "hi", hi, "iter", j)
			continue
		}
		dphiHi := s.line.deriv(hi)

		trial, err := Interpolate(lo, hi, phiLo, phiHi, dphiLo, dphiHi)
		if err != nil || !strictlyBetween(trial, lo, hi) {
			trial = lo + (hi-lo)/2
			slog.Debug("Zoom bisecting", "lo", lo, "hi", hi, "iter", j, "error", err)
		}

		phi := s.line.value(trial)
		if !isFinite(phi) {
			trial = lo + (trial-lo)/rho
			hi = trial
			last = trial
			slog.Debug("Zoom shrinking non-finite trial", "lo", lo, "hi", hi, "iter", j)
			continue
		}
		last = trial

		if !s.armijo(trial, phi) || phi > phiLo {
			hi = trial
			continue
		}

		dphi := s.line.deriv(trial)
		if s.curvature(dphi) {
			return s.result(trial, Converged)
		}
		if dphi*(hi-lo) >= 0 {
			// The classic update would move hi to lo and continue; stopping here
			// keeps the step at the bracket edge.
			return s.result(trial, BracketEdge)
		}
		lo = trial
	}

	slog.Debug("Zoom exhausted", "step", last, "maxZoom", s.params.MaxZoom)
	return s.result(last, Exhausted)
}

func (s *searcher) armijo(step, phi float64) bool {
	return phi <= s.phi0+s.params.C1*step*s.dphi0
}

func (s *searcher) curvature(dphi float64) bool {
	return math.Abs(dphi) <= -s.params.C2*s.dphi0
}

func (s *searcher) result(step float64, status Status) Result {
	return Result{
		Step:      step,
		FuncEvals: s.line.funcEvals,
		GradEvals: s.line.gradEvals,
		Status:    status,
	}
}

// Interpolate returns the minimiser of the cubic matching φ and φ' at a1 and
// a2. The square root term carries the sign of a2-a1, so the result does not
// depend on argument order. It fails with an ArithmeticError when the cubic
// has no real critical point (negative radicand) or the interval is
// degenerate; callers fall back to bisection.
func Interpolate(a1, a2, phi1, phi2, dphi1, dphi2 float64) (float64, error) {
	if a1 == a2 {
		return 0, &ArithmeticError{Op: "interpolate", Reason: fmt.Sprintf("degenerate interval at %g", a1)}
	}
	d1 := dphi1 + dphi2 - 3*(phi1-phi2)/(a1-a2)
	rad := d1*d1 - dphi1*dphi2
	if !(rad >= 0) {
		return 0, &ArithmeticError{Op: "interpolate", Reason: fmt.Sprintf("negative radicand %g", rad)}
	}
	d2 := math.Sqrt(rad)
	if a2 < a1 {
		d2 = -d2
	}
	den := dphi2 - dphi1 + 2*d2
	if den == 0 {
		return 0, &ArithmeticError{Op: "interpolate", Reason: "zero denominator"}
	}
	return a2 - (a2-a1)*(dphi2+d2-d1)/den, nil
}

// lineFunc evaluates φ and φ' along x + α·dir and counts evaluations.
type lineFunc struct {
	prob      Problem
	x, dir    []float64
	xs, grad  []float64
	funcEvals int
	gradEvals int
}

func newLineFunc(prob Problem, x, dir []float64) *lineFunc {
	return &lineFunc{
		prob: prob,
		x:    x,
		dir:  dir,
		xs:   make([]float64, len(x)),
		grad: make([]float64, len(x)),
	}
}

func (l *lineFunc) value(step float64) float64 {
	floats.AddScaledTo(l.xs, l.x, step, l.dir)
	l.funcEvals++
	return l.prob.Func(l.xs)
}

func (l *lineFunc) deriv(step float64) float64 {
	floats.AddScaledTo(l.xs, l.x, step, l.dir)
	l.prob.Grad(l.grad, l.xs)
	l.gradEvals++
	return floats.Dot(l.grad, l.dir)
}

func strictlyBetween(v, a, b float64) bool {
	if a > b {
		a, b = b, a
	}
	return v > a && v < b
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
