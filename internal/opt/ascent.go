package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/wolfefit/internal/linesearch"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Method selects the search direction.
type Method string

const (
	// Gradient uses steepest ascent.
	Gradient Method = "gradient"
	// Newton solves -H d = g, falling back to the gradient when -H is not
	// positive definite.
	Newton Method = "newton"
)

// StopReason says why an ascent ended.
type StopReason string

const (
	StopGradient   StopReason = "gradient"    // ‖g‖∞ within tolerance
	StopStalled    StopReason = "stalled"     // convergence tracker ran out of patience
	StopMaxIters   StopReason = "max-iters"   // iteration budget used up
	StopNoProgress StopReason = "no-progress" // line search could not improve
	StopCancelled  StopReason = "cancelled"
	StopFailed     StopReason = "failed"
)

// WarmStartConfig configures the derivative-free search that runs before
// the first ascent iteration.
type WarmStartConfig struct {
	Enabled bool    `yaml:"enabled" json:"enabled"`
	Iters   int     `yaml:"iters" json:"iters"`
	PopSize int     `yaml:"popSize" json:"popSize"`
	Radius  float64 `yaml:"radius" json:"radius"` // Half-width of the box around the start, in free coordinates
	Seed    int64   `yaml:"seed" json:"seed"`
}

// Config configures an Ascent.
type Config struct {
	Method    Method  `yaml:"method" json:"method"`
	MaxIters  int     `yaml:"maxIters" json:"maxIters"`
	Tolerance float64 `yaml:"tolerance" json:"tolerance"`
	// MaxDirection caps ‖d‖∞ of the search direction in free coordinates;
	// 0 disables the cap.
	MaxDirection float64           `yaml:"maxDirection" json:"maxDirection"`
	Convergence  ConvergenceConfig `yaml:"convergence" json:"convergence"`
	LineSearch   linesearch.Params `yaml:"lineSearch" json:"lineSearch"`
	WarmStart    WarmStartConfig   `yaml:"warmStart" json:"warmStart"`
}

// DefaultConfig returns Newton ascent with the standard line search.
func DefaultConfig() Config {
	return Config{
		Method:       Newton,
		MaxIters:     200,
		Tolerance:    1e-6,
		MaxDirection: 2,
		Convergence:  DefaultConvergenceConfig(),
		LineSearch:   linesearch.DefaultParams(),
		WarmStart: WarmStartConfig{
			Iters:   50,
			PopSize: minPopSize,
			Radius:  3,
			Seed:    1,
		},
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	switch c.Method {
	case Gradient, Newton:
	default:
		return &ValidationError{Field: "method", Reason: fmt.Sprintf("must be %q or %q, got %q", Gradient, Newton, c.Method)}
	}
	if c.MaxIters < 1 {
		return &ValidationError{Field: "maxIters", Reason: "must be at least 1"}
	}
	if !(c.Tolerance >= 0) {
		return &ValidationError{Field: "tolerance", Reason: "must be non-negative"}
	}
	if !(c.MaxDirection >= 0) || math.IsInf(c.MaxDirection, 1) {
		return &ValidationError{Field: "maxDirection", Reason: "must be non-negative and finite"}
	}
	if c.Convergence.Enabled && c.Convergence.Patience < 1 {
		return &ValidationError{Field: "convergence.patience", Reason: "must be at least 1"}
	}
	if err := c.LineSearch.Validate(); err != nil {
		return fmt.Errorf("lineSearch: %w", err)
	}
	if ws := c.WarmStart; ws.Enabled {
		if ws.Iters < 1 {
			return &ValidationError{Field: "warmStart.iters", Reason: "must be at least 1"}
		}
		if ws.PopSize < minPopSize {
			return &ValidationError{Field: "warmStart.popSize", Reason: fmt.Sprintf("must be at least %d", minPopSize)}
		}
		if !(ws.Radius > 0) || math.IsInf(ws.Radius, 1) {
			return &ValidationError{Field: "warmStart.radius", Reason: "must be positive and finite"}
		}
	}
	return nil
}

// Iteration is one accepted ascent step. Evaluation counts are cumulative
// over the run.
type Iteration struct {
	Restart   int
	Source    int // Block being optimised, -1 for joint ascent
	Index     int
	Params    []float64 // Constrained parameters after the step
	Value     float64
	Step      float64
	FuncEvals int
	GradEvals int
	GradNorm  float64
	Status    linesearch.Status
}

// Recorder receives every iteration. An error stops the ascent. MultiStart
// calls it from several goroutines.
type Recorder func(Iteration) error

// Result is the outcome of an ascent.
type Result struct {
	Restart      int
	Params       []float64
	Free         []float64
	Value        float64
	InitialValue float64
	GradNorm     float64
	Iterations   int
	FuncEvals    int
	GradEvals    int
	Reason       StopReason
}

// Ascent maximises an Objective in free coordinates.
type Ascent struct {
	cfg      Config
	recorder Recorder
	searcher Searcher
	restart  int
	source   int
}

// NewAscent validates cfg. recorder may be nil.
func NewAscent(cfg Config, recorder Recorder) (*Ascent, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	a := &Ascent{cfg: cfg, recorder: recorder, source: -1}
	if cfg.WarmStart.Enabled {
		a.searcher = NewMayfly(cfg.WarmStart.Iters, cfg.WarmStart.PopSize, cfg.WarmStart.Seed)
	}
	return a, nil
}

// Config returns the ascent's configuration.
func (a *Ascent) Config() Config { return a.cfg }

// WithSearcher returns a copy of a that warm starts with s.
func (a *Ascent) WithSearcher(s Searcher) *Ascent {
	c := *a
	c.searcher = s
	return &c
}

func (a *Ascent) withRestart(r int) *Ascent {
	c := *a
	c.restart = r
	// Each restart draws its own mayfly population.
	if m, ok := a.searcher.(*MayflyAdapter); ok {
		c.searcher = NewMayfly(m.maxIters, m.popSize, m.seed+int64(r))
	}
	return &c
}

func (a *Ascent) withSource(s int, recorder Recorder) *Ascent {
	c := *a
	c.source = s
	c.recorder = recorder
	return &c
}

// Maximize runs the ascent from start, given in constrained coordinates. A
// nil start uses obj.Start(). On cancellation the partial result is
// returned together with ctx.Err().
func (a *Ascent) Maximize(ctx context.Context, obj Objective, start []float64) (*Result, error) {
	free, err := NewFreeObjective(obj)
	if err != nil {
		return nil, err
	}
	if start == nil {
		start = obj.Start()
	}
	x0, err := free.ToFree(start)
	if err != nil {
		return nil, fmt.Errorf("start point: %w", err)
	}
	return a.maximizeFree(ctx, free, x0)
}

func (a *Ascent) maximizeFree(ctx context.Context, free *FreeObjective, x0 []float64) (*Result, error) {
	pt, err := free.Evaluate(x0)
	if err != nil {
		return nil, fmt.Errorf("evaluate start: %w", err)
	}
	res := &Result{Restart: a.restart, InitialValue: pt.Value, FuncEvals: 1, GradEvals: 1}

	if a.searcher != nil {
		pt, err = a.warmStart(free, pt, res)
		if err != nil {
			return nil, err
		}
	}

	slog.Info("Starting ascent",
		"method", a.cfg.Method,
		"dim", free.Dim(),
		"restart", a.restart,
		"source", a.source,
		"initial_value", res.InitialValue,
	)

	tracker := NewConvergenceTracker(a.cfg.Convergence)
	tracker.Update(pt.Value)
	line := &lineProblem{free: free}
	negGrad := make([]float64, free.Dim())

	reason := StopMaxIters
	for res.Iterations < a.cfg.MaxIters {
		if err := ctx.Err(); err != nil {
			res.finish(pt, StopCancelled)
			return res, err
		}
		if floats.Norm(pt.Grad, math.Inf(1)) <= a.cfg.Tolerance {
			reason = StopGradient
			break
		}

		dir := a.direction(pt)
		floats.ScaleTo(negGrad, -1, pt.Grad)
		line.seed(pt)
		ls, err := linesearch.Search(line.problem(), pt.Free, dir,
			&linesearch.Location{F: -pt.Value, Grad: negGrad}, a.cfg.LineSearch)
		if err != nil {
			res.finish(pt, StopFailed)
			return res, fmt.Errorf("line search at iteration %d: %w", res.Iterations, err)
		}
		res.FuncEvals += ls.FuncEvals
		res.GradEvals += ls.GradEvals

		next := make([]float64, len(pt.Free))
		floats.AddScaledTo(next, pt.Free, ls.Step, dir)
		npt, err := line.at(next)
		if ls.Step == 0 || err != nil || !(npt.Value >= pt.Value) {
			slog.Debug("Line search made no progress", "iter", res.Iterations, "step", ls.Step, "status", ls.Status)
			reason = StopNoProgress
			break
		}
		pt = npt
		res.Iterations++

		it := Iteration{
			Restart:   a.restart,
			Source:    a.source,
			Index:     res.Iterations,
			Params:    pt.Params,
			Value:     pt.Value,
			Step:      ls.Step,
			FuncEvals: res.FuncEvals,
			GradEvals: res.GradEvals,
			GradNorm:  floats.Norm(pt.Grad, math.Inf(1)),
			Status:    ls.Status,
		}
		slog.Debug("Ascent iteration",
			"iter", it.Index,
			"value", it.Value,
			"step", it.Step,
			"grad_norm", it.GradNorm,
			"status", it.Status,
		)
		if a.recorder != nil {
			if err := a.recorder(it); err != nil {
				res.finish(pt, StopFailed)
				return res, fmt.Errorf("record iteration %d: %w", it.Index, err)
			}
		}

		if tracker.Update(pt.Value) {
			reason = StopStalled
			break
		}
	}

	res.finish(pt, reason)
	slog.Info("Ascent complete",
		"restart", a.restart,
		"source", a.source,
		"reason", res.Reason,
		"iterations", res.Iterations,
		"initial_value", res.InitialValue,
		"value", res.Value,
	)
	return res, nil
}

func (r *Result) finish(pt *Point, reason StopReason) {
	r.Params = pt.Params
	r.Free = pt.Free
	r.Value = pt.Value
	r.GradNorm = floats.Norm(pt.Grad, math.Inf(1))
	r.Reason = reason
}

// direction returns an ascent direction at pt, scaled down so that no free
// coordinate moves more than MaxDirection at unit step.
func (a *Ascent) direction(pt *Point) []float64 {
	var dir []float64
	if a.cfg.Method == Newton {
		if d, ok := newtonDirection(pt); ok {
			dir = d
		} else {
			slog.Debug("Newton direction unavailable, using gradient")
		}
	}
	if dir == nil {
		dir = append([]float64(nil), pt.Grad...)
	}
	if limit := a.cfg.MaxDirection; limit > 0 {
		if norm := floats.Norm(dir, math.Inf(1)); norm > limit {
			floats.Scale(limit/norm, dir)
		}
	}
	return dir
}

// newtonDirection solves -H d = g by Cholesky. It reports false when -H is
// not positive definite or d does not ascend.
func newtonDirection(pt *Point) ([]float64, bool) {
	n := len(pt.Grad)
	neg := mat.NewSymDense(n, nil)
	neg.ScaleSym(-1, pt.Hess)

	var chol mat.Cholesky
	if !chol.Factorize(neg) {
		return nil, false
	}
	var d mat.VecDense
	if err := chol.SolveVecTo(&d, mat.NewVecDense(n, pt.Grad)); err != nil {
		return nil, false
	}
	dir := make([]float64, n)
	copy(dir, d.RawVector().Data)
	if !(floats.Dot(dir, pt.Grad) > 0) {
		return nil, false
	}
	return dir, true
}

// warmStart searches the box of half-width Radius around pt in free
// coordinates and keeps the better of pt and the search result.
func (a *Ascent) warmStart(free *FreeObjective, pt *Point, res *Result) (*Point, error) {
	n := free.Dim()
	radius := a.cfg.WarmStart.Radius
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := range lower {
		lower[i] = -radius
		upper[i] = radius
	}

	x := make([]float64, n)
	evals := 0
	eval := func(offset []float64) float64 {
		evals++
		floats.AddTo(x, pt.Free, offset)
		p, err := free.Evaluate(x)
		if err != nil {
			return math.MaxFloat64
		}
		return -p.Value
	}

	offset, cost, err := a.searcher.Run(eval, lower, upper, n)
	res.FuncEvals += evals
	if err != nil {
		return nil, fmt.Errorf("warm start: %w", err)
	}
	slog.Debug("Warm start complete", "value", -cost, "start_value", pt.Value, "evals", evals)
	if !(-cost > pt.Value) {
		return pt, nil
	}

	floats.AddTo(x, pt.Free, offset)
	best, err := free.Evaluate(x)
	if err != nil {
		return pt, nil
	}
	res.FuncEvals++
	res.GradEvals++
	return best, nil
}

// lineProblem adapts a FreeObjective to the line search, which minimises.
// It remembers the last point so a value and gradient request at the same
// x cost one evaluation. Failed evaluations read as NaN so the search
// shrinks its step.
type lineProblem struct {
	free *FreeObjective
	x    []float64
	pt   *Point
	err  error
}

func (l *lineProblem) seed(pt *Point) {
	l.x = append(l.x[:0], pt.Free...)
	l.pt, l.err = pt, nil
}

func (l *lineProblem) at(x []float64) (*Point, error) {
	if l.x != nil && floats.Equal(l.x, x) {
		return l.pt, l.err
	}
	l.pt, l.err = l.free.Evaluate(x)
	l.x = append(l.x[:0], x...)
	return l.pt, l.err
}

func (l *lineProblem) problem() linesearch.Problem {
	return linesearch.Problem{
		Func: func(x []float64) float64 {
			pt, err := l.at(x)
			if err != nil {
				return math.NaN()
			}
			return -pt.Value
		},
		Grad: func(grad, x []float64) {
			pt, err := l.at(x)
			if err != nil {
				for i := range grad {
					grad[i] = math.NaN()
				}
				return
			}
			floats.ScaleTo(grad, -1, pt.Grad)
		},
	}
}
