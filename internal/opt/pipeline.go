package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"

	"github.com/cwbudde/wolfefit/internal/sensitive"
	"github.com/cwbudde/wolfefit/internal/transform"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// OptimizeJoint maximises over all parameters at once.
func OptimizeJoint(ctx context.Context, obj Objective, ascent *Ascent, start []float64) (*Result, error) {
	slog.Info("Starting joint optimization", "sources", obj.Sources(), "params", obj.Layout().Size(obj.Sources()))

	res, err := ascent.Maximize(ctx, obj, start)
	if err != nil {
		return res, err
	}

	slog.Info("Joint optimization complete", "initial_value", res.InitialValue, "value", res.Value, "reason", res.Reason)
	return res, nil
}

// OptimizeSequential maximises one source at a time with the others held
// fixed, sweeping over all sources passes times. Iteration indices keep
// counting across blocks.
func OptimizeSequential(ctx context.Context, obj Objective, ascent *Ascent, start []float64, passes int) (*Result, error) {
	if passes < 1 {
		return nil, &ValidationError{Field: "passes", Reason: "must be at least 1"}
	}
	sources := obj.Sources()
	slog.Info("Starting sequential optimization", "sources", sources, "passes", passes)

	n := obj.Layout().Size(sources)
	bounds, err := obj.Bounds().Bounds(n)
	if err != nil {
		return nil, fmt.Errorf("objective bounds: %w", err)
	}
	if start == nil {
		start = obj.Start()
	}
	params := append([]float64(nil), start...)

	initial, err := obj.Evaluate(params)
	if err != nil {
		return nil, fmt.Errorf("evaluate start: %w", err)
	}
	total := &Result{Restart: ascent.restart, InitialValue: initial.Value, FuncEvals: 1, GradEvals: 1}

	for pass := 0; pass < passes; pass++ {
		for s := 0; s < sources; s++ {
			block := newBlockObjective(obj, bounds, params, s)
			offset := *total
			recorder := ascent.recorder
			if recorder != nil {
				recorder = func(it Iteration) error {
					full := append([]float64(nil), params...)
					copy(full[block.offset:], it.Params)
					it.Params = full
					it.Index += offset.Iterations
					it.FuncEvals += offset.FuncEvals
					it.GradEvals += offset.GradEvals
					return ascent.recorder(it)
				}
			}

			res, err := ascent.withSource(s, recorder).Maximize(ctx, block, nil)
			if res != nil {
				copy(params[block.offset:], res.Params)
				total.Iterations += res.Iterations
				total.FuncEvals += res.FuncEvals
				total.GradEvals += res.GradEvals
			}
			if err != nil {
				return finishSequential(obj, ascent, total, params, StopFailed, err)
			}
		}
		slog.Info("Sequential pass complete", "pass", pass+1, "of", passes, "iterations", total.Iterations)
	}

	return finishSequential(obj, ascent, total, params, StopMaxIters, nil)
}

// finishSequential evaluates the combined parameters once more to report
// the final value and free-space gradient norm.
func finishSequential(obj Objective, ascent *Ascent, total *Result, params []float64, reason StopReason, runErr error) (*Result, error) {
	free, err := NewFreeObjective(obj)
	if err != nil {
		return nil, err
	}
	x, err := free.ToFree(params)
	if err != nil {
		return nil, fmt.Errorf("final point: %w", err)
	}
	pt, err := free.Evaluate(x)
	if err != nil {
		return nil, fmt.Errorf("evaluate final point: %w", err)
	}
	total.FuncEvals++
	total.GradEvals++
	if runErr == nil && floats.Norm(pt.Grad, math.Inf(1)) <= ascent.cfg.Tolerance {
		reason = StopGradient
	}
	total.finish(pt, reason)

	slog.Info("Sequential optimization complete", "initial_value", total.InitialValue, "value", total.Value)
	return total, runErr
}

// blockObjective exposes the parameters of one source of a wider objective
// while the rest stay fixed.
type blockObjective struct {
	base   Objective
	bounds []transform.Bound
	params []float64
	offset int
	width  int
}

func newBlockObjective(base Objective, bounds []transform.Bound, params []float64, source int) *blockObjective {
	width := base.Layout().PerSource
	return &blockObjective{
		base:   base,
		bounds: bounds,
		params: params,
		offset: source * width,
		width:  width,
	}
}

func (b *blockObjective) Layout() sensitive.Layout {
	return sensitive.Layout{Name: b.base.Layout().Name + "/block", PerSource: b.width}
}

func (b *blockObjective) Sources() int { return 1 }

func (b *blockObjective) Bounds() transform.Groups {
	groups := make(transform.Groups, b.width)
	for i := range groups {
		groups[i] = transform.Group{
			Name:    fmt.Sprintf("p%d", b.offset+i),
			Indices: []int{i},
			Spec:    transform.Shared(b.bounds[b.offset+i]),
		}
	}
	return groups
}

func (b *blockObjective) Start() []float64 {
	return append([]float64(nil), b.params[b.offset:b.offset+b.width]...)
}

func (b *blockObjective) Evaluate(block []float64) (*sensitive.Float, error) {
	if len(block) != b.width {
		return nil, &ValidationError{Field: "block", Reason: fmt.Sprintf("has length %d, want %d", len(block), b.width)}
	}
	full := append([]float64(nil), b.params...)
	copy(full[b.offset:], block)

	sf, err := b.base.Evaluate(full)
	if err != nil {
		return nil, err
	}

	grad := sf.Grad[b.offset : b.offset+b.width]
	hess := mat.NewSymDense(b.width, nil)
	for i := 0; i < b.width; i++ {
		for j := i; j < b.width; j++ {
			hess.SetSym(i, j, sf.Hess.At(b.offset+i, b.offset+j))
		}
	}
	return sensitive.New(b.Layout(), 1, sf.Value, grad, hess)
}
