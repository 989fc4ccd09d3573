package opt

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/cwbudde/wolfefit/internal/problem"
	"github.com/cwbudde/wolfefit/internal/transform"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/floats"
)

func newCatalog(t *testing.T, sources int, seed int64) *problem.Catalog {
	t.Helper()
	c, err := problem.NewCatalog(sources, 20, seed)
	require.NoError(t, err)
	return c
}

func newtonConfig() Config {
	cfg := DefaultConfig()
	cfg.Convergence = DisabledConvergenceConfig()
	cfg.Tolerance = 1e-8
	return cfg
}

func TestFreeObjectiveDerivatives(t *testing.T) {
	c := newCatalog(t, 2, 3)
	free, err := NewFreeObjective(c)
	require.NoError(t, err)
	assert.Equal(t, 6, free.Dim())

	params := c.Start()
	problem.EncodeSource(params, 1, problem.Source{Position: 4, Flux: 7, Prob: 0.8})
	x, err := free.ToFree(params)
	require.NoError(t, err)

	pt, err := free.Evaluate(x)
	require.NoError(t, err)
	assert.InDeltaSlice(t, params, pt.Params, 1e-12)

	const h = 1e-5
	for i := range x {
		plus := append([]float64(nil), x...)
		minus := append([]float64(nil), x...)
		plus[i] += h
		minus[i] -= h
		pp, err := free.Evaluate(plus)
		require.NoError(t, err)
		pm, err := free.Evaluate(minus)
		require.NoError(t, err)

		assert.InDelta(t, (pp.Value-pm.Value)/(2*h), pt.Grad[i], 1e-5, "grad[%d]", i)
		for j := range x {
			assert.InDelta(t, (pp.Grad[j]-pm.Grad[j])/(2*h), pt.Hess.At(i, j), 1e-5, "hess[%d,%d]", i, j)
		}
	}
}

func TestFreeObjectiveRejectsSaturatedPoint(t *testing.T) {
	c := newCatalog(t, 1, 1)
	free, err := NewFreeObjective(c)
	require.NoError(t, err)

	// A probability coordinate this large boxes to exactly 1.
	_, err = free.Evaluate([]float64{0, 0, 50})
	assert.Error(t, err)

	_, err = free.Evaluate([]float64{0, 0})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = free.ToFree([]float64{30, 1, 0.5})
	assert.ErrorIs(t, err, transform.ErrBounds)
}

func TestAscentNewtonReachesOptimum(t *testing.T) {
	c := newCatalog(t, 2, 11)
	a, err := NewAscent(newtonConfig(), nil)
	require.NoError(t, err)

	res, err := a.Maximize(context.Background(), c, nil)
	require.NoError(t, err)

	assert.InDeltaSlice(t, c.Optimum(), res.Params, 1e-3)
	assert.Greater(t, res.Value, res.InitialValue)
	assert.Less(t, res.Iterations, newtonConfig().MaxIters)
	assert.Contains(t, []StopReason{StopGradient, StopNoProgress}, res.Reason)
	assert.GreaterOrEqual(t, res.FuncEvals, res.Iterations+1)
}

func TestAscentRecordsMonotoneIterations(t *testing.T) {
	c := newCatalog(t, 1, 5)
	var its []Iteration
	cfg := DefaultConfig()
	cfg.Method = Gradient
	cfg.MaxIters = 25
	a, err := NewAscent(cfg, func(it Iteration) error {
		its = append(its, it)
		return nil
	})
	require.NoError(t, err)

	res, err := a.Maximize(context.Background(), c, nil)
	require.NoError(t, err)
	require.Len(t, its, res.Iterations)
	require.NotEmpty(t, its)

	prev := res.InitialValue
	for i, it := range its {
		assert.Equal(t, i+1, it.Index)
		assert.Equal(t, -1, it.Source)
		assert.GreaterOrEqual(t, it.Value, prev)
		assert.Greater(t, it.Step, 0.0)
		assert.Len(t, it.Params, 3)
		prev = it.Value
	}
	assert.Equal(t, res.Value, its[len(its)-1].Value)
	assert.GreaterOrEqual(t, res.FuncEvals, its[len(its)-1].FuncEvals)
}

func TestAscentRosenbrockImproves(t *testing.T) {
	r, err := problem.NewRosenbrock(2)
	require.NoError(t, err)
	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)

	res, err := a.Maximize(context.Background(), r, nil)
	require.NoError(t, err)
	assert.Greater(t, res.Value, res.InitialValue)
	for _, x := range res.Params {
		assert.Greater(t, x, -5.0)
		assert.Less(t, x, 5.0)
	}
}

func TestAscentCancelled(t *testing.T) {
	c := newCatalog(t, 1, 1)
	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := a.Maximize(ctx, c, nil)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, StopCancelled, res.Reason)
	assert.Equal(t, 0, res.Iterations)
	assert.InDeltaSlice(t, c.Start(), res.Params, 1e-12)
}

func TestAscentRecorderErrorStops(t *testing.T) {
	c := newCatalog(t, 1, 1)
	boom := errors.New("disk full")
	a, err := NewAscent(DefaultConfig(), func(Iteration) error { return boom })
	require.NoError(t, err)

	res, err := a.Maximize(context.Background(), c, nil)
	assert.ErrorIs(t, err, boom)
	require.NotNil(t, res)
	assert.Equal(t, StopFailed, res.Reason)
	assert.Equal(t, 1, res.Iterations)
}

func TestAscentRejectsStartOutsideBounds(t *testing.T) {
	c := newCatalog(t, 1, 1)
	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = a.Maximize(context.Background(), c, []float64{5, -1, 0.5})
	assert.ErrorIs(t, err, transform.ErrBounds)
}

// fixedSearcher returns a preset point and records the box it was given.
type fixedSearcher struct {
	point        []float64
	lower, upper []float64
}

func (f *fixedSearcher) Run(eval func([]float64) float64, lower, upper []float64, dim int) ([]float64, float64, error) {
	f.lower, f.upper = lower, upper
	return f.point, eval(f.point), nil
}

func TestAscentWarmStart(t *testing.T) {
	c := newCatalog(t, 1, 2)
	free, err := NewFreeObjective(c)
	require.NoError(t, err)
	x0, err := free.ToFree(c.Start())
	require.NoError(t, err)
	xOpt, err := free.ToFree(c.Optimum())
	require.NoError(t, err)

	offset := make([]float64, len(x0))
	for i := range offset {
		offset[i] = xOpt[i] - x0[i]
	}
	s := &fixedSearcher{point: offset}

	cfg := newtonConfig()
	cfg.WarmStart.Radius = 7
	a, err := NewAscent(cfg, nil)
	require.NoError(t, err)

	res, err := a.WithSearcher(s).Maximize(context.Background(), c, nil)
	require.NoError(t, err)

	assert.Equal(t, []float64{-7, -7, -7}, s.lower)
	assert.Equal(t, []float64{7, 7, 7}, s.upper)
	assert.Equal(t, 0, res.Iterations)
	assert.Equal(t, StopGradient, res.Reason)
	assert.InDeltaSlice(t, c.Optimum(), res.Params, 1e-9)
}

func TestAscentWarmStartKeepsBetterStart(t *testing.T) {
	c := newCatalog(t, 1, 2)
	// Offsets this large saturate every coordinate, which scores worst.
	s := &fixedSearcher{point: []float64{1e3, 1e3, 1e3}}

	cfg := DefaultConfig()
	cfg.MaxIters = 1
	a, err := NewAscent(cfg, nil)
	require.NoError(t, err)

	res, err := a.WithSearcher(s).Maximize(context.Background(), c, nil)
	require.NoError(t, err)
	assert.Greater(t, res.Value, res.InitialValue)
	assert.Equal(t, 1, res.Iterations)
}

func TestAscentWithMayflyWarmStart(t *testing.T) {
	c := newCatalog(t, 1, 4)
	cfg := newtonConfig()
	cfg.WarmStart = WarmStartConfig{Enabled: true, Iters: 20, PopSize: 20, Radius: 3, Seed: 9}
	a, err := NewAscent(cfg, nil)
	require.NoError(t, err)

	res, err := a.Maximize(context.Background(), c, nil)
	require.NoError(t, err)
	assert.InDeltaSlice(t, c.Optimum(), res.Params, 1e-3)
	assert.Greater(t, res.FuncEvals, 20)
}

func TestDirectionAscendsAndIsClipped(t *testing.T) {
	r, err := problem.NewRosenbrock(2)
	require.NoError(t, err)
	free, err := NewFreeObjective(r)
	require.NoError(t, err)
	x, err := free.ToFree(r.Start())
	require.NoError(t, err)
	pt, err := free.Evaluate(x)
	require.NoError(t, err)

	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)
	dir := a.direction(pt)
	var slope float64
	for i := range dir {
		slope += dir[i] * pt.Grad[i]
	}
	assert.Greater(t, slope, 0.0)
	assert.LessOrEqual(t, floats.Norm(dir, math.Inf(1)), DefaultConfig().MaxDirection+1e-12)

	for _, m := range []Method{Gradient, Newton} {
		cfg := DefaultConfig()
		cfg.Method = m
		cfg.MaxDirection = 0
		a, err := NewAscent(cfg, nil)
		require.NoError(t, err)
		d := a.direction(pt)
		assert.Greater(t, floats.Dot(d, pt.Grad), 0.0, "method %s", m)
	}
	// Unclipped steepest ascent is the gradient itself.
	cfg := DefaultConfig()
	cfg.Method = Gradient
	cfg.MaxDirection = 0
	g, err := NewAscent(cfg, nil)
	require.NoError(t, err)
	assert.Equal(t, pt.Grad, g.direction(pt))
}

func TestConfigValidate(t *testing.T) {
	require.NoError(t, DefaultConfig().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"method", func(c *Config) { c.Method = "bfgs" }},
		{"max iters", func(c *Config) { c.MaxIters = 0 }},
		{"tolerance", func(c *Config) { c.Tolerance = math.NaN() }},
		{"max direction", func(c *Config) { c.MaxDirection = -1 }},
		{"patience", func(c *Config) { c.Convergence.Patience = 0 }},
		{"line search", func(c *Config) { c.LineSearch.C2 = 1e-5 }},
		{"warm start pop", func(c *Config) { c.WarmStart.Enabled = true; c.WarmStart.PopSize = 4 }},
		{"warm start radius", func(c *Config) { c.WarmStart.Enabled = true; c.WarmStart.Radius = math.Inf(1) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.Error(t, cfg.Validate())
			_, err := NewAscent(cfg, nil)
			assert.Error(t, err)
		})
	}
}
