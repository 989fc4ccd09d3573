package opt

import (
	"context"
	"sync"
	"testing"

	"github.com/cwbudde/wolfefit/internal/problem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOptimizeJoint(t *testing.T) {
	c := newCatalog(t, 3, 21)
	a, err := NewAscent(newtonConfig(), nil)
	require.NoError(t, err)

	res, err := OptimizeJoint(context.Background(), c, a, nil)
	require.NoError(t, err)

	if res.Value <= res.InitialValue {
		t.Errorf("Optimization did not improve: initial=%f, best=%f", res.InitialValue, res.Value)
	}
	if len(res.Params) != 9 {
		t.Errorf("Expected 9 parameters for 3 sources, got %d", len(res.Params))
	}
	assert.InDeltaSlice(t, c.Optimum(), res.Params, 1e-3)
}

func TestOptimizeSequential(t *testing.T) {
	c := newCatalog(t, 3, 21)
	var its []Iteration
	a, err := NewAscent(newtonConfig(), func(it Iteration) error {
		its = append(its, it)
		return nil
	})
	require.NoError(t, err)

	res, err := OptimizeSequential(context.Background(), c, a, nil, 1)
	require.NoError(t, err)

	// Sources do not interact, so one pass reaches the joint optimum.
	assert.InDeltaSlice(t, c.Optimum(), res.Params, 1e-3)
	assert.Greater(t, res.Value, res.InitialValue)
	require.Len(t, its, res.Iterations)

	seen := map[int]bool{}
	for i, it := range its {
		assert.Equal(t, i+1, it.Index, "indices keep counting across blocks")
		assert.Len(t, it.Params, 9, "recorded params cover every source")
		seen[it.Source] = true
		if i > 0 {
			assert.GreaterOrEqual(t, it.Value, its[i-1].Value)
			assert.GreaterOrEqual(t, it.FuncEvals, its[i-1].FuncEvals)
		}
	}
	assert.Equal(t, map[int]bool{0: true, 1: true, 2: true}, seen)
}

func TestOptimizeSequentialRejectsZeroPasses(t *testing.T) {
	c := newCatalog(t, 1, 1)
	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = OptimizeSequential(context.Background(), c, a, nil, 0)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestBlockObjective(t *testing.T) {
	c := newCatalog(t, 2, 8)
	n := c.Layout().Size(c.Sources())
	bounds, err := c.Bounds().Bounds(n)
	require.NoError(t, err)

	params := c.Start()
	block := newBlockObjective(c, bounds, params, 1)
	assert.Equal(t, 1, block.Sources())
	assert.Equal(t, 3, block.Layout().PerSource)
	assert.Equal(t, params[3:6], block.Start())
	require.NoError(t, block.Bounds().Validate(3))

	trial := []float64{3, 2, 0.25}
	sf, err := block.Evaluate(trial)
	require.NoError(t, err)

	full := append([]float64(nil), params...)
	copy(full[3:], trial)
	want, err := c.Evaluate(full)
	require.NoError(t, err)

	assert.Equal(t, want.Value, sf.Value)
	assert.Equal(t, want.Grad[3:6], sf.Grad)
	assert.Equal(t, want.Hess.At(4, 4), sf.Hess.At(1, 1))
	// The wrapped parameters are not modified.
	assert.Equal(t, c.Start(), params)
}

func TestMultiStartPicksBestDeterministically(t *testing.T) {
	r, err := problem.NewRosenbrock(2)
	require.NoError(t, err)
	cfg := DefaultConfig()
	cfg.MaxIters = 5

	var mu sync.Mutex
	perRestart := map[int]int{}
	a, err := NewAscent(cfg, func(it Iteration) error {
		mu.Lock()
		defer mu.Unlock()
		perRestart[it.Restart]++
		return nil
	})
	require.NoError(t, err)

	ms := MultiStartConfig{Restarts: 4, Spread: 0.5, Seed: 3}
	first, err := MultiStart(context.Background(), r, a, nil, ms)
	require.NoError(t, err)
	second, err := MultiStart(context.Background(), r, a, nil, ms)
	require.NoError(t, err)

	assert.Equal(t, first.Restart, second.Restart)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, first.Params, second.Params)
	assert.Len(t, perRestart, 4)

	// The winner is at least as good as restart 0 alone.
	single, err := a.Maximize(context.Background(), r, nil)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, first.Value, single.Value)
}

func TestMultiStartValidation(t *testing.T) {
	c := newCatalog(t, 1, 1)
	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)

	_, err = MultiStart(context.Background(), c, a, nil, MultiStartConfig{Restarts: 0})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = MultiStart(context.Background(), c, a, nil, MultiStartConfig{Restarts: 2, Spread: -1})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMultiStartCancelled(t *testing.T) {
	c := newCatalog(t, 2, 1)
	a, err := NewAscent(DefaultConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := MultiStart(ctx, c, a, nil, MultiStartConfig{Restarts: 3, Spread: 1})
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)
	assert.Equal(t, StopCancelled, res.Reason)
	assert.Equal(t, 0, res.Iterations)
	assert.Len(t, res.Params, 6)
	assert.GreaterOrEqual(t, res.Value, res.InitialValue)
}
