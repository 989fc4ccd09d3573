package opt

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
)

// MultiStartConfig configures MultiStart.
type MultiStartConfig struct {
	Restarts int     `yaml:"restarts" json:"restarts"`
	Spread   float64 `yaml:"spread" json:"spread"` // Std. dev. of the free-space perturbation
	Seed     int64   `yaml:"seed" json:"seed"`
}

// MultiStart runs cfg.Restarts independent ascents concurrently. Restart 0
// starts at start (obj.Start() when nil); the others start from that point
// perturbed in free coordinates by Gaussian noise. The best result wins,
// ties going to the lower restart index, so the outcome does not depend on
// scheduling. When ctx is cancelled the best partial result is returned
// with Reason StopCancelled together with ctx.Err().
func MultiStart(ctx context.Context, obj Objective, ascent *Ascent, start []float64, cfg MultiStartConfig) (*Result, error) {
	if cfg.Restarts < 1 {
		return nil, &ValidationError{Field: "restarts", Reason: "must be at least 1"}
	}
	if !(cfg.Spread >= 0) {
		return nil, &ValidationError{Field: "spread", Reason: "must be non-negative"}
	}

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

	rng := rand.New(rand.NewSource(cfg.Seed))
	starts := make([][]float64, cfg.Restarts)
	for r := range starts {
		x := append([]float64(nil), x0...)
		if r > 0 {
			for i := range x {
				x[i] += cfg.Spread * rng.NormFloat64()
			}
		}
		starts[r] = x
	}

	slog.Info("Starting multi-start", "restarts", cfg.Restarts, "spread", cfg.Spread)

	results := make([]*Result, cfg.Restarts)
	errs := make([]error, cfg.Restarts)
	var wg sync.WaitGroup
	for r := range starts {
		wg.Add(1)
		go func(r int) {
			defer wg.Done()
			results[r], errs[r] = ascent.withRestart(r).maximizeFree(ctx, free, starts[r])
		}(r)
	}
	wg.Wait()

	// A restart stopped by cancellation still holds its best point.
	ctxErr := ctx.Err()
	var best *Result
	for r, res := range results {
		if errs[r] != nil {
			if res == nil || ctxErr == nil || !errors.Is(errs[r], ctxErr) {
				slog.Warn("Restart failed", "restart", r, "error", errs[r])
				continue
			}
		}
		if best == nil || res.Value > best.Value {
			best = res
		}
	}

	if ctxErr != nil {
		if best != nil {
			best.Reason = StopCancelled
		}
		return best, ctxErr
	}
	if best == nil {
		return nil, fmt.Errorf("all %d restarts failed: %w", cfg.Restarts, errors.Join(errs...))
	}

	slog.Info("Multi-start complete", "best_restart", best.Restart, "value", best.Value)
	return best, nil
}
