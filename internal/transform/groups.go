package transform

import (
	"errors"
	"fmt"
)

// Group applies one BoundSpec to the parameters at Indices of a flat vector.
type Group struct {
	Name    string
	Indices []int
	Spec    BoundSpec
}

// Groups partitions a flat parameter vector. Each group is transformed with
// a single vector call, so parameters with finite and infinite upper bounds
// belong in different groups.
type Groups []Group

// Validate checks that every index in [0, n) appears in exactly one group
// and that each group's spec resolves.
func (gs Groups) Validate(n int) error {
	seen := make([]bool, n)
	count := 0
	for _, g := range gs {
		if len(g.Indices) == 0 {
			return &ShapeError{Field: "Groups[" + g.Name + "]", Reason: "has no indices"}
		}
		for _, idx := range g.Indices {
			if idx < 0 || idx >= n {
				return &ShapeError{Field: "Groups[" + g.Name + "]", Reason: fmt.Sprintf("index %d out of range [0, %d)", idx, n)}
			}
			if seen[idx] {
				return &ShapeError{Field: "Groups[" + g.Name + "]", Reason: fmt.Sprintf("index %d already covered", idx)}
			}
			seen[idx] = true
			count++
		}
		if _, err := g.Spec.Resolve(len(g.Indices)); err != nil {
			return fmt.Errorf("group %s: %w", g.Name, err)
		}
	}
	if count != n {
		return &ShapeError{Field: "Groups", Reason: fmt.Sprintf("cover %d of %d parameters", count, n)}
	}
	return nil
}

// Bounds returns the resolved bound of every flat index.
func (gs Groups) Bounds(n int) ([]Bound, error) {
	if err := gs.Validate(n); err != nil {
		return nil, err
	}
	out := make([]Bound, n)
	for _, g := range gs {
		bounds, _ := g.Spec.Resolve(len(g.Indices))
		for k, idx := range g.Indices {
			out[idx] = bounds[k]
		}
	}
	return out, nil
}

// Unbox maps constrained params to free coordinates group by group.
func (gs Groups) Unbox(params []float64) ([]float64, error) {
	return gs.apply(params, func(vals []Real, spec BoundSpec) ([]Real, error) {
		return UnboxVec(vals, spec)
	})
}

// Box maps free coordinates to constrained params group by group.
func (gs Groups) Box(free []float64) ([]float64, error) {
	return gs.apply(free, func(vals []Real, spec BoundSpec) ([]Real, error) {
		return BoxVec(vals, spec)
	})
}

// UnboxDerivative returns d(free)/d(param) at params for every index.
func (gs Groups) UnboxDerivative(params []float64) ([]float64, error) {
	return gs.apply(params, func(vals []Real, spec BoundSpec) ([]Real, error) {
		ones := make([]Real, len(vals))
		for i := range ones {
			ones[i] = 1
		}
		return UnboxDerivativeVec(vals, ones, spec)
	})
}

func (gs Groups) apply(in []float64, fn func([]Real, BoundSpec) ([]Real, error)) ([]float64, error) {
	if err := gs.Validate(len(in)); err != nil {
		return nil, err
	}
	out := make([]float64, len(in))
	for _, g := range gs {
		vals := make([]Real, len(g.Indices))
		for k, idx := range g.Indices {
			vals[k] = Real(in[idx])
		}
		res, err := fn(vals, g.Spec)
		if err != nil {
			// Report the flat index rather than the position within the group.
			var be *BoundsError
			if errors.As(err, &be) && be.Index >= 0 {
				be.Index = g.Indices[be.Index]
			}
			return nil, fmt.Errorf("group %s: %w", g.Name, err)
		}
		for k, idx := range g.Indices {
			out[idx] = float64(res[k])
		}
	}
	return out, nil
}
