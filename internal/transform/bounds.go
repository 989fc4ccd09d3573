package transform

import (
	"fmt"
	"math"
)

// Bound is the box for a single parameter. An Upper of +Inf means the
// parameter is bounded below only. Scale rescales the free coordinate: the
// unboxed value is divided by Scale and boxing multiplies by Scale first.
type Bound struct {
	Lower float64
	Upper float64
	Scale float64
}

// Below returns a bound with no upper limit.
func Below(lower, scale float64) Bound {
	return Bound{Lower: lower, Upper: math.Inf(1), Scale: scale}
}

// Between returns a two-sided bound.
func Between(lower, upper, scale float64) Bound {
	return Bound{Lower: lower, Upper: upper, Scale: scale}
}

// Bounded reports whether the upper bound is finite.
func (b Bound) Bounded() bool {
	return !math.IsInf(b.Upper, 1)
}

// Validate checks the bound itself, independent of any parameter value.
func (b Bound) Validate() error {
	if math.IsNaN(b.Lower) || math.IsInf(b.Lower, 0) {
		return &ValidationError{Field: "Lower", Reason: "must be finite"}
	}
	if math.IsNaN(b.Upper) || math.IsInf(b.Upper, -1) {
		return &ValidationError{Field: "Upper", Reason: "must be a number or +Inf"}
	}
	if !(b.Scale > 0) || math.IsInf(b.Scale, 1) {
		return &ValidationError{Field: "Scale", Reason: "must be positive and finite"}
	}
	if b.Lower >= b.Upper {
		return &ValidationError{
			Field:  "Upper",
			Reason: fmt.Sprintf("must exceed lower bound (%g >= %g)", b.Lower, b.Upper),
		}
	}
	return nil
}

// BoundSpec describes the bounds of a vector parameter. It is either one
// shared Bound broadcast over every element, or elementwise lower and upper
// vectors. A nil Upper in the elementwise form means every element is
// unbounded above. Scale holds either one value broadcast over all elements
// or one value per element.
type BoundSpec struct {
	shared *Bound
	Lower  []float64
	Upper  []float64
	Scale  []float64
}

// Shared returns a spec that applies b to every element.
func Shared(b Bound) BoundSpec {
	return BoundSpec{shared: &b}
}

// Elementwise returns a spec with per-element lower and upper bounds. upper
// may be nil for parameters bounded below only. scale may be omitted (1),
// a single value, or one value per element.
func Elementwise(lower, upper []float64, scale ...float64) BoundSpec {
	if len(scale) == 0 {
		scale = []float64{1}
	}
	return BoundSpec{Lower: lower, Upper: upper, Scale: scale}
}

// Resolve expands the spec into one Bound per element for a vector of
// length n. All validation runs here, before any value is transformed.
func (s BoundSpec) Resolve(n int) ([]Bound, error) {
	if s.shared != nil {
		if err := s.shared.Validate(); err != nil {
			return nil, err
		}
		out := make([]Bound, n)
		for i := range out {
			out[i] = *s.shared
		}
		return out, nil
	}

	if len(s.Lower) != n {
		return nil, &ShapeError{Field: "Lower", Reason: fmt.Sprintf("has length %d, want %d", len(s.Lower), n)}
	}
	if s.Upper != nil && len(s.Upper) != n {
		return nil, &ShapeError{Field: "Upper", Reason: fmt.Sprintf("has length %d, want %d", len(s.Upper), n)}
	}
	switch len(s.Scale) {
	case 1, n:
	default:
		return nil, &ShapeError{Field: "Scale", Reason: fmt.Sprintf("has length %d, want 1 or %d", len(s.Scale), n)}
	}

	finite := 0
	for _, u := range s.Upper {
		if !math.IsInf(u, 1) {
			finite++
		}
	}
	if finite != 0 && finite != len(s.Upper) {
		return nil, &ValidationError{
			Field:  "Upper",
			Reason: fmt.Sprintf("mixes finite and infinite bounds (%d of %d finite)", finite, len(s.Upper)),
		}
	}

	out := make([]Bound, n)
	for i := range out {
		b := Bound{Lower: s.Lower[i], Upper: math.Inf(1), Scale: s.Scale[0]}
		if s.Upper != nil {
			b.Upper = s.Upper[i]
		}
		if len(s.Scale) == n {
			b.Scale = s.Scale[i]
		}
		if err := b.Validate(); err != nil {
			ve := err.(*ValidationError)
			return nil, &ValidationError{Field: fmt.Sprintf("%s[%d]", ve.Field, i), Reason: ve.Reason}
		}
		out[i] = b
	}
	return out, nil
}
