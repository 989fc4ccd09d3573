// Package transform maps box-constrained parameters to an unconstrained
// space and back.
//
// A parameter with a finite upper bound is mapped with a scaled logit,
//
//	free = log((p - l) / (u - p)) / scale,   p = l + (u - l) / (1 + exp(-scale*free))
//
// and a parameter bounded below only with a scaled log,
//
//	free = log(p - l) / scale,   p = l + exp(scale*free).
//
// Box is total: every free value maps to a point inside the box. Unbox is
// partial: the constrained value must lie strictly inside its bounds.
// Unbox, Box and UnboxDerivative are generic over Number so the same code
// runs on Real and on Dual values.
package transform

import (
	"fmt"
	"math"
)

// Unbox maps a constrained value to its free coordinate.
func Unbox[T Number[T]](param T, b Bound) (T, error) {
	var zero T
	if err := b.Validate(); err != nil {
		return zero, err
	}
	if err := inside(-1, param.Real(), b); err != nil {
		return zero, err
	}
	return unbox(param, b), nil
}

// Box maps a free coordinate back into the box. It is the inverse of Unbox.
func Box[T Number[T]](free T, b Bound) (T, error) {
	var zero T
	if err := b.Validate(); err != nil {
		return zero, err
	}
	return box(free, b), nil
}

// UnboxDerivative returns d(free)/dθ at param, given paramDerivative =
// d(param)/dθ. It is the chain-rule factor for pushing a derivative taken
// with respect to the constrained value into the free coordinate.
func UnboxDerivative[T Number[T]](param, paramDerivative T, b Bound) (T, error) {
	var zero T
	if err := b.Validate(); err != nil {
		return zero, err
	}
	if err := inside(-1, param.Real(), b); err != nil {
		return zero, err
	}
	return unboxDerivative(param, paramDerivative, b), nil
}

// UnboxVec applies Unbox elementwise.
func UnboxVec[T Number[T]](params []T, spec BoundSpec) ([]T, error) {
	bounds, err := spec.Resolve(len(params))
	if err != nil {
		return nil, err
	}
	for i, p := range params {
		if err := inside(i, p.Real(), bounds[i]); err != nil {
			return nil, err
		}
	}
	out := make([]T, len(params))
	for i, p := range params {
		out[i] = unbox(p, bounds[i])
	}
	return out, nil
}

// BoxVec applies Box elementwise.
func BoxVec[T Number[T]](free []T, spec BoundSpec) ([]T, error) {
	bounds, err := spec.Resolve(len(free))
	if err != nil {
		return nil, err
	}
	out := make([]T, len(free))
	for i, f := range free {
		out[i] = box(f, bounds[i])
	}
	return out, nil
}

// UnboxDerivativeVec applies UnboxDerivative elementwise.
func UnboxDerivativeVec[T Number[T]](params, paramDerivatives []T, spec BoundSpec) ([]T, error) {
	if len(params) != len(paramDerivatives) {
		return nil, &ShapeError{
			Field:  "paramDerivatives",
			Reason: fmt.Sprintf("has length %d, want %d", len(paramDerivatives), len(params)),
		}
	}
	bounds, err := spec.Resolve(len(params))
	if err != nil {
		return nil, err
	}
	for i, p := range params {
		if err := inside(i, p.Real(), bounds[i]); err != nil {
			return nil, err
		}
	}
	out := make([]T, len(params))
	for i, p := range params {
		out[i] = unboxDerivative(p, paramDerivatives[i], bounds[i])
	}
	return out, nil
}

// BoxDerivative returns d(param)/d(free) at free.
func BoxDerivative(free float64, b Bound) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if !b.Bounded() {
		return b.Scale * math.Exp(b.Scale*free), nil
	}
	s := sigmoid(b.Scale * free)
	return (b.Upper - b.Lower) * b.Scale * s * (1 - s), nil
}

// BoxSecondDerivative returns d²(param)/d(free)² at free.
func BoxSecondDerivative(free float64, b Bound) (float64, error) {
	if err := b.Validate(); err != nil {
		return 0, err
	}
	if !b.Bounded() {
		return b.Scale * b.Scale * math.Exp(b.Scale*free), nil
	}
	s := sigmoid(b.Scale * free)
	return (b.Upper - b.Lower) * b.Scale * b.Scale * s * (1 - s) * (1 - 2*s), nil
}

func unbox[T Number[T]](param T, b Bound) T {
	lower := param.Lift(b.Lower)
	scale := param.Lift(b.Scale)
	if !b.Bounded() {
		return param.Sub(lower).Log().Div(scale)
	}
	upper := param.Lift(b.Upper)
	return param.Sub(lower).Div(upper.Sub(param)).Log().Div(scale)
}

func box[T Number[T]](free T, b Bound) T {
	lower := free.Lift(b.Lower)
	scaled := free.Mul(free.Lift(b.Scale))
	if !b.Bounded() {
		return lower.Add(scaled.Exp())
	}
	width := free.Lift(b.Upper - b.Lower)
	one := free.Lift(1)
	return lower.Add(width.Div(one.Add(scaled.Neg().Exp())))
}

func unboxDerivative[T Number[T]](param, paramDerivative T, b Bound) T {
	lower := param.Lift(b.Lower)
	scale := param.Lift(b.Scale)
	if !b.Bounded() {
		return paramDerivative.Div(param.Sub(lower)).Div(scale)
	}
	upper := param.Lift(b.Upper)
	// d/dp log((p-l)/(u-p)) = (u-l) / ((p-l)(u-p))
	jac := upper.Sub(lower).Div(param.Sub(lower).Mul(upper.Sub(param)))
	return paramDerivative.Mul(jac).Div(scale)
}

// inside requires lower < value and, for a finite upper bound, value < upper.
// NaN fails the lower test.
func inside(index int, value float64, b Bound) error {
	if !(value > b.Lower) {
		return &BoundsError{Index: index, Value: value, Bound: b.Lower, Side: "lower"}
	}
	if b.Bounded() && !(value < b.Upper) {
		return &BoundsError{Index: index, Value: value, Bound: b.Upper, Side: "upper"}
	}
	return nil
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
