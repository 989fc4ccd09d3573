package transform

import "fmt"

// Sentinels for errors.Is checks.
var (
	ErrBounds     = &BoundsError{}
	ErrShape      = &ShapeError{}
	ErrValidation = &ValidationError{}
)

// BoundsError reports a constrained value that is outside, or exactly on,
// one of its declared bounds.
type BoundsError struct {
	Index int // Element index for vector calls, -1 for scalar calls
	Value float64
	Bound float64
	Side  string // "lower" or "upper"
}

func (e *BoundsError) Error() string {
	if e.Side == "" {
		return "value outside bounds"
	}
	if e.Index >= 0 {
		return fmt.Sprintf("element %d: value %g violates %s bound %g", e.Index, e.Value, e.Side, e.Bound)
	}
	return fmt.Sprintf("value %g violates %s bound %g", e.Value, e.Side, e.Bound)
}

func (e *BoundsError) Is(target error) bool {
	_, ok := target.(*BoundsError)
	return ok
}

// ShapeError reports mismatched lengths between a value and its bounds.
type ShapeError struct {
	Field  string
	Reason string
}

func (e *ShapeError) Error() string {
	return "shape error: " + e.Field + " " + e.Reason
}

func (e *ShapeError) Is(target error) bool {
	_, ok := target.(*ShapeError)
	return ok
}

// ValidationError reports an invalid bound specification, such as a vector
// call mixing finite and infinite upper bounds.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

func (e *ValidationError) Is(target error) bool {
	_, ok := target.(*ValidationError)
	return ok
}
