package sensitive

// Sentinels for errors.Is checks.
var (
	ErrShape      = &ShapeError{}
	ErrValidation = &ValidationError{}
)

// ShapeError reports operands whose layout, source count or dimensions do
// not match. It always indicates a caller bug.
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

// ValidationError reports a non-finite value, gradient or Hessian entry.
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
