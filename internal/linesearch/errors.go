package linesearch

// Sentinels for errors.Is checks.
var (
	ErrArithmetic = &ArithmeticError{}
	ErrValidation = &ValidationError{}
)

// ArithmeticError reports a numerical precondition that does not hold, such
// as a non-descent search direction or a complex interpolation root.
type ArithmeticError struct {
	Op     string
	Reason string
}

func (e *ArithmeticError) Error() string {
	return "arithmetic error: " + e.Op + ": " + e.Reason
}

func (e *ArithmeticError) Is(target error) bool {
	_, ok := target.(*ArithmeticError)
	return ok
}

// ValidationError reports invalid search parameters or inputs.
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
