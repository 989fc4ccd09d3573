package opt

// ErrValidation is the sentinel for errors.Is checks.
var ErrValidation = &ValidationError{}

// ValidationError reports an invalid optimiser configuration or input.
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
