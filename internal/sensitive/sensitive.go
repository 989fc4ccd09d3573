// Package sensitive holds sensitivity-tracked scalars: a value together with
// its gradient and Hessian with respect to a fixed parameter layout.
//
// A Float is built once and never mutated. Objectives are assembled by
// summing per-source contributions with Add or Reduce; Reduce folds left to
// right starting from the first term, so Reduce([a, b, c]) performs exactly
// the floating-point operations of Add(Add(a, b), c).
package sensitive

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// Layout names a parameter layout and the number of parameters each source
// contributes. The gradient of a Float over S sources has PerSource*S
// entries, laid out source by source.
type Layout struct {
	Name      string
	PerSource int
}

// Size returns the flat parameter count for the given number of sources.
func (l Layout) Size(sources int) int {
	return l.PerSource * sources
}

// Float is a value with its gradient and Hessian.
type Float struct {
	layout  Layout
	sources int

	Value float64
	Grad  []float64
	Hess  *mat.SymDense
}

// Zero returns a Float with value, gradient and Hessian all zero. Floats
// always hold float64; dual numbers stay inside the transform package.
func Zero(layout Layout, sources int) (*Float, error) {
	if layout.PerSource <= 0 {
		return nil, &ShapeError{Field: "Layout.PerSource", Reason: "must be positive"}
	}
	if sources <= 0 {
		return nil, &ShapeError{Field: "sources", Reason: "must be positive"}
	}
	n := layout.Size(sources)
	return &Float{
		layout:  layout,
		sources: sources,
		Grad:    make([]float64, n),
		Hess:    mat.NewSymDense(n, nil),
	}, nil
}

// New builds a Float from caller data. grad and hess are copied; hess may be
// nil for an all-zero Hessian.
func New(layout Layout, sources int, value float64, grad []float64, hess mat.Symmetric) (*Float, error) {
	f, err := Zero(layout, sources)
	if err != nil {
		return nil, err
	}
	n := len(f.Grad)
	if len(grad) != n {
		return nil, &ShapeError{Field: "grad", Reason: fmt.Sprintf("has length %d, want %d", len(grad), n)}
	}
	f.Value = value
	copy(f.Grad, grad)
	if hess != nil {
		if hess.SymmetricDim() != n {
			return nil, &ShapeError{Field: "hess", Reason: fmt.Sprintf("has size %d, want %d", hess.SymmetricDim(), n)}
		}
		f.Hess.CopySym(hess)
	}
	return f, nil
}

// Layout returns the parameter layout of f.
func (f *Float) Layout() Layout { return f.layout }

// Sources returns the number of sources f spans.
func (f *Float) Sources() int { return f.sources }

// Len returns the flat parameter count.
func (f *Float) Len() int { return len(f.Grad) }

// Clone returns a deep copy of f.
func (f *Float) Clone() *Float {
	n := len(f.Grad)
	c := &Float{
		layout:  f.layout,
		sources: f.sources,
		Value:   f.Value,
		Grad:    make([]float64, n),
		Hess:    mat.NewSymDense(n, nil),
	}
	copy(c.Grad, f.Grad)
	c.Hess.CopySym(f.Hess)
	return c
}

// SourceGrad returns a copy of the gradient block belonging to source s.
func (f *Float) SourceGrad(s int) ([]float64, error) {
	if s < 0 || s >= f.sources {
		return nil, &ShapeError{Field: "source", Reason: fmt.Sprintf("index %d out of range [0, %d)", s, f.sources)}
	}
	k := f.layout.PerSource
	out := make([]float64, k)
	copy(out, f.Grad[s*k:(s+1)*k])
	return out, nil
}

// Validate reports a ValidationError if any entry is NaN or infinite.
func (f *Float) Validate() error {
	if !isFinite(f.Value) {
		return &ValidationError{Field: "Value", Reason: fmt.Sprintf("is not finite (%g)", f.Value)}
	}
	for i, g := range f.Grad {
		if !isFinite(g) {
			return &ValidationError{Field: fmt.Sprintf("Grad[%d]", i), Reason: fmt.Sprintf("is not finite (%g)", g)}
		}
	}
	n := len(f.Grad)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			if h := f.Hess.At(i, j); !isFinite(h) {
				return &ValidationError{Field: fmt.Sprintf("Hess[%d,%d]", i, j), Reason: fmt.Sprintf("is not finite (%g)", h)}
			}
		}
	}
	return nil
}

// Add returns a + b. Both must share the layout and source count.
func Add(a, b *Float) (*Float, error) {
	if err := compatible(a, b); err != nil {
		return nil, err
	}
	c := a.Clone()
	c.Value += b.Value
	floats.Add(c.Grad, b.Grad)
	c.Hess.AddSym(c.Hess, b.Hess)
	return c, nil
}

// Reduce sums terms left to right: ((t0 + t1) + t2) + ...
func Reduce(terms []*Float) (*Float, error) {
	if len(terms) == 0 {
		return nil, &ShapeError{Field: "terms", Reason: "cannot be empty"}
	}
	acc := terms[0].Clone()
	for i, t := range terms[1:] {
		next, err := Add(acc, t)
		if err != nil {
			return nil, fmt.Errorf("term %d: %w", i+1, err)
		}
		acc = next
	}
	return acc, nil
}

func compatible(a, b *Float) error {
	if a == nil || b == nil {
		return &ShapeError{Field: "operand", Reason: "cannot be nil"}
	}
	if a.layout != b.layout {
		return &ShapeError{
			Field:  "layout",
			Reason: fmt.Sprintf("mismatch (%s/%d vs %s/%d)", a.layout.Name, a.layout.PerSource, b.layout.Name, b.layout.PerSource),
		}
	}
	if a.sources != b.sources {
		return &ShapeError{Field: "sources", Reason: fmt.Sprintf("mismatch (%d vs %d)", a.sources, b.sources)}
	}
	return nil
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
