package opt

import (
	"fmt"

	"github.com/cwbudde/wolfefit/internal/transform"
	"gonum.org/v1/gonum/mat"
)

// Point is an objective evaluation expressed in free coordinates.
type Point struct {
	Free   []float64
	Params []float64
	Value  float64
	Grad   []float64     // d value / d free
	Hess   *mat.SymDense // d² value / d free²
}

// FreeObjective presents an Objective as a function of unconstrained free
// coordinates. Free points map to parameters with Box; the gradient and
// Hessian follow by the chain rule:
//
//	g_free[i]    = g[i] / u'(p[i])
//	H_free[i][j] = J[i]·H[i][j]·J[j] + δ[i][j]·g[i]·p''(free[i])
//
// where u' is the unbox derivative and J[i] = 1/u'(p[i]) = p'(free[i]).
type FreeObjective struct {
	obj    Objective
	groups transform.Groups
	bounds []transform.Bound
	n      int
}

// NewFreeObjective validates the objective's bound groups against its
// layout.
func NewFreeObjective(obj Objective) (*FreeObjective, error) {
	n := obj.Layout().Size(obj.Sources())
	groups := obj.Bounds()
	bounds, err := groups.Bounds(n)
	if err != nil {
		return nil, fmt.Errorf("objective bounds: %w", err)
	}
	return &FreeObjective{obj: obj, groups: groups, bounds: bounds, n: n}, nil
}

// Dim returns the number of free coordinates.
func (f *FreeObjective) Dim() int { return f.n }

// ToFree maps constrained parameters to free coordinates. It fails with a
// transform.BoundsError when a parameter is not strictly inside its bounds.
func (f *FreeObjective) ToFree(params []float64) ([]float64, error) {
	return f.groups.Unbox(params)
}

// ToParams maps free coordinates to constrained parameters.
func (f *FreeObjective) ToParams(free []float64) ([]float64, error) {
	return f.groups.Box(free)
}

// Evaluate evaluates the objective at a free point. It fails when the value
// or derivatives are not finite, or when a coordinate is so large that its
// parameter rounds onto a bound.
func (f *FreeObjective) Evaluate(free []float64) (*Point, error) {
	if len(free) != f.n {
		return nil, &ValidationError{Field: "free", Reason: fmt.Sprintf("has length %d, want %d", len(free), f.n)}
	}
	params, err := f.groups.Box(free)
	if err != nil {
		return nil, err
	}
	sf, err := f.obj.Evaluate(params)
	if err != nil {
		return nil, fmt.Errorf("evaluate objective: %w", err)
	}
	if err := sf.Validate(); err != nil {
		return nil, fmt.Errorf("evaluate objective: %w", err)
	}
	dfree, err := f.groups.UnboxDerivative(params)
	if err != nil {
		return nil, fmt.Errorf("free coordinate saturated: %w", err)
	}

	jac := make([]float64, f.n)
	grad := make([]float64, f.n)
	for i := range jac {
		jac[i] = 1 / dfree[i]
		grad[i] = sf.Grad[i] * jac[i]
	}

	hess := mat.NewSymDense(f.n, nil)
	for i := 0; i < f.n; i++ {
		for j := i; j < f.n; j++ {
			h := jac[i] * sf.Hess.At(i, j) * jac[j]
			if i == j {
				d2, err := transform.BoxSecondDerivative(free[i], f.bounds[i])
				if err != nil {
					return nil, err
				}
				h += sf.Grad[i] * d2
			}
			hess.SetSym(i, j, h)
		}
	}

	return &Point{
		Free:   append([]float64(nil), free...),
		Params: params,
		Value:  sf.Value,
		Grad:   grad,
		Hess:   hess,
	}, nil
}
