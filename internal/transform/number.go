package transform

import (
	"math"

	"gonum.org/v1/gonum/num/dual"
)

// Number is the arithmetic a parameter value needs so that the box
// transforms can be written once and evaluated on plain floats or on dual
// numbers. T is the implementing type itself.
type Number[T any] interface {
	Add(T) T
	Sub(T) T
	Mul(T) T
	Div(T) T
	Neg() T
	Exp() T
	Log() T

	// Real returns the primal value, used for ordering and bound checks.
	Real() float64

	// Lift converts a constant into T with zero derivative part.
	Lift(float64) T
}

// Real is a plain float64 satisfying Number.
type Real float64

func (r Real) Add(o Real) Real { return r + o }
func (r Real) Sub(o Real) Real { return r - o }
func (r Real) Mul(o Real) Real { return r * o }
func (r Real) Div(o Real) Real { return r / o }
func (r Real) Neg() Real { return -r }
func (r Real) Exp() Real { return Real(math.Exp(float64(r))) }
func (r Real) Log() Real { return Real(math.Log(float64(r))) }
func (r Real) Real() float64 { return float64(r) }
func (Real) Lift(v float64) Real { return Real(v) }

// Dual is a forward-mode dual number (value plus one derivative component)
// backed by gonum's num/dual package.
type Dual struct {
	n dual.Number
}

// NewDual returns a dual number with the given value and derivative.
func NewDual(value, deriv float64) Dual {
	return Dual{n: dual.Number{Real: value, Emag: deriv}}
}

func (d Dual) Add(o Dual) Dual { return Dual{n: dual.Add(d.n, o.n)} }
func (d Dual) Sub(o Dual) Dual { return Dual{n: dual.Sub(d.n, o.n)} }
func (d Dual) Mul(o Dual) Dual { return Dual{n: dual.Mul(d.n, o.n)} }
func (d Dual) Neg() Dual { return Dual{n: dual.Scale(-1, d.n)} }
func (d Dual) Exp() Dual { return Dual{n: dual.Exp(d.n)} }
func (d Dual) Log() Dual { return Dual{n: dual.Log(d.n)} }

// Div keeps the primal part a plain quotient so Real and Dual evaluations
// of the same formula agree bit for bit.
func (d Dual) Div(o Dual) Dual {
	return Dual{n: dual.Number{
		Real: d.n.Real / o.n.Real,
		Emag: (d.n.Emag*o.n.Real - d.n.Real*o.n.Emag) / (o.n.Real * o.n.Real),
	}}
}

// Real returns the primal part.
func (d Dual) Real() float64 { return d.n.Real }

// Deriv returns the derivative (epsilon) part.
func (d Dual) Deriv() float64 { return d.n.Emag }

func (Dual) Lift(v float64) Dual { return Dual{n: dual.Number{Real: v}} }

// Reals converts a float64 slice to Real values.
func Reals(xs []float64) []Real {
	out := make([]Real, len(xs))
	for i, x := range xs {
		out[i] = Real(x)
	}
	return out
}

// Floats converts any Number slice back to its primal float64 values.
func Floats[T Number[T]](xs []T) []float64 {
	out := make([]float64, len(xs))
	for i, x := range xs {
		out[i] = x.Real()
	}
	return out
}
