package problem

import (
	"fmt"

	"github.com/cwbudde/wolfefit/internal/sensitive"
	"github.com/cwbudde/wolfefit/internal/transform"
	"gonum.org/v1/gonum/mat"
)

// RosenbrockLayout treats every coordinate as its own source.
var RosenbrockLayout = sensitive.Layout{Name: "rosenbrock", PerSource: 1}

// Rosenbrock is the negated n-dimensional Rosenbrock function
//
//	-Σ 100(x[i+1] - x[i]²)² + (1 - x[i])²
//
// on the open box (-5, 5)ⁿ. Its maximum is 0 at (1, ..., 1).
type Rosenbrock struct {
	N int
}

// NewRosenbrock returns the n-dimensional problem. n must be at least 2.
func NewRosenbrock(n int) (*Rosenbrock, error) {
	if n < 2 {
		return nil, fmt.Errorf("rosenbrock needs at least 2 dimensions, got %d", n)
	}
	return &Rosenbrock{N: n}, nil
}

func (r *Rosenbrock) Name() string { return "rosenbrock" }

func (r *Rosenbrock) Layout() sensitive.Layout { return RosenbrockLayout }

func (r *Rosenbrock) Sources() int { return r.N }

func (r *Rosenbrock) Bounds() transform.Groups {
	idx := make([]int, r.N)
	for i := range idx {
		idx[i] = i
	}
	return transform.Groups{
		{Name: "x", Indices: idx, Spec: transform.Shared(transform.Between(-5, 5, 1))},
	}
}

// Start is the classic (-1.2, 1, -1.2, 1, ...) starting point.
func (r *Rosenbrock) Start() []float64 {
	x := make([]float64, r.N)
	for i := range x {
		if i%2 == 0 {
			x[i] = -1.2
		} else {
			x[i] = 1
		}
	}
	return x
}

func (r *Rosenbrock) Evaluate(x []float64) (*sensitive.Float, error) {
	if len(x) != r.N {
		return nil, fmt.Errorf("rosenbrock expects %d parameters, got %d", r.N, len(x))
	}

	var value float64
	grad := make([]float64, r.N)
	hess := mat.NewSymDense(r.N, nil)
	for i := 0; i < r.N-1; i++ {
		t0 := x[i+1] - x[i]*x[i]
		t1 := 1 - x[i]
		value -= 100*t0*t0 + t1*t1

		grad[i] -= -400*t0*x[i] - 2*t1
		grad[i+1] -= 200 * t0

		hess.SetSym(i, i, hess.At(i, i)-(1200*x[i]*x[i]-400*x[i+1]+2))
		hess.SetSym(i, i+1, 400*x[i])
		hess.SetSym(i+1, i+1, hess.At(i+1, i+1)-200)
	}
	return sensitive.New(RosenbrockLayout, r.N, value, grad, hess)
}
