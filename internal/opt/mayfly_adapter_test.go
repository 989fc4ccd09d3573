package opt

import (
	"math"
	"testing"
)

// Sphere function: f(x) = sum(x_i^2), minimum at origin
func sphere(x []float64) float64 {
	var sum float64
	for _, v := range x {
		sum += v * v
	}
	return sum
}

func uniformBox(dim int, lo, hi float64) ([]float64, []float64) {
	lower := make([]float64, dim)
	upper := make([]float64, dim)
	for i := 0; i < dim; i++ {
		lower[i] = lo
		upper[i] = hi
	}
	return lower, upper
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	searcher := NewMayfly(100, 20, 42) // maxIters, popSize, seed

	dim := 3
	lower, upper := uniformBox(dim, -10, 10)

	best, cost, err := searcher.Run(sphere, lower, upper, dim)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(best) != dim {
		t.Fatalf("Expected %d parameters, got %d", dim, len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	dim := 2
	lower, upper := uniformBox(dim, -5, 5)

	_, cost1, err := NewMayfly(50, 20, 123).Run(sphere, lower, upper, dim)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	_, cost2, err := NewMayfly(50, 20, 123).Run(sphere, lower, upper, dim)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflyAdapterRejectsBadInput(t *testing.T) {
	lower, upper := uniformBox(2, -1, 1)
	upper[1] = 2

	if _, _, err := NewMayfly(10, 20, 1).Run(sphere, lower, upper, 2); err == nil {
		t.Error("Expected error for non-uniform bounds")
	}
	if _, _, err := NewMayfly(10, 20, 1).Run(sphere, lower[:1], upper, 2); err == nil {
		t.Error("Expected error for short bounds")
	}

	lower, upper = uniformBox(2, -1, 1)
	if _, _, err := NewMayfly(10, 5, 1).Run(sphere, lower, upper, 2); err == nil {
		t.Error("Expected error for small population")
	}
}
