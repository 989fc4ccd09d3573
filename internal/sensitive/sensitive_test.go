package sensitive

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

var testLayout = Layout{Name: "star", PerSource: 2}

// term builds a Float over two sources whose entries are derived from seed
// with awkward fractions, so that summation order shows up in the bits.
func term(t *testing.T, seed float64) *Float {
	t.Helper()
	n := testLayout.Size(2)
	grad := make([]float64, n)
	hess := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		grad[i] = seed/float64(i+3) + 1e-17*seed
		for j := i; j < n; j++ {
			hess.SetSym(i, j, seed*0.1/float64(i+j+7))
		}
	}
	f, err := New(testLayout, 2, seed/3, grad, hess)
	require.NoError(t, err)
	return f
}

func requireIdentical(t *testing.T, want, got *Float) {
	t.Helper()
	require.Equal(t, math.Float64bits(want.Value), math.Float64bits(got.Value))
	require.Equal(t, len(want.Grad), len(got.Grad))
	for i := range want.Grad {
		require.Equal(t, math.Float64bits(want.Grad[i]), math.Float64bits(got.Grad[i]), "grad[%d]", i)
	}
	n := want.Len()
	for i := 0; i < n; i++ {
		for j := 0; j < n; j++ {
			require.Equal(t, math.Float64bits(want.Hess.At(i, j)), math.Float64bits(got.Hess.At(i, j)), "hess[%d,%d]", i, j)
		}
	}
}

func TestZero(t *testing.T) {
	f, err := Zero(testLayout, 3)
	require.NoError(t, err)

	assert.Equal(t, 0.0, f.Value)
	assert.Len(t, f.Grad, 6)
	r, c := f.Hess.Dims()
	assert.Equal(t, 6, r)
	assert.Equal(t, 6, c)
	assert.True(t, mat.Equal(f.Hess, mat.NewSymDense(6, nil)))
	assert.Equal(t, testLayout, f.Layout())
	assert.Equal(t, 3, f.Sources())
}

func TestZeroRejectsEmptyLayout(t *testing.T) {
	_, err := Zero(Layout{Name: "empty"}, 1)
	assert.ErrorIs(t, err, ErrShape)

	_, err = Zero(testLayout, 0)
	assert.ErrorIs(t, err, ErrShape)
}

func TestNewCopiesInputs(t *testing.T) {
	grad := []float64{1, 2, 3, 4}
	f, err := New(testLayout, 2, 5, grad, nil)
	require.NoError(t, err)

	grad[0] = 100
	assert.Equal(t, 1.0, f.Grad[0])

	_, err = New(testLayout, 2, 5, []float64{1, 2}, nil)
	assert.ErrorIs(t, err, ErrShape)

	_, err = New(testLayout, 2, 5, grad, mat.NewSymDense(3, nil))
	assert.ErrorIs(t, err, ErrShape)
}

func TestAdd(t *testing.T) {
	a, b := term(t, 1.3), term(t, -0.7)

	c, err := Add(a, b)
	require.NoError(t, err)

	assert.Equal(t, a.Value+b.Value, c.Value)
	for i := range c.Grad {
		assert.Equal(t, a.Grad[i]+b.Grad[i], c.Grad[i])
	}
	assert.Equal(t, a.Hess.At(1, 3)+b.Hess.At(1, 3), c.Hess.At(1, 3))

	// Operands are left untouched.
	requireIdentical(t, term(t, 1.3), a)
	requireIdentical(t, term(t, -0.7), b)
}

func TestAddCommutative(t *testing.T) {
	a, b := term(t, 0.1), term(t, 0.2)

	ab, err := Add(a, b)
	require.NoError(t, err)
	ba, err := Add(b, a)
	require.NoError(t, err)
	requireIdentical(t, ab, ba)
}

func TestAddAssociativeOnExactValues(t *testing.T) {
	// Dyadic rationals add exactly, so both groupings agree bit for bit.
	mk := func(v float64) *Float {
		f, err := New(testLayout, 2, v, []float64{v, 2 * v, v / 2, v / 4}, nil)
		require.NoError(t, err)
		return f
	}
	a, b, c := mk(0.5), mk(0.25), mk(8)

	ab, err := Add(a, b)
	require.NoError(t, err)
	left, err := Add(ab, c)
	require.NoError(t, err)

	bc, err := Add(b, c)
	require.NoError(t, err)
	right, err := Add(a, bc)
	require.NoError(t, err)

	requireIdentical(t, left, right)
}

func TestReduceMatchesLeftFold(t *testing.T) {
	a, b, c := term(t, 0.1), term(t, 0.2), term(t, 0.3)

	ab, err := Add(a, b)
	require.NoError(t, err)
	want, err := Add(ab, c)
	require.NoError(t, err)

	got, err := Reduce([]*Float{a, b, c})
	require.NoError(t, err)
	requireIdentical(t, want, got)
}

func TestReduceLongSequence(t *testing.T) {
	terms := make([]*Float, 50)
	for i := range terms {
		terms[i] = term(t, 0.1*float64(i)+1/float64(i+1))
	}

	want := terms[0]
	for _, next := range terms[1:] {
		var err error
		want, err = Add(want, next)
		require.NoError(t, err)
	}

	got, err := Reduce(terms)
	require.NoError(t, err)
	requireIdentical(t, want, got)
}

func TestReduceSingleAndEmpty(t *testing.T) {
	a := term(t, 0.9)
	got, err := Reduce([]*Float{a})
	require.NoError(t, err)
	requireIdentical(t, a, got)
	assert.NotSame(t, a, got)

	_, err = Reduce(nil)
	assert.ErrorIs(t, err, ErrShape)
}

func TestAddMismatch(t *testing.T) {
	a := term(t, 1)

	otherSources, err := Zero(testLayout, 3)
	require.NoError(t, err)
	_, err = Add(a, otherSources)
	assert.ErrorIs(t, err, ErrShape)

	otherName, err := Zero(Layout{Name: "galaxy", PerSource: 2}, 2)
	require.NoError(t, err)
	_, err = Add(a, otherName)
	assert.ErrorIs(t, err, ErrShape)

	otherWidth, err := Zero(Layout{Name: "star", PerSource: 1}, 4)
	require.NoError(t, err)
	_, err = Add(a, otherWidth)
	assert.ErrorIs(t, err, ErrShape)

	_, err = Reduce([]*Float{a, a, otherSources})
	assert.ErrorIs(t, err, ErrShape)
}

func TestSourceGrad(t *testing.T) {
	f, err := New(testLayout, 2, 0, []float64{1, 2, 3, 4}, nil)
	require.NoError(t, err)

	g, err := f.SourceGrad(1)
	require.NoError(t, err)
	assert.Equal(t, []float64{3, 4}, g)

	g[0] = 99
	assert.Equal(t, 3.0, f.Grad[2])

	_, err = f.SourceGrad(2)
	assert.ErrorIs(t, err, ErrShape)
}

func TestValidate(t *testing.T) {
	f := term(t, 1)
	require.NoError(t, f.Validate())

	bad := f.Clone()
	bad.Value = math.NaN()
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = f.Clone()
	bad.Grad[2] = math.Inf(-1)
	assert.ErrorIs(t, bad.Validate(), ErrValidation)

	bad = f.Clone()
	bad.Hess.SetSym(0, 3, math.NaN())
	assert.ErrorIs(t, bad.Validate(), ErrValidation)
}
