package transform

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const roundTripTol = 1e-6

var scalarCases = []struct {
	name  string
	param float64
	bound Bound
}{
	{"unit interval middle", 0.5, Between(0, 1, 1)},
	{"unit interval near lower", 1e-9, Between(0, 1, 1)},
	{"unit interval near upper", 1 - 1e-9, Between(0, 1, 1)},
	{"pixel position scaled", 37.25, Between(0, 100, 0.01)},
	{"negative box", -3.5, Between(-10, -1, 2)},
	{"lower only", 4.2, Below(0, 1)},
	{"lower only scaled", 1e4, Below(-5, 0.1)},
	{"lower only near bound", 1e-12, Below(0, 1)},
}

func TestBoxUnboxRoundTrip(t *testing.T) {
	for _, tt := range scalarCases {
		t.Run(tt.name, func(t *testing.T) {
			free, err := Unbox(Real(tt.param), tt.bound)
			require.NoError(t, err)

			back, err := Box(free, tt.bound)
			require.NoError(t, err)
			assert.InDelta(t, tt.param, float64(back), roundTripTol)
		})
	}
}

func TestBoxUnboxRoundTripDual(t *testing.T) {
	for _, tt := range scalarCases {
		t.Run(tt.name, func(t *testing.T) {
			free, err := Unbox(NewDual(tt.param, 1), tt.bound)
			require.NoError(t, err)

			back, err := Box(free, tt.bound)
			require.NoError(t, err)
			assert.InDelta(t, tt.param, back.Real(), roundTripTol)
			// box(unbox(p)) is the identity, so its derivative is one.
			assert.InDelta(t, 1, back.Deriv(), 1e-6)
		})
	}
}

func TestDualMatchesUnboxDerivative(t *testing.T) {
	for _, tt := range scalarCases {
		t.Run(tt.name, func(t *testing.T) {
			free, err := Unbox(NewDual(tt.param, 1), tt.bound)
			require.NoError(t, err)

			want, err := UnboxDerivative(Real(tt.param), Real(1), tt.bound)
			require.NoError(t, err)
			assert.InEpsilon(t, float64(want), free.Deriv(), 1e-9)

			plain, err := Unbox(Real(tt.param), tt.bound)
			require.NoError(t, err)
			assert.Equal(t, float64(plain), free.Real())
		})
	}
}

func TestUnboxDerivativeChainRule(t *testing.T) {
	b := Between(0, 10, 0.5)
	p := Real(3)

	unit, err := UnboxDerivative(p, Real(1), b)
	require.NoError(t, err)
	scaled, err := UnboxDerivative(p, Real(2.5), b)
	require.NoError(t, err)
	assert.InEpsilon(t, 2.5*float64(unit), float64(scaled), 1e-12)

	dual, err := UnboxDerivative(NewDual(3, 0), NewDual(2.5, 0), b)
	require.NoError(t, err)
	assert.Equal(t, float64(scaled), dual.Real())
}

func TestScaleLaw(t *testing.T) {
	for _, c := range []float64{0.01, 0.3, 1, 7, 250} {
		for _, tt := range scalarCases {
			b1 := tt.bound
			b1.Scale = c
			b2 := tt.bound
			b2.Scale = 2 * c

			u1, err := Unbox(Real(tt.param), b1)
			require.NoError(t, err)
			u2, err := Unbox(Real(tt.param), b2)
			require.NoError(t, err)
			assert.Equal(t, float64(u1)/2, float64(u2), "%s: unbox scale %g", tt.name, c)

			d1, err := UnboxDerivative(Real(tt.param), Real(1), b1)
			require.NoError(t, err)
			d2, err := UnboxDerivative(Real(tt.param), Real(1), b2)
			require.NoError(t, err)
			assert.Equal(t, float64(d1)/2, float64(d2), "%s: derivative scale %g", tt.name, c)
		}
	}
}

func TestUnboxAtBoundaryFails(t *testing.T) {
	tests := []struct {
		name  string
		param float64
		bound Bound
		side  string
	}{
		{"at lower", 0, Between(0, 1, 1), "lower"},
		{"at upper", 1, Between(0, 1, 1), "upper"},
		{"below lower", -0.1, Between(0, 1, 1), "lower"},
		{"above upper", 2, Between(0, 1, 1), "upper"},
		{"lower only at lower", 3, Below(3, 1), "lower"},
		{"NaN", math.NaN(), Between(0, 1, 1), "lower"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unbox(Real(tt.param), tt.bound)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrBounds))

			var be *BoundsError
			require.True(t, errors.As(err, &be))
			assert.Equal(t, tt.side, be.Side)
			assert.Equal(t, -1, be.Index)

			_, err = UnboxDerivative(Real(tt.param), Real(1), tt.bound)
			assert.ErrorIs(t, err, ErrBounds)
		})
	}
}

func TestUnboxCloseToBoundarySucceeds(t *testing.T) {
	b := Between(0, 1, 1)
	for _, p := range []float64{math.Nextafter(0, 1), 1e-300, math.Nextafter(1, 0)} {
		free, err := Unbox(Real(p), b)
		require.NoError(t, err, "param %g", p)
		assert.False(t, math.IsNaN(float64(free)))
	}
}

func TestBoxIsTotal(t *testing.T) {
	b := Between(-2, 5, 3)
	for _, f := range []float64{-1e3, -40, -1, 0, 1, 40, 1e3} {
		p, err := Box(Real(f), b)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, float64(p), b.Lower)
		assert.LessOrEqual(t, float64(p), b.Upper)
	}
}

func TestInvalidBound(t *testing.T) {
	tests := []struct {
		name  string
		bound Bound
	}{
		{"zero scale", Between(0, 1, 0)},
		{"negative scale", Below(0, -1)},
		{"inverted", Between(1, 0, 1)},
		{"empty", Between(1, 1, 1)},
		{"NaN lower", Between(math.NaN(), 1, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unbox(Real(0.5), tt.bound)
			assert.ErrorIs(t, err, ErrValidation)
			_, err = Box(Real(0.5), tt.bound)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestVectorRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		params []float64
		spec   BoundSpec
	}{
		{
			name:   "shared",
			params: []float64{0.1, 0.5, 0.9},
			spec:   Shared(Between(0, 1, 1)),
		},
		{
			name:   "elementwise bounded",
			params: []float64{10, 0.25, -3},
			spec:   Elementwise([]float64{0, 0, -5}, []float64{100, 1, 0}, 0.1, 1, 2),
		},
		{
			name:   "elementwise lower only with broadcast scale",
			params: []float64{1, 50, 1e-3},
			spec:   Elementwise([]float64{0, 0, 0}, nil, 0.5),
		},
		{
			name:   "elementwise all infinite upper",
			params: []float64{2, 3},
			spec:   Elementwise([]float64{1, 1}, []float64{math.Inf(1), math.Inf(1)}),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			free, err := UnboxVec(Reals(tt.params), tt.spec)
			require.NoError(t, err)
			back, err := BoxVec(free, tt.spec)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.params, Floats(back), roundTripTol)

			duals := make([]Dual, len(tt.params))
			for i, p := range tt.params {
				duals[i] = NewDual(p, 1)
			}
			dfree, err := UnboxVec(duals, tt.spec)
			require.NoError(t, err)
			dback, err := BoxVec(dfree, tt.spec)
			require.NoError(t, err)
			assert.InDeltaSlice(t, tt.params, Floats(dback), roundTripTol)
		})
	}
}

func TestVectorMixedBoundsRejected(t *testing.T) {
	spec := Elementwise([]float64{0, 0}, []float64{1, math.Inf(1)})
	params := Reals([]float64{0.5, 0.5})

	_, err := UnboxVec(params, spec)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = BoxVec(params, spec)
	assert.ErrorIs(t, err, ErrValidation)

	_, err = UnboxDerivativeVec(params, Reals([]float64{1, 1}), spec)
	assert.ErrorIs(t, err, ErrValidation)
}

func TestVectorShapeErrors(t *testing.T) {
	params := Reals([]float64{0.5, 0.5, 0.5})

	_, err := UnboxVec(params, Elementwise([]float64{0, 0}, []float64{1, 1}))
	assert.ErrorIs(t, err, ErrShape)

	_, err = UnboxVec(params, Elementwise([]float64{0, 0, 0}, []float64{1, 1}))
	assert.ErrorIs(t, err, ErrShape)

	_, err = BoxVec(params, Elementwise([]float64{0, 0, 0}, nil, 1, 2))
	assert.ErrorIs(t, err, ErrShape)

	_, err = UnboxDerivativeVec(params, Reals([]float64{1}), Shared(Between(0, 1, 1)))
	assert.ErrorIs(t, err, ErrShape)
}

func TestVectorBoundsErrorIndex(t *testing.T) {
	_, err := UnboxVec(Reals([]float64{0.5, 1.5, 0.5}), Shared(Between(0, 1, 1)))

	var be *BoundsError
	require.True(t, errors.As(err, &be))
	assert.Equal(t, 1, be.Index)
	assert.Equal(t, "upper", be.Side)
}

func TestBoxDerivatives(t *testing.T) {
	const h = 1e-5
	for _, b := range []Bound{Between(0, 1, 1), Between(-3, 40, 0.2), Below(2, 0.7)} {
		for _, f := range []float64{-2, -0.3, 0, 0.8, 3} {
			d1, err := BoxDerivative(f, b)
			require.NoError(t, err)
			d2, err := BoxSecondDerivative(f, b)
			require.NoError(t, err)

			hi, _ := Box(Real(f+h), b)
			lo, _ := Box(Real(f-h), b)
			mid, _ := Box(Real(f), b)
			fd1 := float64(hi-lo) / (2 * h)
			fd2 := float64(hi-2*mid+lo) / (h * h)
			assert.InDelta(t, fd1, d1, 1e-6*math.Max(1, math.Abs(d1)))
			assert.InDelta(t, fd2, d2, 1e-3*math.Max(1, math.Abs(d2)))

			// dparam/dfree and dfree/dparam are reciprocal.
			inv, err := UnboxDerivative(mid, Real(1), b)
			require.NoError(t, err)
			assert.InEpsilon(t, 1, d1*float64(inv), 1e-9)
		}
	}
}
