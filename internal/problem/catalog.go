package problem

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/cwbudde/wolfefit/internal/sensitive"
	"github.com/cwbudde/wolfefit/internal/transform"
	"gonum.org/v1/gonum/mat"
)

// Source is one catalog entry.
type Source struct {
	Position float64 // In (0, width)
	Flux     float64 // In (0, inf)
	Prob     float64 // In (0, 1)
}

const paramsPerSource = 3

// CatalogLayout is the per-source parameter layout of a Catalog.
var CatalogLayout = sensitive.Layout{Name: "catalog", PerSource: paramsPerSource}

// EncodeSource writes a source to position i of a flat vector.
func EncodeSource(data []float64, i int, s Source) {
	offset := i * paramsPerSource
	data[offset+0] = s.Position
	data[offset+1] = s.Flux
	data[offset+2] = s.Prob
}

// DecodeSource reads source i from a flat vector.
func DecodeSource(data []float64, i int) Source {
	offset := i * paramsPerSource
	return Source{
		Position: data[offset+0],
		Flux:     data[offset+1],
		Prob:     data[offset+2],
	}
}

// Catalog scores a set of sources against target values with separable
// concave terms per source:
//
//	position: -(x - t)² / (2σ²)
//	flux:     k·log(f) - f·k/t
//	prob:     c·t·log(p) + c·(1-t)·log(1-p)
//
// Each term peaks at its target, so the maximiser is known exactly.
type Catalog struct {
	Width         float64
	Targets       []Source
	Sigma         float64 // Position spread
	FluxShape     float64 // k, must exceed 0
	Concentration float64 // c, must exceed 0
}

// NewCatalog draws n random targets inside a field of the given width.
func NewCatalog(n int, width float64, seed int64) (*Catalog, error) {
	if n <= 0 {
		return nil, fmt.Errorf("catalog needs at least one source, got %d", n)
	}
	if !(width > 0) || math.IsInf(width, 1) {
		return nil, fmt.Errorf("catalog width must be positive and finite, got %g", width)
	}

	rng := rand.New(rand.NewSource(seed))
	targets := make([]Source, n)
	for i := range targets {
		targets[i] = Source{
			Position: width * (0.1 + 0.8*rng.Float64()),
			Flux:     1 + 99*rng.Float64(),
			Prob:     0.1 + 0.8*rng.Float64(),
		}
	}

	return &Catalog{
		Width:         width,
		Targets:       targets,
		Sigma:         width / 10,
		FluxShape:     4,
		Concentration: 10,
	}, nil
}

func (c *Catalog) Name() string { return "catalog" }

func (c *Catalog) Layout() sensitive.Layout { return CatalogLayout }

func (c *Catalog) Sources() int { return len(c.Targets) }

// Bounds groups positions, fluxes and probabilities across sources so each
// group has a single bound shape.
func (c *Catalog) Bounds() transform.Groups {
	n := len(c.Targets)
	pos := make([]int, n)
	flux := make([]int, n)
	prob := make([]int, n)
	lower := make([]float64, n)
	upper := make([]float64, n)
	for i := 0; i < n; i++ {
		pos[i] = i*paramsPerSource + 0
		flux[i] = i*paramsPerSource + 1
		prob[i] = i*paramsPerSource + 2
		upper[i] = c.Width
	}

	return transform.Groups{
		{Name: "position", Indices: pos, Spec: transform.Elementwise(lower, upper, 1/c.Sigma)},
		{Name: "flux", Indices: flux, Spec: transform.Elementwise(make([]float64, n), nil)},
		{Name: "prob", Indices: prob, Spec: transform.Shared(transform.Between(0, 1, 1))},
	}
}

// Start places every source at the centre of the field with unit flux and
// even odds.
func (c *Catalog) Start() []float64 {
	data := make([]float64, len(c.Targets)*paramsPerSource)
	for i := range c.Targets {
		EncodeSource(data, i, Source{Position: c.Width / 2, Flux: 1, Prob: 0.5})
	}
	return data
}

// Optimum returns the exact maximiser.
func (c *Catalog) Optimum() []float64 {
	data := make([]float64, len(c.Targets)*paramsPerSource)
	for i, t := range c.Targets {
		EncodeSource(data, i, t)
	}
	return data
}

// Evaluate sums the per-source contributions in source order.
func (c *Catalog) Evaluate(params []float64) (*sensitive.Float, error) {
	n := len(c.Targets)
	if len(params) != CatalogLayout.Size(n) {
		return nil, fmt.Errorf("catalog expects %d parameters, got %d", CatalogLayout.Size(n), len(params))
	}

	terms := make([]*sensitive.Float, n)
	for i := range c.Targets {
		term, err := c.sourceTerm(i, DecodeSource(params, i))
		if err != nil {
			return nil, err
		}
		terms[i] = term
	}
	return sensitive.Reduce(terms)
}

// sourceTerm is the contribution of source i. Only its own block of the
// gradient and Hessian is non-zero. Values outside the domain give
// non-finite results rather than errors.
func (c *Catalog) sourceTerm(i int, s Source) (*sensitive.Float, error) {
	t := c.Targets[i]
	size := CatalogLayout.Size(len(c.Targets))
	grad := make([]float64, size)
	hess := mat.NewSymDense(size, nil)
	offset := i * paramsPerSource

	varPos := c.Sigma * c.Sigma
	dx := s.Position - t.Position
	value := -dx * dx / (2 * varPos)
	grad[offset+0] = -dx / varPos
	hess.SetSym(offset+0, offset+0, -1/varPos)

	k := c.FluxShape
	rate := k / t.Flux
	value += k*math.Log(s.Flux) - rate*s.Flux
	grad[offset+1] = k/s.Flux - rate
	hess.SetSym(offset+1, offset+1, -k/(s.Flux*s.Flux))

	a := c.Concentration * t.Prob
	b := c.Concentration * (1 - t.Prob)
	q := 1 - s.Prob
	value += a*math.Log(s.Prob) + b*math.Log(q)
	grad[offset+2] = a/s.Prob - b/q
	hess.SetSym(offset+2, offset+2, -a/(s.Prob*s.Prob)-b/(q*q))

	return sensitive.New(CatalogLayout, len(c.Targets), value, grad, hess)
}
