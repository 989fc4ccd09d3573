// Package problem holds the built-in objectives the CLI can optimise.
package problem

import (
	"fmt"
	"sort"

	"github.com/cwbudde/wolfefit/internal/sensitive"
	"github.com/cwbudde/wolfefit/internal/transform"
)

// Objective is a function to maximise over box-constrained parameters.
type Objective interface {
	Name() string
	Layout() sensitive.Layout
	Sources() int
	Bounds() transform.Groups
	Start() []float64
	Evaluate(params []float64) (*sensitive.Float, error)
}

// DefaultCatalogWidth is the field width used by Lookup.
const DefaultCatalogWidth = 100

type factory func(sources int, seed int64) (Objective, error)

var registry = map[string]factory{
	"catalog": func(sources int, seed int64) (Objective, error) {
		c, err := NewCatalog(sources, DefaultCatalogWidth, seed)
		if err != nil {
			return nil, err
		}
		return c, nil
	},
	"rosenbrock": func(sources int, _ int64) (Objective, error) {
		r, err := NewRosenbrock(sources)
		if err != nil {
			return nil, err
		}
		return r, nil
	},
}

// Lookup builds a named problem. For rosenbrock, sources is the dimension.
func Lookup(name string, sources int, seed int64) (Objective, error) {
	f, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("unknown problem %q (available: %v)", name, Names())
	}
	return f(sources, seed)
}

// Names lists the registered problems in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
