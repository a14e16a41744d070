// Package objectives is a catalog of named test functions that the service
// and the command line tool can minimize without user code.
package objectives

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/optimize/functions"

	"github.com/copyleftdev/varopt/internal/optimization"
)

var (
	// ErrUnknown is returned by Lookup for names not in the catalog.
	ErrUnknown = errors.New("unknown objective")
	// ErrParams is returned for parameters an objective does not accept.
	ErrParams = errors.New("invalid objective parameters")
	// ErrDimension is returned when an objective cannot take n variables.
	ErrDimension = errors.New("unsupported dimension")
)

// Objective is a differentiable test function.
type Objective struct {
	Name        string
	Description string
	Func        optimization.ObjectiveFunction
	Grad        optimization.GradientFunction

	dims func(n int) bool
	// dimText describes the accepted dimensions.
	dimText string
}

// CheckDim reports whether the objective is defined for n variables.
func (o Objective) CheckDim(n int) error {
	if n <= 0 || !o.dims(n) {
		return fmt.Errorf("%w: %s needs %s variables, got %d", ErrDimension, o.Name, o.dimText, n)
	}
	return nil
}

// Dimensions describes the accepted number of variables.
func (o Objective) Dimensions() string {
	return o.dimText
}

type entry struct {
	description string
	dims        func(n int) bool
	dimText     string
	build       func(params map[string]float64) (optimization.ObjectiveFunction, optimization.GradientFunction, error)
}

// gonumFunction is the shape of the test functions in gonum's functions
// package.
type gonumFunction interface {
	Func(x []float64) float64
	Grad(grad, x []float64)
}

func fromGonum(fn gonumFunction) func(map[string]float64) (optimization.ObjectiveFunction, optimization.GradientFunction, error) {
	return func(params map[string]float64) (optimization.ObjectiveFunction, optimization.GradientFunction, error) {
		if len(params) > 0 {
			return nil, nil, fmt.Errorf("%w: takes no parameters", ErrParams)
		}
		f := func(x []float64) (float64, error) {
			return fn.Func(x), nil
		}
		g := func(dst, x []float64) error {
			fn.Grad(dst, x)
			return nil
		}
		return f, g, nil
	}
}

func anyDim(n int) bool { return true }

func exactly(d int) func(int) bool {
	return func(n int) bool { return n == d }
}

var catalog = map[string]entry{
	"quadratic": {
		description: "sum of (x_i - c_i)^2 with centre c set by parameters c0, c1, ...",
		dims:        anyDim,
		dimText:     "any number of",
		build:       buildQuadratic,
	},
	"sphere": {
		description: "sum of x_i^2",
		dims:        anyDim,
		dimText:     "any number of",
		build: func(params map[string]float64) (optimization.ObjectiveFunction, optimization.GradientFunction, error) {
			if len(params) > 0 {
				return nil, nil, fmt.Errorf("%w: takes no parameters", ErrParams)
			}
			return buildQuadratic(nil)
		},
	},
	"rosenbrock": {
		description: "extended Rosenbrock function, minimum 0 at (1, ..., 1)",
		dims:        func(n int) bool { return n >= 2 },
		dimText:     "at least 2",
		build:       fromGonum(functions.ExtendedRosenbrock{}),
	},
	"beale": {
		description: "Beale function, minimum 0 at (3, 0.5)",
		dims:        exactly(2),
		dimText:     "exactly 2",
		build:       fromGonum(functions.Beale{}),
	},
	"brown-badly-scaled": {
		description: "Brown's badly scaled function, minimum 0 at (1e6, 2e-6)",
		dims:        exactly(2),
		dimText:     "exactly 2",
		build:       fromGonum(functions.BrownBadlyScaled{}),
	},
	"powell-singular": {
		description: "extended Powell singular function, minimum 0 at the origin",
		dims:        func(n int) bool { return n%4 == 0 },
		dimText:     "a multiple of 4",
		build:       fromGonum(functions.ExtendedPowellSingular{}),
	},
	"wood": {
		description: "Wood function, minimum 0 at (1, 1, 1, 1)",
		dims:        exactly(4),
		dimText:     "exactly 4",
		build:       fromGonum(functions.Wood{}),
	},
}

// Lookup returns the named objective configured with params.
func Lookup(name string, params map[string]float64) (Objective, error) {
	e, ok := catalog[name]
	if !ok {
		return Objective{}, fmt.Errorf("%w %q (available: %s)", ErrUnknown, name, strings.Join(Names(), ", "))
	}
	f, g, err := e.build(params)
	if err != nil {
		return Objective{}, fmt.Errorf("objective %s: %w", name, err)
	}
	return Objective{
		Name:        name,
		Description: e.description,
		Func:        f,
		Grad:        g,
		dims:        e.dims,
		dimText:     e.dimText,
	}, nil
}

// Names returns the catalog names, sorted.
func Names() []string {
	names := make([]string, 0, len(catalog))
	for name := range catalog {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func buildQuadratic(params map[string]float64) (optimization.ObjectiveFunction, optimization.GradientFunction, error) {
	centre := make(map[int]float64, len(params))
	for key, v := range params {
		idx, err := strconv.Atoi(strings.TrimPrefix(key, "c"))
		if !strings.HasPrefix(key, "c") || err != nil || idx < 0 {
			return nil, nil, fmt.Errorf("%w: unexpected parameter %q, want c0, c1, ...", ErrParams, key)
		}
		centre[idx] = v
	}

	f := func(x []float64) (float64, error) {
		var sum float64
		for i, xi := range x {
			d := xi - centre[i]
			sum += d * d
		}
		return sum, nil
	}
	g := func(dst, x []float64) error {
		for i, xi := range x {
			dst[i] = 2 * (xi - centre[i])
		}
		return nil
	}
	return f, g, nil
}
