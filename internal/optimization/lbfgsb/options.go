package lbfgsb

import (
	"math"

	"github.com/copyleftdev/varopt/internal/optimization"
)

// Options are the L-BFGS-B tuning parameters. The env tags let a service
// load its defaults with caarlos0/env under a prefix of its choosing.
type Options struct {
	// MaxFun limits objective evaluations.
	MaxFun int `json:"maxfun" env:"MAXFUN" envDefault:"1000"`
	// MaxIter limits iterations.
	MaxIter int `json:"maxiter" env:"MAXITER" envDefault:"15000"`
	// Factr stops the run once the relative reduction of the objective in
	// one iteration falls below Factr times machine precision. Typical
	// values are 1e12 for low accuracy, 1e7 for moderate and 10 for
	// extremely high accuracy.
	Factr float64 `json:"factr" env:"FACTR" envDefault:"10"`
	// IPrint controls progress output. Negative is silent.
	IPrint int `json:"iprint" env:"IPRINT" envDefault:"-1"`
	// Epsilon is the step used to approximate the gradient numerically.
	Epsilon float64 `json:"epsilon" env:"EPSILON" envDefault:"1e-8"`
}

// DefaultOptions returns the documented defaults.
func DefaultOptions() Options {
	return Options{
		MaxFun:  1000,
		MaxIter: 15000,
		Factr:   10,
		IPrint:  -1,
		Epsilon: 1e-8,
	}
}

var schema = optimization.Schema{
	ID: "l_bfgs_b_schema",
	Properties: []optimization.Property{
		{
			Name:        "maxfun",
			Type:        optimization.TypeInteger,
			Default:     1000,
			Description: "maximum number of function evaluations",
		},
		{
			Name:        "maxiter",
			Type:        optimization.TypeInteger,
			Default:     15000,
			Description: "maximum number of iterations",
		},
		{
			Name:        "factr",
			Type:        optimization.TypeNumber,
			Default:     10.0,
			Description: "stop when the relative reduction of f is below factr times machine precision",
		},
		{
			Name:        "iprint",
			Type:        optimization.TypeInteger,
			Default:     -1,
			Description: "progress output level, negative for no output",
		},
		{
			Name:        "epsilon",
			Type:        optimization.TypeNumber,
			Default:     1e-08,
			Description: "step size used when the gradient is approximated numerically",
		},
	},
}

// Schema returns the option schema.
func Schema() optimization.Schema {
	return schema
}

// ParseOptions overlays loosely typed values, as decoded from JSON, onto the
// defaults. Unknown names and mistyped values are rejected.
func ParseOptions(values map[string]interface{}) (Options, error) {
	resolved, err := schema.Resolve(values)
	if err != nil {
		return Options{}, err
	}
	opts := Options{
		MaxFun:  resolved["maxfun"].(int),
		MaxIter: resolved["maxiter"].(int),
		Factr:   resolved["factr"].(float64),
		IPrint:  resolved["iprint"].(int),
		Epsilon: resolved["epsilon"].(float64),
	}
	if err := opts.Validate(); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// Validate checks the option ranges.
func (o Options) Validate() error {
	switch {
	case o.MaxFun < 0:
		return invalid("maxfun", "must be non-negative, got %d", o.MaxFun)
	case o.MaxIter < 0:
		return invalid("maxiter", "must be non-negative, got %d", o.MaxIter)
	case math.IsNaN(o.Factr) || o.Factr < 0:
		return invalid("factr", "must be a non-negative number, got %v", o.Factr)
	case math.IsNaN(o.Epsilon) || math.IsInf(o.Epsilon, 0) || o.Epsilon <= 0:
		return invalid("epsilon", "must be a positive finite number, got %v", o.Epsilon)
	}
	return nil
}

// Map returns the options keyed by their schema names.
func (o Options) Map() map[string]interface{} {
	return map[string]interface{}{
		"maxfun":  o.MaxFun,
		"maxiter": o.MaxIter,
		"factr":   o.Factr,
		"iprint":  o.IPrint,
		"epsilon": o.Epsilon,
	}
}

func invalid(option, format string, args ...interface{}) error {
	return optimization.NewErrorf(format, args...).
		WithKind(optimization.ErrInvalidConfig).
		WithOperation("validate").
		WithComponent("option " + option)
}
