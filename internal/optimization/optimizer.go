package optimization

import (
	"context"
)

// Optimizer defines the interface for optimization algorithms
type Optimizer interface {
	// Optimize minimizes the request's objective and blocks until the
	// underlying solver returns.
	Optimize(ctx context.Context, req Request) (*Result, error)

	// Support reports how the optimizer treats gradients, bounds and the
	// initial point.
	Support() Support

	// Configuration describes the optimizer and its option schema.
	Configuration() Configuration
}

// ObjectiveFunction defines the function to be optimized
type ObjectiveFunction func([]float64) (float64, error)

// GradientFunction stores the gradient of the objective at x into dst.
type GradientFunction func(dst, x []float64) error

// Request describes a single minimization.
type Request struct {
	// NumVars is the problem dimension.
	NumVars int

	// Objective function to minimize
	Objective ObjectiveFunction

	// Gradient of the objective. Optional.
	Gradient GradientFunction

	// Bounds for each dimension [min, max]. Use math.Inf for an open side.
	// Optional.
	Bounds [][2]float64

	// InitialPoint is the starting location.
	InitialPoint []float64
}

// Solution represents a solution in the optimization space
type Solution struct {
	Parameters []float64
	Value      float64
}

// Result contains the result of an optimization run
type Result struct {
	Solution        *Solution
	FuncEvaluations int

	// Diagnostics reported by the solver.
	Iterations int
	Status     string
	Converged  bool
	// Warning is set when the solver stopped early without failing, for
	// example on an iteration limit or an abnormal line search.
	Warning string
}

// SupportLevel states how an optimizer treats an optional input.
type SupportLevel int

const (
	// NotSupported means the input must not be given.
	NotSupported SupportLevel = iota
	// Ignored means the input is accepted and not used.
	Ignored
	// Supported means the input is used when given.
	Supported
	// Required means the input must be given.
	Required
)

func (l SupportLevel) String() string {
	switch l {
	case NotSupported:
		return "not_supported"
	case Ignored:
		return "ignored"
	case Supported:
		return "supported"
	case Required:
		return "required"
	default:
		return "unknown"
	}
}

// Support lists the support levels an optimizer declares.
type Support struct {
	Gradient     SupportLevel
	Bounds       SupportLevel
	InitialPoint SupportLevel
}

// Configuration describes a registered optimizer.
type Configuration struct {
	Name        string
	Description string
	Support     Support
	Schema      Schema
}
