// Package lbfgsb adapts the limited-memory BFGS bound-constrained minimizer
// to the optimization.Optimizer interface.
package lbfgsb

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/copyleftdev/varopt/internal/optimization"
	"github.com/copyleftdev/varopt/internal/optimization/solver"
)

// Name is the registry name of the optimizer.
const Name = "L_BFGS_B"

var _ optimization.Optimizer = (*Optimizer)(nil)

func init() {
	optimization.Register(Name, func(values map[string]interface{}, batchMode bool, logger *zap.Logger) (optimization.Optimizer, error) {
		opts, err := ParseOptions(values)
		if err != nil {
			return nil, err
		}
		return New(opts, WithBatchMode(batchMode), WithLogger(logger))
	})
}

// Optimizer minimizes a smooth function subject to simple bounds. It is safe
// for concurrent use; every Optimize call starts from scratch.
type Optimizer struct {
	optimization.Base

	opts   Options
	logger *zap.Logger
	solver solver.Solver
}

// Option configures an Optimizer.
type Option func(*Optimizer)

// WithLogger sets the logger for run summaries and iprint output.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Optimizer) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithBatchMode declares that objectives may be evaluated at several points
// concurrently. Numerical gradients are then computed in parallel by the
// adapter instead of serially by the solver.
func WithBatchMode(enabled bool) Option {
	return func(o *Optimizer) {
		o.Base = optimization.NewBase(enabled)
	}
}

// WithSolver replaces the minimizer.
func WithSolver(s solver.Solver) Option {
	return func(o *Optimizer) {
		if s != nil {
			o.solver = s
		}
	}
}

// New returns an Optimizer using opts.
func New(opts Options, options ...Option) (*Optimizer, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	o := &Optimizer{
		opts:   opts,
		logger: zap.NewNop(),
		solver: solver.Gonum{},
	}
	for _, opt := range options {
		opt(o)
	}
	return o, nil
}

// Options returns the options the optimizer was built with.
func (o *Optimizer) Options() Options {
	return o.opts
}

// Support implements optimization.Optimizer. The gradient is approximated
// when absent; the initial point must be given.
func (o *Optimizer) Support() optimization.Support {
	return optimization.Support{
		Gradient:     optimization.Supported,
		Bounds:       optimization.Supported,
		InitialPoint: optimization.Required,
	}
}

// Configuration implements optimization.Optimizer.
func (o *Optimizer) Configuration() optimization.Configuration {
	return optimization.Configuration{
		Name:        Name,
		Description: "Limited-memory BFGS bound optimizer",
		Support:     o.Support(),
		Schema:      schema,
	}
}

// Optimize implements optimization.Optimizer.
func (o *Optimizer) Optimize(ctx context.Context, req optimization.Request) (*optimization.Result, error) {
	if err := o.ValidateRequest(req, o.Support()); err != nil {
		return nil, err
	}

	problem := solver.Problem{
		Func:   req.Objective,
		Bounds: req.Bounds,
	}
	mode := "analytic"
	switch {
	case req.Gradient != nil:
		problem.Grad = req.Gradient
	case o.BatchMode():
		problem.Grad = optimization.GradientNumDiff(req.Objective, o.opts.Epsilon, true)
		mode = "numerical"
	default:
		problem.ApproxGrad = true
		mode = "approximate"
	}

	o.logger.Debug("starting optimization",
		zap.String("optimizer", Name),
		zap.Int("n", req.NumVars),
		zap.Bool("bounded", req.Bounds != nil),
		zap.String("gradient", mode),
	)

	res, err := o.solver.Minimize(ctx, problem, req.InitialPoint, solver.Settings{
		MaxFun:  o.opts.MaxFun,
		MaxIter: o.opts.MaxIter,
		Factr:   o.opts.Factr,
		IPrint:  o.opts.IPrint,
		Epsilon: o.opts.Epsilon,
		Logger:  o.logger,
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return nil, ctxErr
		}
		var evalErr *solver.EvaluationError
		if errors.As(err, &evalErr) {
			return nil, optimization.WrapError(evalErr.Err, "objective evaluation").
				WithKind(optimization.ErrObjective).
				WithOperation("optimize").
				WithComponent(Name)
		}
		return nil, optimization.WrapError(err, "minimize").
			WithKind(optimization.ErrSolver).
			WithOperation("optimize").
			WithComponent(Name)
	}

	fields := []zap.Field{
		zap.String("optimizer", Name),
		zap.Float64("value", res.F),
		zap.Int("func_evaluations", res.FuncEvaluations),
		zap.Int("iterations", res.Iterations),
		zap.String("status", res.Status.String()),
	}
	if res.Warning != "" {
		fields = append(fields, zap.String("warning", res.Warning))
	}
	o.logger.Info("optimization finished", fields...)

	return &optimization.Result{
		Solution: &optimization.Solution{
			Parameters: res.X,
			Value:      res.F,
		},
		FuncEvaluations: res.FuncEvaluations,
		Iterations:      res.Iterations,
		Status:          res.Status.String(),
		Converged:       res.Converged(),
		Warning:         res.Warning,
	}, nil
}
