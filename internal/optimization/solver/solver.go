// Package solver runs bound-constrained limited-memory quasi-Newton
// minimizations on top of gonum's optimize driver.
package solver

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"go.uber.org/zap"
	"gonum.org/v1/gonum/diff/fd"
	"gonum.org/v1/gonum/optimize"
)

var machineEpsilon = math.Nextafter(1, 2) - 1

// Problem is the function to minimize.
type Problem struct {
	// Func evaluates the objective.
	Func func(x []float64) (float64, error)
	// Grad stores the gradient at x into dst. It must be nil when
	// ApproxGrad is set.
	Grad func(dst, x []float64) error
	// ApproxGrad asks the solver to estimate the gradient with forward
	// differences of Func. Those evaluations count toward MaxFun.
	ApproxGrad bool
	// Bounds holds [lower, upper] per variable, ±Inf for open sides. Nil
	// means unbounded.
	Bounds [][2]float64
}

// Settings are the L-BFGS-B tuning parameters.
type Settings struct {
	// MaxFun limits objective evaluations. Zero stops at the initial point.
	MaxFun int
	// MaxIter limits iterations. Zero stops at the initial point.
	MaxIter int
	// Factr stops the run when the relative reduction of f in an iteration
	// falls below Factr times machine precision.
	Factr float64
	// IPrint sets the progress output level, see Recorder.
	IPrint int
	// Epsilon is the forward-difference step used with ApproxGrad.
	Epsilon float64
	// Logger receives progress output. Nil discards it.
	Logger *zap.Logger
}

// Result is the outcome of a run.
type Result struct {
	X               []float64
	F               float64
	FuncEvaluations int
	Iterations      int
	Status          optimize.Status
	// Warning describes an early stop that is not a failure.
	Warning string
}

// Converged reports whether the run stopped on a convergence test.
func (r *Result) Converged() bool {
	switch r.Status {
	case optimize.Success, optimize.FunctionConvergence, optimize.GradientThreshold,
		optimize.StepConvergence, optimize.MethodConverge, optimize.FunctionThreshold:
		return true
	}
	return false
}

// EvaluationError is returned when the objective or gradient fails.
type EvaluationError struct {
	Err error
}

func (e *EvaluationError) Error() string {
	return fmt.Sprintf("solver: evaluation failed: %v", e.Err)
}

func (e *EvaluationError) Unwrap() error {
	return e.Err
}

// Solver minimizes a Problem from an initial point.
type Solver interface {
	Minimize(ctx context.Context, p Problem, x0 []float64, s Settings) (*Result, error)
}

// Gonum is the Solver backed by gonum's optimize package.
type Gonum struct{}

// Minimize implements Solver.
func (Gonum) Minimize(ctx context.Context, p Problem, x0 []float64, s Settings) (*Result, error) {
	return Minimize(ctx, p, x0, s)
}

// Minimize runs L-BFGS from x0. Unbounded problems use optimize.LBFGS with a
// More-Thuente line search; bounded problems use ProjectedLBFGS. x0 is not
// modified.
func Minimize(ctx context.Context, p Problem, x0 []float64, s Settings) (*Result, error) {
	if p.Func == nil {
		return nil, errors.New("solver: objective function is nil")
	}
	if p.Grad == nil && !p.ApproxGrad {
		return nil, errors.New("solver: gradient is required unless ApproxGrad is set")
	}
	n := len(x0)
	if n == 0 {
		return nil, optimize.ErrZeroDimensional
	}
	if p.Bounds != nil && len(p.Bounds) != n {
		return nil, fmt.Errorf("solver: %d bounds for %d variables", len(p.Bounds), n)
	}
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	bnd := newBox(p.Bounds, n)
	x := append([]float64(nil), x0...)
	bnd.project(x)

	ev := &evaluator{ctx: ctx, f: p.Func, maxFun: s.MaxFun}
	grad := p.Grad
	if grad == nil {
		grad = ev.forwardDiff(s.Epsilon)
	}

	f0 := ev.value(x)
	g0 := make([]float64, n)
	ev.gradient(grad, g0, x)
	if err := ev.failure(); err != nil {
		return nil, err
	}

	if math.IsNaN(f0) || math.IsInf(f0, 0) {
		return nil, fmt.Errorf("solver: %w", optimize.ErrFunc(f0))
	}

	recorder := NewRecorder(s.IPrint, s.Logger, p.Bounds, n)

	var early optimize.Status
	switch {
	case s.MaxIter <= 0:
		early = optimize.IterationLimit
	case ev.count() >= s.MaxFun:
		early = optimize.FunctionEvaluationLimit
	case bnd.projGradNorm(x, g0) <= defaultProjGradTol:
		// x0 is already stationary; the driver would build a zero direction.
		early = optimize.GradientThreshold
	}
	if early != optimize.NotTerminated {
		if recorder != nil {
			recorder.final(&optimize.Location{X: x, F: f0}, &optimize.Stats{
				MajorIterations: 1,
				FuncEvaluations: ev.count(),
			}, early.String())
		}
		out := &Result{
			X:               x,
			F:               f0,
			FuncEvaluations: ev.count(),
			Status:          early,
		}
		if err := early.Err(); early.Early() && err != nil {
			out.Warning = err.Error()
		}
		return out, nil
	}

	problem := optimize.Problem{
		Func: ev.value,
		Grad: func(dst, x []float64) {
			ev.gradient(grad, dst, x)
		},
		Status: ev.status,
	}

	var method optimize.Method
	if bnd.constrained() {
		method = &ProjectedLBFGS{
			Lower:             bnd.lower,
			Upper:             bnd.upper,
			Store:             defaultStore,
			GradStopThreshold: defaultProjGradTol,
		}
	} else {
		method = &optimize.LBFGS{
			Linesearcher:      &optimize.MoreThuente{},
			Store:             defaultStore,
			GradStopThreshold: defaultProjGradTol,
		}
	}

	tol := s.Factr * machineEpsilon
	settings := &optimize.Settings{
		InitValues: &optimize.Location{F: f0, Gradient: g0},
		// The driver counts the starting location as a major iteration.
		MajorIterations: s.MaxIter + 1,
		Converger: &optimize.FunctionConverge{
			Absolute:   tol,
			Relative:   tol,
			Iterations: 1,
		},
	}
	if recorder != nil {
		settings.Recorder = recorder
	}

	res, err := optimize.Minimize(problem, x, settings, method)
	if ferr := ev.failure(); ferr != nil {
		return nil, ferr
	}
	if err != nil && (res == nil || !lineSearchFailure(err)) {
		return nil, fmt.Errorf("solver: %w", err)
	}

	out := &Result{
		X:               res.X,
		F:               res.F,
		FuncEvaluations: ev.count(),
		Iterations:      max(res.MajorIterations-1, 0),
		Status:          res.Status,
	}
	if res.MajorIterations == 0 {
		// The method stopped before reporting any location.
		out.X, out.F = x, f0
	}
	switch {
	case err != nil:
		// The best location found so far is still a valid answer.
		out.Status = AbnormalLineSearch
		out.Warning = fmt.Sprintf("%v: %v", ErrAbnormalLineSearch, err)
		if recorder != nil {
			recorder.final(&optimize.Location{X: out.X, F: out.F}, &res.Stats, out.Status.String())
		}
	case res.Status.Early() && res.Status.Err() != nil:
		out.Warning = res.Status.Err().Error()
	}
	return out, nil
}

// lineSearchFailure reports whether err is one of gonum's line search
// failures, which end the run without invalidating the best location.
func lineSearchFailure(err error) bool {
	return errors.Is(err, optimize.ErrLinesearcherFailure) ||
		errors.Is(err, optimize.ErrNoProgress) ||
		errors.Is(err, optimize.ErrNonDescentDirection)
}

// evaluator counts objective evaluations and records the first failure so
// the driver can be stopped through Problem.Status.
type evaluator struct {
	ctx    context.Context
	f      func([]float64) (float64, error)
	maxFun int

	mu    sync.Mutex
	calls int
	err   error
}

func (e *evaluator) value(x []float64) float64 {
	v, err := e.f(x)

	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if err != nil {
		if e.err == nil {
			e.err = &EvaluationError{Err: err}
		}
		return math.NaN()
	}
	return v
}

func (e *evaluator) gradient(grad func(dst, x []float64) error, dst, x []float64) {
	if err := grad(dst, x); err != nil {
		e.mu.Lock()
		if e.err == nil {
			e.err = &EvaluationError{Err: err}
		}
		e.mu.Unlock()
		for i := range dst {
			dst[i] = math.NaN()
		}
	}
}

// forwardDiff returns a serial forward-difference gradient built on the
// counted objective.
func (e *evaluator) forwardDiff(step float64) func(dst, x []float64) error {
	return func(dst, x []float64) error {
		fd.Gradient(dst, e.value, x, &fd.Settings{
			Formula: fd.Forward,
			Step:    step,
		})
		return nil
	}
}

func (e *evaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func (e *evaluator) failure() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return e.err
	}
	if e.ctx != nil && e.ctx.Err() != nil {
		return e.ctx.Err()
	}
	return nil
}

// status stops the driver on evaluation failure, cancellation or when the
// evaluation budget is spent.
func (e *evaluator) status() (optimize.Status, error) {
	if err := e.failure(); err != nil {
		return optimize.Failure, err
	}
	if e.count() >= e.maxFun {
		return optimize.FunctionEvaluationLimit, nil
	}
	return optimize.NotTerminated, nil
}
