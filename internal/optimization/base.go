package optimization

import (
	"math"
	"sync"

	"gonum.org/v1/gonum/diff/fd"
)

// Base carries the behaviour shared by every optimizer: request validation
// and the batch evaluation capability.
type Base struct {
	batchMode bool
}

// NewBase returns a Base. batchMode states that objectives handed to the
// optimizer may be evaluated at several points concurrently.
func NewBase(batchMode bool) Base {
	return Base{batchMode: batchMode}
}

// BatchMode reports whether objectives may be evaluated concurrently.
func (b Base) BatchMode() bool {
	return b.batchMode
}

// ValidateRequest checks that req is internally consistent and honours the
// declared support levels.
func (b Base) ValidateRequest(req Request, support Support) error {
	n := req.NumVars
	if n <= 0 {
		return requestError("number of variables must be positive, got %d", n)
	}
	if req.Objective == nil {
		return requestError("objective function is required")
	}

	if err := checkLevel("gradient", support.Gradient, req.Gradient != nil); err != nil {
		return err
	}
	if err := checkLevel("bounds", support.Bounds, req.Bounds != nil); err != nil {
		return err
	}
	if err := checkLevel("initial point", support.InitialPoint, req.InitialPoint != nil); err != nil {
		return err
	}

	if req.InitialPoint != nil {
		if len(req.InitialPoint) != n {
			return requestError("initial point has length %d, want %d", len(req.InitialPoint), n)
		}
		for i, v := range req.InitialPoint {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return requestError("initial point component %d is not finite: %v", i, v)
			}
		}
	}

	if req.Bounds != nil {
		if len(req.Bounds) != n {
			return requestError("bounds have length %d, want %d", len(req.Bounds), n)
		}
		for i, bnd := range req.Bounds {
			lo, hi := bnd[0], bnd[1]
			if math.IsNaN(lo) || math.IsNaN(hi) {
				return requestError("bound %d is NaN", i)
			}
			if lo > hi {
				return requestError("bound %d is empty: lower %v > upper %v", i, lo, hi)
			}
		}
	}
	return nil
}

func checkLevel(name string, level SupportLevel, given bool) error {
	switch {
	case level == Required && !given:
		return requestError("%s is required", name)
	case level == NotSupported && given:
		return requestError("%s is not supported", name)
	}
	return nil
}

// GradientNumDiff returns a forward-difference gradient of objective with
// step epsilon. With concurrent set, the stencil points are evaluated in
// parallel. The first error returned by objective is reported by the
// gradient function.
func GradientNumDiff(objective ObjectiveFunction, epsilon float64, concurrent bool) GradientFunction {
	return func(dst, x []float64) error {
		var (
			mu       sync.Mutex
			firstErr error
		)
		f := func(p []float64) float64 {
			v, err := objective(p)
			if err != nil {
				mu.Lock()
				if firstErr == nil {
					firstErr = err
				}
				mu.Unlock()
				return math.NaN()
			}
			return v
		}
		fd.Gradient(dst, f, x, &fd.Settings{
			Formula:    fd.Forward,
			Step:       epsilon,
			Concurrent: concurrent,
		})
		if firstErr != nil {
			return WrapError(firstErr, "numerical gradient").WithKind(ErrObjective)
		}
		return nil
	}
}
