package solver

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/optimize"
)

const (
	defaultStore         = 10
	defaultProjGradTol   = 1e-5
	defaultMaxBacktracks = 20

	armijo = 1e-4
)

// ErrAbnormalLineSearch is the error attached to AbnormalLineSearch.
var ErrAbnormalLineSearch = errors.New("solver: line search cannot find a decreasing step")

// AbnormalLineSearch reports that no step along the projected search
// direction decreased the objective. The last accepted location is kept.
var AbnormalLineSearch = optimize.NewStatus("AbnormalLineSearch", true, ErrAbnormalLineSearch)

var (
	_ optimize.Method   = (*ProjectedLBFGS)(nil)
	_ optimize.Statuser = (*ProjectedLBFGS)(nil)
)

// ProjectedLBFGS is a limited-memory BFGS method for problems with simple
// bounds. Search directions come from the two-loop recursion restricted to
// the variables not held at a bound, and steps are found by backtracking
// along the projection of the search ray onto the box.
//
// ProjectedLBFGS runs under optimize.Minimize like any gonum Method and
// uses one task.
type ProjectedLBFGS struct {
	// Lower and Upper bound each variable. Use ±Inf for open sides.
	Lower, Upper []float64
	// Store is the size of the limited-memory storage.
	// If Store is 0, it will be defaulted to 10.
	Store int
	// GradStopThreshold stops the method when the infinity norm of the
	// projected gradient falls to it. If 0 it is defaulted to 1e-5, and if
	// it is NaN the test is not used.
	GradStopThreshold float64
	// MaxBacktracks limits the step halvings per line search.
	// If 0 it is defaulted to 20.
	MaxBacktracks int

	status optimize.Status
	err    error

	bnd box

	// History, oldest first starting at index oldest.
	s, y   [][]float64
	rho    []float64
	a      []float64
	count  int
	oldest int
}

// Status returns the status of the method.
func (p *ProjectedLBFGS) Status() (optimize.Status, error) {
	return p.status, p.err
}

// Uses reports that the method needs the gradient.
func (*ProjectedLBFGS) Uses(has optimize.Available) (uses optimize.Available, err error) {
	if !has.Grad {
		return optimize.Available{}, optimize.ErrMissingGrad
	}
	return optimize.Available{Grad: true}, nil
}

// Init prepares the method for a problem of dimension dim.
func (p *ProjectedLBFGS) Init(dim, tasks int) int {
	p.status = optimize.NotTerminated
	p.err = nil

	if p.Store == 0 {
		p.Store = defaultStore
	}
	if p.GradStopThreshold == 0 {
		p.GradStopThreshold = defaultProjGradTol
	}
	if p.MaxBacktracks == 0 {
		p.MaxBacktracks = defaultMaxBacktracks
	}

	p.bnd = box{lower: make([]float64, dim), upper: make([]float64, dim)}
	for i := 0; i < dim; i++ {
		p.bnd.lower[i], p.bnd.upper[i] = math.Inf(-1), math.Inf(1)
		if i < len(p.Lower) {
			p.bnd.lower[i] = p.Lower[i]
		}
		if i < len(p.Upper) {
			p.bnd.upper[i] = p.Upper[i]
		}
	}

	p.s = make([][]float64, p.Store)
	p.y = make([][]float64, p.Store)
	for i := range p.s {
		p.s[i] = make([]float64, dim)
		p.y[i] = make([]float64, dim)
	}
	p.rho = make([]float64, p.Store)
	p.a = make([]float64, p.Store)
	p.count, p.oldest = 0, 0
	return 1
}

// Run drives the optimization through the operation and result channels.
func (p *ProjectedLBFGS) Run(operation chan<- optimize.Task, result <-chan optimize.Task, tasks []optimize.Task) {
	p.status, p.err = p.run(operation, result, tasks[0])
	close(operation)
}

func (p *ProjectedLBFGS) run(operation chan<- optimize.Task, result <-chan optimize.Task, task optimize.Task) (optimize.Status, error) {
	dim := len(task.X)

	op := optimize.NoOperation
	if task.Op&optimize.FuncEvaluation == 0 {
		op |= optimize.FuncEvaluation
	}
	if task.Op&optimize.GradEvaluation == 0 {
		op |= optimize.GradEvaluation
	}
	if p.bnd.project(task.X) {
		op = optimize.FuncEvaluation | optimize.GradEvaluation
	}
	task, ok := p.exchange(operation, result, task, op)
	if !ok {
		return optimize.NotTerminated, nil
	}
	if math.IsInf(task.F, 1) || math.IsNaN(task.F) {
		p.finishMethodDone(operation, result, task)
		return optimize.Failure, optimize.ErrFunc(task.F)
	}
	for i, v := range task.Gradient {
		if math.IsInf(v, 0) || math.IsNaN(v) {
			p.finishMethodDone(operation, result, task)
			return optimize.Failure, optimize.ErrGrad{Grad: v, Index: i}
		}
	}

	// Report the starting location.
	if task, ok = p.exchange(operation, result, task, optimize.MajorIteration); !ok {
		return optimize.NotTerminated, nil
	}

	loc := task.Location
	xPrev := make([]float64, dim)
	gPrev := make([]float64, dim)
	dir := make([]float64, dim)
	copy(xPrev, loc.X)
	copy(gPrev, loc.Gradient)
	fPrev := loc.F
	retried := false

	for {
		if !math.IsNaN(p.GradStopThreshold) && p.bnd.projGradNorm(loc.X, loc.Gradient) <= p.GradStopThreshold {
			p.finishMethodDone(operation, result, task)
			return optimize.GradientThreshold, nil
		}

		gd := p.direction(dir, loc.X, loc.Gradient)
		if !(gd < 0) {
			p.reset()
			gd = p.direction(dir, loc.X, loc.Gradient)
			if !(gd < 0) {
				// Every free component of the gradient vanished.
				p.finishMethodDone(operation, result, task)
				return optimize.GradientThreshold, nil
			}
		}

		step := 1.0
		if p.count == 0 {
			step = math.Min(1, 1/floats.Norm(dir, 2))
		}

		accepted := false
		for k := 0; k < p.MaxBacktracks; k++ {
			for i := range loc.X {
				loc.X[i] = p.bnd.clamp(i, xPrev[i]+step*dir[i])
			}
			if floats.Equal(loc.X, xPrev) {
				break
			}
			if task, ok = p.exchange(operation, result, task, optimize.FuncEvaluation|optimize.GradEvaluation); !ok {
				return optimize.NotTerminated, nil
			}
			var decrease float64
			for i := range loc.X {
				decrease += gPrev[i] * (loc.X[i] - xPrev[i])
			}
			if decrease < 0 && loc.F <= fPrev+armijo*decrease {
				accepted = true
				break
			}
			step /= 2
		}

		if !accepted {
			copy(loc.X, xPrev)
			copy(loc.Gradient, gPrev)
			loc.F = fPrev
			if !retried && p.count > 0 {
				retried = true
				p.reset()
				continue
			}
			p.finishMethodDone(operation, result, task)
			return AbnormalLineSearch, nil
		}
		retried = false

		p.update(loc.X, xPrev, loc.Gradient, gPrev)
		copy(xPrev, loc.X)
		copy(gPrev, loc.Gradient)
		fPrev = loc.F

		if task, ok = p.exchange(operation, result, task, optimize.MajorIteration); !ok {
			return optimize.NotTerminated, nil
		}
	}
}

// direction stores the search direction in dir and returns the directional
// derivative gᵀdir. Components held at a bound are zero.
func (p *ProjectedLBFGS) direction(dir, x, g []float64) float64 {
	for i := range dir {
		dir[i] = g[i]
		if p.bnd.active(i, x, g) {
			dir[i] = 0
		}
	}

	if p.count > 0 {
		// Two-loop recursion, newest pair first.
		for i := 0; i < p.count; i++ {
			idx := p.index(p.count - 1 - i)
			p.a[idx] = p.rho[idx] * floats.Dot(p.s[idx], dir)
			floats.AddScaled(dir, -p.a[idx], p.y[idx])
		}
		newest := p.index(p.count - 1)
		gamma := floats.Dot(p.s[newest], p.y[newest]) / floats.Dot(p.y[newest], p.y[newest])
		floats.Scale(gamma, dir)
		for i := 0; i < p.count; i++ {
			idx := p.index(i)
			beta := p.rho[idx] * floats.Dot(p.y[idx], dir)
			floats.AddScaled(dir, p.a[idx]-beta, p.s[idx])
		}
	}

	floats.Scale(-1, dir)
	for i := range dir {
		if p.bnd.active(i, x, g) {
			dir[i] = 0
		}
	}
	return floats.Dot(g, dir)
}

// index maps the i-th oldest stored pair to its slot.
func (p *ProjectedLBFGS) index(i int) int {
	return (p.oldest + i) % p.Store
}

// update stores the correction pair for the step from xOld to x. Pairs
// without enough curvature are skipped so the implicit Hessian stays
// positive definite.
func (p *ProjectedLBFGS) update(x, xOld, g, gOld []float64) {
	var sy, yy float64
	for i := range x {
		si, yi := x[i]-xOld[i], g[i]-gOld[i]
		sy += si * yi
		yy += yi * yi
	}
	if sy <= machineEpsilon*yy {
		return
	}

	var slot int
	if p.count < p.Store {
		slot = p.index(p.count)
	} else {
		slot = p.oldest
	}
	floats.SubTo(p.s[slot], x, xOld)
	floats.SubTo(p.y[slot], g, gOld)
	p.rho[slot] = 1 / sy
	if p.count < p.Store {
		p.count++
	} else {
		p.oldest = (p.oldest + 1) % p.Store
	}
}

func (p *ProjectedLBFGS) reset() {
	p.count, p.oldest = 0, 0
}

// exchange hands task to the driver with op and waits for the answer. It
// returns false when the driver has ended the run.
func (p *ProjectedLBFGS) exchange(operation chan<- optimize.Task, result <-chan optimize.Task, task optimize.Task, op optimize.Operation) (optimize.Task, bool) {
	task.Op = op
	operation <- task
	task = <-result
	if task.Op == optimize.PostIteration {
		drain(result)
		return task, false
	}
	return task, true
}

func (p *ProjectedLBFGS) finishMethodDone(operation chan<- optimize.Task, result <-chan optimize.Task, task optimize.Task) {
	task.Op = optimize.MethodDone
	operation <- task
	task = <-result
	if task.Op != optimize.PostIteration {
		panic("solver: task should have returned post iteration")
	}
	drain(result)
}

// drain consumes result until the driver closes it.
func drain(result <-chan optimize.Task) {
	for range result {
	}
}
