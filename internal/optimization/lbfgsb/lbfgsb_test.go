package lbfgsb

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"gonum.org/v1/gonum/optimize"

	"github.com/copyleftdev/varopt/internal/optimization"
	"github.com/copyleftdev/varopt/internal/optimization/solver"
)

func quadratic(x []float64) (float64, error) {
	return (x[0]-1)*(x[0]-1) + (x[1]-2)*(x[1]-2), nil
}

func quadraticGrad(dst, x []float64) error {
	dst[0] = 2 * (x[0] - 1)
	dst[1] = 2 * (x[1] - 2)
	return nil
}

func quadraticRequest() optimization.Request {
	return optimization.Request{
		NumVars:      2,
		Objective:    quadratic,
		Gradient:     quadraticGrad,
		InitialPoint: []float64{0, 0},
	}
}

// recordingSolver captures what the adapter hands to the minimizer.
type recordingSolver struct {
	problem  solver.Problem
	x0       []float64
	settings solver.Settings
	calls    int
	err      error
}

func (r *recordingSolver) Minimize(ctx context.Context, p solver.Problem, x0 []float64, s solver.Settings) (*solver.Result, error) {
	r.problem, r.x0, r.settings = p, x0, s
	r.calls++
	if r.err != nil {
		return nil, r.err
	}
	f, _ := p.Func(x0)
	return &solver.Result{
		X:               append([]float64(nil), x0...),
		F:               f,
		FuncEvaluations: 7,
		Iterations:      3,
		Status:          optimize.GradientThreshold,
	}, nil
}

func TestNew(t *testing.T) {
	opt, err := New(DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, Options{MaxFun: 1000, MaxIter: 15000, Factr: 10, IPrint: -1, Epsilon: 1e-8}, opt.Options())
	assert.False(t, opt.BatchMode())

	opt, err = New(DefaultOptions(), WithBatchMode(true), WithLogger(nil), WithSolver(nil))
	require.NoError(t, err)
	assert.True(t, opt.BatchMode())
	assert.NotNil(t, opt.logger)
	assert.Equal(t, solver.Gonum{}, opt.solver)
}

func TestOptionsValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(o *Options)
		wantErr bool
	}{
		{"defaults", func(o *Options) {}, false},
		{"zero budgets", func(o *Options) { o.MaxFun, o.MaxIter = 0, 0 }, false},
		{"negative maxfun", func(o *Options) { o.MaxFun = -1 }, true},
		{"negative maxiter", func(o *Options) { o.MaxIter = -5 }, true},
		{"negative factr", func(o *Options) { o.Factr = -1 }, true},
		{"NaN factr", func(o *Options) { o.Factr = math.NaN() }, true},
		{"zero epsilon", func(o *Options) { o.Epsilon = 0 }, true},
		{"infinite epsilon", func(o *Options) { o.Epsilon = math.Inf(1) }, true},
		{"verbose iprint", func(o *Options) { o.IPrint = 101 }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := DefaultOptions()
			tt.mutate(&opts)
			_, err := New(opts)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		values  map[string]interface{}
		want    Options
		wantErr string
	}{
		{
			name:   "nil is defaults",
			values: nil,
			want:   DefaultOptions(),
		},
		{
			name:   "overrides",
			values: map[string]interface{}{"maxiter": 20, "factr": 1e7, "epsilon": 1e-6},
			want:   Options{MaxFun: 1000, MaxIter: 20, Factr: 1e7, IPrint: -1, Epsilon: 1e-6},
		},
		{
			name:   "integral float accepted for integer",
			values: map[string]interface{}{"maxfun": 50.0},
			want:   Options{MaxFun: 50, MaxIter: 15000, Factr: 10, IPrint: -1, Epsilon: 1e-8},
		},
		{
			name:    "string for integer",
			values:  map[string]interface{}{"maxfun": "many"},
			wantErr: "option maxfun",
		},
		{
			name:    "fraction for integer",
			values:  map[string]interface{}{"maxiter": 1.5},
			wantErr: "expected integer",
		},
		{
			name:    "bool for number",
			values:  map[string]interface{}{"factr": true},
			wantErr: "option factr",
		},
		{
			name:    "undeclared option",
			values:  map[string]interface{}{"tol": 1e-3},
			wantErr: "additional properties are not allowed",
		},
		{
			name:    "out of range",
			values:  map[string]interface{}{"epsilon": -1.0},
			wantErr: "option epsilon",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseOptions(tt.values)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOptionsMapRoundTrip(t *testing.T) {
	opts := Options{MaxFun: 10, MaxIter: 20, Factr: 1e12, IPrint: 0, Epsilon: 1e-4}
	got, err := ParseOptions(opts.Map())
	require.NoError(t, err)
	assert.Equal(t, opts, got)
}

func TestConfiguration(t *testing.T) {
	opt, err := New(DefaultOptions())
	require.NoError(t, err)

	cfg := opt.Configuration()
	assert.Equal(t, "L_BFGS_B", cfg.Name)
	assert.Equal(t, optimization.Supported, cfg.Support.Gradient)
	assert.Equal(t, optimization.Supported, cfg.Support.Bounds)
	assert.Equal(t, optimization.Required, cfg.Support.InitialPoint)
	assert.Equal(t, []string{"maxfun", "maxiter", "factr", "iprint", "epsilon"}, cfg.Schema.Names())
	assert.Equal(t, DefaultOptions().Map(), cfg.Schema.Defaults())
}

func TestRegistered(t *testing.T) {
	assert.Contains(t, optimization.Names(), Name)

	opt, err := optimization.New(Name, map[string]interface{}{"maxiter": 5}, true, zap.NewNop())
	require.NoError(t, err)
	lb, ok := opt.(*Optimizer)
	require.True(t, ok)
	assert.Equal(t, 5, lb.Options().MaxIter)
	assert.True(t, lb.BatchMode())

	_, err = optimization.New(Name, map[string]interface{}{"bogus": 1}, false, nil)
	assert.True(t, errors.Is(err, optimization.ErrInvalidConfig))
}

func TestGradientModes(t *testing.T) {
	t.Run("analytic gradient is passed through", func(t *testing.T) {
		rec := &recordingSolver{}
		opt, err := New(DefaultOptions(), WithSolver(rec))
		require.NoError(t, err)

		_, err = opt.Optimize(context.Background(), quadraticRequest())
		require.NoError(t, err)
		require.NotNil(t, rec.problem.Grad)
		assert.False(t, rec.problem.ApproxGrad)

		g := make([]float64, 2)
		require.NoError(t, rec.problem.Grad(g, []float64{0, 0}))
		assert.Equal(t, []float64{-2, -4}, g)
	})

	t.Run("no gradient without batch mode sets the approximation flag", func(t *testing.T) {
		rec := &recordingSolver{}
		opt, err := New(DefaultOptions(), WithSolver(rec))
		require.NoError(t, err)

		req := quadraticRequest()
		req.Gradient = nil
		_, err = opt.Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.True(t, rec.problem.ApproxGrad)
		assert.Nil(t, rec.problem.Grad)
		assert.Equal(t, 1e-8, rec.settings.Epsilon)
	})

	t.Run("no gradient in batch mode passes a numerical gradient", func(t *testing.T) {
		rec := &recordingSolver{}
		opts := DefaultOptions()
		opts.Epsilon = 1e-6
		opt, err := New(opts, WithSolver(rec), WithBatchMode(true))
		require.NoError(t, err)

		req := quadraticRequest()
		req.Gradient = nil
		_, err = opt.Optimize(context.Background(), req)
		require.NoError(t, err)
		assert.False(t, rec.problem.ApproxGrad)
		require.NotNil(t, rec.problem.Grad)

		// A forward difference with step h overestimates a quadratic's
		// derivative by h.
		g := make([]float64, 2)
		require.NoError(t, rec.problem.Grad(g, []float64{0, 0}))
		assert.InDelta(t, -2+1e-6, g[0], 1e-8)
		assert.InDelta(t, -4+1e-6, g[1], 1e-8)
	})
}

func TestOptimizeForwardsSettings(t *testing.T) {
	rec := &recordingSolver{}
	opts := Options{MaxFun: 11, MaxIter: 22, Factr: 1e7, IPrint: 5, Epsilon: 1e-5}
	opt, err := New(opts, WithSolver(rec))
	require.NoError(t, err)

	req := quadraticRequest()
	req.Bounds = [][2]float64{{-1, 1}, {-1, 1}}
	res, err := opt.Optimize(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, rec.calls)
	assert.Equal(t, []float64{0, 0}, rec.x0)
	assert.Equal(t, req.Bounds, rec.problem.Bounds)
	assert.Equal(t, 11, rec.settings.MaxFun)
	assert.Equal(t, 22, rec.settings.MaxIter)
	assert.Equal(t, 1e7, rec.settings.Factr)
	assert.Equal(t, 5, rec.settings.IPrint)
	assert.Equal(t, 1e-5, rec.settings.Epsilon)
	assert.NotNil(t, rec.settings.Logger)

	assert.Equal(t, 7, res.FuncEvaluations)
	assert.Equal(t, 3, res.Iterations)
	assert.Equal(t, optimize.GradientThreshold.String(), res.Status)
	assert.True(t, res.Converged)
	assert.Equal(t, 5.0, res.Solution.Value)
}

func TestOptimizeInvalidRequest(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *optimization.Request)
	}{
		{"missing initial point", func(r *optimization.Request) { r.InitialPoint = nil }},
		{"initial point too short", func(r *optimization.Request) { r.InitialPoint = []float64{0} }},
		{"bounds length mismatch", func(r *optimization.Request) { r.Bounds = [][2]float64{{0, 1}} }},
		{"zero variables", func(r *optimization.Request) { r.NumVars = 0 }},
		{"missing objective", func(r *optimization.Request) { r.Objective = nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recordingSolver{}
			opt, err := New(DefaultOptions(), WithSolver(rec))
			require.NoError(t, err)

			req := quadraticRequest()
			tt.mutate(&req)
			_, err = opt.Optimize(context.Background(), req)
			require.Error(t, err)
			assert.True(t, errors.Is(err, optimization.ErrInvalidRequest))
			assert.Zero(t, rec.calls, "solver must not run on an invalid request")
		})
	}
}

func TestOptimizeErrors(t *testing.T) {
	boom := errors.New("boom")

	t.Run("solver failure", func(t *testing.T) {
		opt, err := New(DefaultOptions(), WithSolver(&recordingSolver{err: boom}))
		require.NoError(t, err)

		_, err = opt.Optimize(context.Background(), quadraticRequest())
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrSolver))
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("objective failure", func(t *testing.T) {
		opt, err := New(DefaultOptions())
		require.NoError(t, err)

		req := quadraticRequest()
		req.Objective = func([]float64) (float64, error) { return 0, boom }
		_, err = opt.Optimize(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrObjective))
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("objective failure in batch gradient", func(t *testing.T) {
		opt, err := New(DefaultOptions(), WithBatchMode(true))
		require.NoError(t, err)

		req := quadraticRequest()
		req.Gradient = nil
		req.Objective = func(x []float64) (float64, error) {
			if x[0] != 0 {
				return 0, boom
			}
			return quadratic(x)
		}
		_, err = opt.Optimize(context.Background(), req)
		require.Error(t, err)
		assert.True(t, errors.Is(err, optimization.ErrObjective))
		assert.True(t, errors.Is(err, boom))
	})

	t.Run("cancelled context", func(t *testing.T) {
		opt, err := New(DefaultOptions())
		require.NoError(t, err)

		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err = opt.Optimize(ctx, quadraticRequest())
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestOptimizeScenarios(t *testing.T) {
	inf := math.Inf(1)

	tests := []struct {
		name      string
		options   []Option
		gradient  bool
		bounds    [][2]float64
		want      []float64
		tol       float64
		wantValue float64
	}{
		{
			name:     "unbounded analytic gradient",
			gradient: true,
			want:     []float64{1, 2},
			tol:      1e-5,
		},
		{
			name:     "upper bound on x",
			gradient: true,
			bounds:   [][2]float64{{-inf, 0.5}, {-inf, inf}},
			want:     []float64{0.5, 2},
			tol:      1e-5,
			// (0.5-1)^2
			wantValue: 0.25,
		},
		{
			name: "approximate gradient",
			want: []float64{1, 2},
			tol:  1e-4,
		},
		{
			name:    "batch numerical gradient",
			options: []Option{WithBatchMode(true)},
			want:    []float64{1, 2},
			tol:     1e-4,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := New(DefaultOptions(), tt.options...)
			require.NoError(t, err)

			req := quadraticRequest()
			req.Bounds = tt.bounds
			if !tt.gradient {
				req.Gradient = nil
			}
			res, err := opt.Optimize(context.Background(), req)
			require.NoError(t, err)

			require.Len(t, res.Solution.Parameters, 2)
			assert.InDeltaSlice(t, tt.want, res.Solution.Parameters, tt.tol)
			assert.InDelta(t, tt.wantValue, res.Solution.Value, 1e-6)
			assert.Greater(t, res.FuncEvaluations, 0)

			f0, _ := quadratic([]float64{0, 0})
			assert.LessOrEqual(t, res.Solution.Value, f0)
		})
	}
}

func TestOptimizeIdempotent(t *testing.T) {
	opt, err := New(DefaultOptions())
	require.NoError(t, err)

	first, err := opt.Optimize(context.Background(), quadraticRequest())
	require.NoError(t, err)
	second, err := opt.Optimize(context.Background(), quadraticRequest())
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestOptimizeZeroBudget(t *testing.T) {
	tests := []struct {
		name string
		opts Options
	}{
		{"maxiter zero", Options{MaxFun: 1000, MaxIter: 0, Factr: 10, IPrint: -1, Epsilon: 1e-8}},
		{"maxfun zero", Options{MaxFun: 0, MaxIter: 15000, Factr: 10, IPrint: -1, Epsilon: 1e-8}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := New(tt.opts)
			require.NoError(t, err)

			res, err := opt.Optimize(context.Background(), quadraticRequest())
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{0, 0}, res.Solution.Parameters, 1e-12)
			assert.InDelta(t, 5.0, res.Solution.Value, 1e-12)
			assert.False(t, res.Converged)
			assert.NotEmpty(t, res.Warning)
		})
	}
}

func TestOptimizeStartAtMinimum(t *testing.T) {
	tests := []struct {
		name    string
		numeric bool
		bounds  [][2]float64
	}{
		{"analytic gradient", false, nil},
		{"numerical gradient", true, nil},
		{"bounded", false, [][2]float64{{0, 1}, {0, 2}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opt, err := New(DefaultOptions())
			require.NoError(t, err)

			req := quadraticRequest()
			req.InitialPoint = []float64{1, 2}
			req.Bounds = tt.bounds
			if tt.numeric {
				req.Gradient = nil
			}

			res, err := opt.Optimize(context.Background(), req)
			require.NoError(t, err)
			assert.InDeltaSlice(t, []float64{1, 2}, res.Solution.Parameters, 1e-12)
			assert.InDelta(t, 0, res.Solution.Value, 1e-12)
			assert.Equal(t, 0, res.Iterations)
			assert.True(t, res.Converged)
			assert.Empty(t, res.Warning)
		})
	}
}

func TestOptimizeLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	opts := DefaultOptions()
	opts.IPrint = 0
	opt, err := New(opts, WithLogger(zap.New(core)))
	require.NoError(t, err)

	_, err = opt.Optimize(context.Background(), quadraticRequest())
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("starting optimization").Len())
	finished := logs.FilterMessage("optimization finished").All()
	require.Len(t, finished, 1)
	assert.Equal(t, Name, finished[0].ContextMap()["optimizer"])
	// iprint 0 adds the solver's own summary line.
	assert.Equal(t, 1, logs.FilterMessage("finished").Len())
}
