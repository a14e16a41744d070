package main

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v10"
	"github.com/spf13/cobra"

	"github.com/copyleftdev/varopt/internal/logging"
	"github.com/copyleftdev/varopt/internal/objectives"
	"github.com/copyleftdev/varopt/internal/optimization"
	"github.com/copyleftdev/varopt/internal/optimization/lbfgsb"
)

type runFlags struct {
	objective string
	params    map[string]string
	x0        []float64
	bounds    string
	opts      lbfgsb.Options
	numeric   bool
	batch     bool
	jsonOut   bool
}

// runOutput is the --json form of a result.
type runOutput struct {
	X               []float64 `json:"x"`
	F               float64   `json:"f"`
	FuncEvaluations int       `json:"funcalls"`
	Iterations      int       `json:"nit"`
	Status          string    `json:"status"`
	Converged       bool      `json:"converged"`
	Warning         string    `json:"warning,omitempty"`
}

// optionsFromEnv reads LBFGSB_* overrides of the default options.
func optionsFromEnv() (lbfgsb.Options, error) {
	var opts lbfgsb.Options
	if err := env.ParseWithOptions(&opts, env.Options{Prefix: "LBFGSB_"}); err != nil {
		return lbfgsb.DefaultOptions(), err
	}
	return opts, nil
}

func newRunCmd(c *cli) *cobra.Command {
	f := &runFlags{}
	defaults, envErr := optionsFromEnv()

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Minimize a built-in objective",
		Long: `Minimizes a built-in objective from --x0, optionally inside --bounds.

Bounds are comma separated lo:hi pairs, one per variable. An empty side is
unbounded, so ":1.5" means x <= 1.5 and "0:" means x >= 0.`,
		Example: `  varopt run --objective rosenbrock --x0 -1.2,1
  varopt run --objective quadratic --param c0=1 --x0 0 --bounds :0.5
  varopt run --objective wood --x0 -3,-1,-3,-1 --numeric-gradient --batch --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if envErr != nil {
				return fmt.Errorf("reading LBFGSB_ environment: %w", envErr)
			}
			return runOptimization(cmd, c.logger, f)
		},
	}

	flags := runCmd.Flags()
	flags.StringVar(&f.objective, "objective", "", "Objective to minimize (see 'varopt objectives')")
	flags.StringToStringVar(&f.params, "param", nil, "Objective parameter as key=value, repeatable")
	flags.Float64SliceVar(&f.x0, "x0", nil, "Initial point, comma separated")
	flags.StringVar(&f.bounds, "bounds", "", "Bounds as lo:hi pairs, comma separated")
	flags.IntVar(&f.opts.MaxFun, "maxfun", defaults.MaxFun, "Maximum number of function evaluations")
	flags.IntVar(&f.opts.MaxIter, "maxiter", defaults.MaxIter, "Maximum number of iterations")
	flags.Float64Var(&f.opts.Factr, "factr", defaults.Factr, "Stop when the relative reduction of f is below factr times machine precision")
	flags.IntVar(&f.opts.IPrint, "iprint", defaults.IPrint, "Progress output: <0 silent, 0 summary, 1..99 every iteration, >99 verbose")
	flags.Float64Var(&f.opts.Epsilon, "epsilon", defaults.Epsilon, "Step for the numerical gradient")
	flags.BoolVar(&f.numeric, "numeric-gradient", false, "Approximate the gradient instead of using the analytic one")
	flags.BoolVar(&f.batch, "batch", false, "Evaluate numerical gradient points concurrently")
	flags.BoolVar(&f.jsonOut, "json", false, "Print the result as JSON")

	_ = runCmd.MarkFlagRequired("objective")
	_ = runCmd.MarkFlagRequired("x0")
	return runCmd
}

func runOptimization(cmd *cobra.Command, logger *logging.Logger, f *runFlags) error {
	params, err := parseParams(f.params)
	if err != nil {
		return err
	}
	obj, err := objectives.Lookup(f.objective, params)
	if err != nil {
		return err
	}
	if err := obj.CheckDim(len(f.x0)); err != nil {
		return err
	}
	bounds, err := parseBounds(f.bounds)
	if err != nil {
		return err
	}

	opt, err := lbfgsb.New(f.opts,
		lbfgsb.WithBatchMode(f.batch),
		lbfgsb.WithLogger(logging.NewZapLogger(logger).Named("lbfgsb")),
	)
	if err != nil {
		return err
	}

	req := optimization.Request{
		NumVars:      len(f.x0),
		Objective:    obj.Func,
		InitialPoint: f.x0,
		Bounds:       bounds,
	}
	if !f.numeric {
		req.Gradient = obj.Grad
	}

	logger.Info("starting run", map[string]interface{}{
		"objective": obj.Name,
		"n":         len(f.x0),
		"bounded":   bounds != nil,
	})

	res, err := opt.Optimize(cmd.Context(), req)
	if err != nil {
		return err
	}
	return printResult(cmd, f.jsonOut, res)
}

func printResult(cmd *cobra.Command, asJSON bool, res *optimization.Result) error {
	out := runOutput{
		X:               res.Solution.Parameters,
		F:               res.Solution.Value,
		FuncEvaluations: res.FuncEvaluations,
		Iterations:      res.Iterations,
		Status:          res.Status,
		Converged:       res.Converged,
		Warning:         res.Warning,
	}

	w := cmd.OutOrStdout()
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	fmt.Fprintf(w, "status:    %s\n", out.Status)
	fmt.Fprintf(w, "x:         %s\n", formatVector(out.X))
	fmt.Fprintf(w, "f:         %.10g\n", out.F)
	fmt.Fprintf(w, "funcalls:  %d\n", out.FuncEvaluations)
	fmt.Fprintf(w, "nit:       %d\n", out.Iterations)
	if out.Warning != "" {
		fmt.Fprintf(w, "warning:   %s\n", out.Warning)
	}
	return nil
}

func formatVector(x []float64) string {
	parts := make([]string, len(x))
	for i, v := range x {
		parts[i] = strconv.FormatFloat(v, 'g', 10, 64)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func parseParams(raw map[string]string) (map[string]float64, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]float64, len(raw))
	for k, v := range raw {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return nil, fmt.Errorf("param %s: %q is not a number", k, v)
		}
		out[k] = f
	}
	return out, nil
}

// parseBounds parses "lo:hi,lo:hi". An empty side is infinite.
func parseBounds(s string) ([][2]float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	pairs := strings.Split(s, ",")
	out := make([][2]float64, len(pairs))
	for i, pair := range pairs {
		lo, hi, ok := strings.Cut(pair, ":")
		if !ok {
			return nil, fmt.Errorf("bound %d: %q is not of the form lo:hi", i, pair)
		}
		var err error
		if out[i][0], err = parseSide(lo, math.Inf(-1)); err != nil {
			return nil, fmt.Errorf("bound %d lower: %w", i, err)
		}
		if out[i][1], err = parseSide(hi, math.Inf(1)); err != nil {
			return nil, fmt.Errorf("bound %d upper: %w", i, err)
		}
	}
	return out, nil
}

func parseSide(s string, open float64) (float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return open, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("%q is not a number", s)
	}
	if math.IsNaN(v) {
		return 0, fmt.Errorf("NaN is not a valid bound")
	}
	return v, nil
}
