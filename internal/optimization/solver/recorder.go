package solver

import (
	"go.uber.org/zap"
	"gonum.org/v1/gonum/optimize"
)

// Print levels, following the L-BFGS-B iprint convention.
const (
	// PrintSilent and below produce no output.
	PrintSilent = -1
	// PrintSummary logs one line when the run ends.
	PrintSummary = 0
	// PrintEveryIteration logs every iteration.
	PrintEveryIteration = 99
	// PrintFinalX also logs the final location.
	PrintFinalX = 100
)

var _ optimize.Recorder = (*Recorder)(nil)

// Recorder logs optimization progress according to an iprint level:
// negative is silent, 0 logs a summary at the end, 1..98 log f and the
// projected gradient norm every level iterations, 99 logs every iteration,
// 100 adds the final x and above 100 logs x and g on every iteration.
type Recorder struct {
	level  int
	logger *zap.Logger
	bnd    box
}

// NewRecorder returns a Recorder, or nil when level is silent.
func NewRecorder(level int, logger *zap.Logger, bounds [][2]float64, n int) *Recorder {
	if level < PrintSummary {
		return nil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recorder{
		level:  level,
		logger: logger.Named("lbfgsb"),
		bnd:    newBox(bounds, n),
	}
}

// Init implements optimize.Recorder.
func (r *Recorder) Init() error {
	r.logger.Info("start",
		zap.Int("n", len(r.bnd.lower)),
		zap.Bool("bounded", r.bnd.constrained()),
		zap.Int("iprint", r.level),
	)
	return nil
}

// Record implements optimize.Recorder.
func (r *Recorder) Record(loc *optimize.Location, op optimize.Operation, stats *optimize.Stats) error {
	switch op {
	case optimize.MajorIteration:
		r.iteration(loc, stats)
	case optimize.PostIteration:
		r.final(loc, stats, "")
	}
	return nil
}

func (r *Recorder) iteration(loc *optimize.Location, stats *optimize.Stats) {
	if r.level == PrintSummary {
		return
	}
	// The driver counts the starting location as a major iteration.
	iter := stats.MajorIterations - 1
	if r.level < PrintEveryIteration && iter%r.level != 0 {
		return
	}

	fields := []zap.Field{
		zap.Int("iteration", iter),
		zap.Float64("f", loc.F),
		zap.Int("func_evaluations", stats.FuncEvaluations),
	}
	if loc.Gradient != nil {
		fields = append(fields, zap.Float64("proj_grad_norm", r.bnd.projGradNorm(loc.X, loc.Gradient)))
	}
	if r.level > PrintFinalX {
		fields = append(fields, zap.Float64s("x", loc.X), zap.Float64s("g", loc.Gradient))
	}
	r.logger.Info("iteration", fields...)
}

func (r *Recorder) final(loc *optimize.Location, stats *optimize.Stats, status string) {
	fields := []zap.Field{
		zap.Int("iterations", max(stats.MajorIterations-1, 0)),
		zap.Float64("f", loc.F),
		zap.Int("func_evaluations", stats.FuncEvaluations),
		zap.Duration("runtime", stats.Runtime),
	}
	if status != "" {
		fields = append(fields, zap.String("status", status))
	}
	if r.level >= PrintFinalX {
		fields = append(fields, zap.Float64s("x", loc.X))
	}
	r.logger.Info("finished", fields...)
}
