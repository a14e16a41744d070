package solver

import "math"

// box holds per-variable bounds. Open sides are ±Inf.
type box struct {
	lower, upper []float64
}

func newBox(bounds [][2]float64, n int) box {
	b := box{
		lower: make([]float64, n),
		upper: make([]float64, n),
	}
	for i := 0; i < n; i++ {
		b.lower[i], b.upper[i] = math.Inf(-1), math.Inf(1)
		if bounds != nil {
			b.lower[i], b.upper[i] = bounds[i][0], bounds[i][1]
		}
	}
	return b
}

// constrained reports whether any side of any bound is finite.
func (b box) constrained() bool {
	for i := range b.lower {
		if !math.IsInf(b.lower[i], -1) || !math.IsInf(b.upper[i], 1) {
			return true
		}
	}
	return false
}

func (b box) clamp(i int, v float64) float64 {
	return math.Max(b.lower[i], math.Min(v, b.upper[i]))
}

// project moves x into the box in place and reports whether it changed.
func (b box) project(x []float64) bool {
	changed := false
	for i, v := range x {
		if c := b.clamp(i, v); c != v {
			x[i] = c
			changed = true
		}
	}
	return changed
}

// projGradNorm returns ‖P(x - g) - x‖∞, the infinity norm of the projected
// gradient.
func (b box) projGradNorm(x, g []float64) float64 {
	var norm float64
	for i := range x {
		norm = math.Max(norm, math.Abs(b.clamp(i, x[i]-g[i])-x[i]))
	}
	return norm
}

// active reports whether variable i sits on a bound that the gradient
// pushes against.
func (b box) active(i int, x, g []float64) bool {
	return (x[i] <= b.lower[i] && g[i] > 0) || (x[i] >= b.upper[i] && g[i] < 0)
}
