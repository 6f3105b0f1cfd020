package stats

import (
	"errors"
	"math"
	"sort"
)

var ErrNoValues = errors.New("no values")

func mean(xs []float64) float64 {
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func sum(xs []float64) float64 {
	var s float64
	for _, x := range xs {
		s += x
	}
	return s
}

// sampleStd is the n-1 standard deviation; a single value has no spread.
func sampleStd(xs []float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	m := mean(xs)
	var ss float64
	for _, x := range xs {
		ss += (x - m) * (x - m)
	}
	return math.Sqrt(ss / float64(len(xs)-1))
}

// argMax returns the index of the first maximum.
func argMax(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] > xs[best] {
			best = i
		}
	}
	return best
}

// argMin returns the index of the first minimum.
func argMin(xs []float64) int {
	best := 0
	for i := 1; i < len(xs); i++ {
		if xs[i] < xs[best] {
			best = i
		}
	}
	return best
}

// RollingMean computes a centered moving average over window samples. The
// window for index i spans [i-window/2, i-window/2+window-1]; indices whose
// window would cross either edge, or whose window holds a NaN, get NaN.
func RollingMean(values []float64, window int) []float64 {
	out := make([]float64, len(values))
	for i := range out {
		out[i] = math.NaN()
	}
	if window <= 0 || window > len(values) {
		return out
	}

	offset := window / 2
outer:
	for i := offset; i-offset+window <= len(values); i++ {
		lo := i - offset
		var s float64
		for _, v := range values[lo : lo+window] {
			if math.IsNaN(v) {
				continue outer
			}
			s += v
		}
		out[i] = s / float64(window)
	}
	return out
}

// Fit is a degree-1 polynomial y = Slope*x + Intercept.
type Fit struct {
	Slope     float64
	Intercept float64
}

func (f Fit) At(x float64) float64 {
	return f.Slope*x + f.Intercept
}

// LinearFit fits ys against their positions 0..n-1 by ordinary least squares.
// Using positions rather than calendar years keeps the normal equations well
// conditioned.
func LinearFit(ys []float64) (Fit, error) {
	n := len(ys)
	if n == 0 {
		return Fit{}, ErrNoValues
	}
	if n == 1 {
		return Fit{Intercept: ys[0]}, nil
	}

	xMean := float64(n-1) / 2
	yMean := mean(ys)
	var sxy, sxx float64
	for i, y := range ys {
		dx := float64(i) - xMean
		sxy += dx * (y - yMean)
		sxx += dx * dx
	}
	slope := sxy / sxx
	return Fit{Slope: slope, Intercept: yMean - slope*xMean}, nil
}

// Box holds the five-number summary used for box plots.
type Box struct {
	Count        int       `json:"count"`
	Mean         float64   `json:"mean"`
	Median       float64   `json:"median"`
	Q1           float64   `json:"q1"`
	Q3           float64   `json:"q3"`
	LowerWhisker float64   `json:"lowerWhisker"`
	UpperWhisker float64   `json:"upperWhisker"`
	Min          float64   `json:"min"`
	Max          float64   `json:"max"`
	Outliers     []float64 `json:"outliers,omitempty"`
}

// BoxStats summarises values with linearly interpolated quartiles and
// whiskers reaching the most extreme values within 1.5 IQR of the box.
func BoxStats(values []float64) (Box, error) {
	if len(values) == 0 {
		return Box{}, ErrNoValues
	}
	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	b := Box{
		Count:  len(sorted),
		Mean:   mean(sorted),
		Median: quantile(sorted, 0.5),
		Q1:     quantile(sorted, 0.25),
		Q3:     quantile(sorted, 0.75),
		Min:    sorted[0],
		Max:    sorted[len(sorted)-1],
	}

	iqr := b.Q3 - b.Q1
	lowFence := b.Q1 - 1.5*iqr
	highFence := b.Q3 + 1.5*iqr
	b.LowerWhisker = b.Q1
	b.UpperWhisker = b.Q3
	for _, v := range sorted {
		if v >= lowFence {
			b.LowerWhisker = v
			break
		}
	}
	for i := len(sorted) - 1; i >= 0; i-- {
		if sorted[i] <= highFence {
			b.UpperWhisker = sorted[i]
			break
		}
	}
	for _, v := range sorted {
		if v < lowFence || v > highFence {
			b.Outliers = append(b.Outliers, v)
		}
	}
	return b, nil
}

// quantile interpolates linearly between closest ranks of a sorted slice.
func quantile(sorted []float64, p float64) float64 {
	if len(sorted) == 1 {
		return sorted[0]
	}
	pos := p * float64(len(sorted)-1)
	lo := int(math.Floor(pos))
	hi := int(math.Ceil(pos))
	frac := pos - float64(lo)
	return sorted[lo] + (sorted[hi]-sorted[lo])*frac
}
