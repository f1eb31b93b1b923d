// Package series provides uniform resampling and rolling-window helpers over
// timestamped measurement slices. All functions are pure.
package series

import (
	"math"
	"sort"
	"time"
)

// Point is one (elapsed seconds, value) sample.
type Point struct {
	T float64
	V float64
}

// FromTimes pairs times (as seconds from the first sample) with values,
// skipping NaNs.
func FromTimes(times []time.Time, values []float64) []Point {
	if len(times) == 0 {
		return nil
	}
	t0 := times[0]
	points := make([]Point, 0, len(values))
	for i, v := range values {
		if i >= len(times) || math.IsNaN(v) {
			continue
		}
		points = append(points, Point{T: times[i].Sub(t0).Seconds(), V: v})
	}
	return points
}

// Resample linearly interpolates points onto a uniform grid of step dt
// seconds, spanning the input range.
func Resample(points []Point, dt float64) []Point {
	if len(points) < 2 || dt <= 0 {
		return nil
	}
	var out []Point
	j := 0
	for t := points[0].T; t <= points[len(points)-1].T+1e-9; t += dt {
		for j+1 < len(points) && points[j+1].T < t {
			j++
		}
		out = append(out, Point{T: t, V: interpolate(points, j, t)})
	}
	return out
}

// ResampleByX linearly interpolates y onto a uniform grid of x (e.g. a
// distance grid). xs must be non-decreasing.
func ResampleByX(xs, ys []float64, grid float64) (outX, outY []float64) {
	if len(xs) < 2 || grid <= 0 || len(xs) != len(ys) {
		return nil, nil
	}
	j := 0
	for x := xs[0]; x <= xs[len(xs)-1]+1e-9; x += grid {
		for j+1 < len(xs) && xs[j+1] < x {
			j++
		}
		outX = append(outX, x)
		outY = append(outY, interpXY(xs, ys, j, x))
	}
	return outX, outY
}

func interpolate(points []Point, j int, t float64) float64 {
	if j+1 >= len(points) {
		return points[len(points)-1].V
	}
	a, b := points[j], points[j+1]
	if b.T == a.T {
		return a.V
	}
	frac := (t - a.T) / (b.T - a.T)
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return a.V + frac*(b.V-a.V)
}

func interpXY(xs, ys []float64, j int, x float64) float64 {
	if j+1 >= len(xs) {
		return ys[len(ys)-1]
	}
	if xs[j+1] == xs[j] {
		return ys[j]
	}
	frac := (x - xs[j]) / (xs[j+1] - xs[j])
	if frac < 0 {
		frac = 0
	}
	if frac > 1 {
		frac = 1
	}
	return ys[j] + frac*(ys[j+1]-ys[j])
}

// MedianStep returns the median time delta between consecutive points.
func MedianStep(points []Point) float64 {
	if len(points) < 2 {
		return 0
	}
	deltas := make([]float64, 0, len(points)-1)
	for i := 1; i < len(points); i++ {
		deltas = append(deltas, points[i].T-points[i-1].T)
	}
	return Median(deltas)
}

// Median returns the median of values. Empty input yields NaN.
func Median(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}

// RollingMean returns the n-sample rolling mean; output i covers input
// [i, i+n). Returns nil when fewer than n values exist.
func RollingMean(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nil
	}
	out := make([]float64, 0, len(values)-n+1)
	var sum float64
	for i, v := range values {
		sum += v
		if i >= n {
			sum -= values[i-n]
		}
		if i >= n-1 {
			out = append(out, sum/float64(n))
		}
	}
	return out
}

// RollingMedian returns the n-sample rolling median.
func RollingMedian(values []float64, n int) []float64 {
	if n <= 0 || len(values) < n {
		return nil
	}
	out := make([]float64, 0, len(values)-n+1)
	window := make([]float64, n)
	for i := 0; i+n <= len(values); i++ {
		copy(window, values[i:i+n])
		out = append(out, Median(window))
	}
	return out
}

// SplitAtGaps partitions points into runs separated by time gaps larger than
// maxGap seconds.
func SplitAtGaps(points []Point, maxGap float64) [][]Point {
	if len(points) == 0 {
		return nil
	}
	var splits [][]Point
	start := 0
	for i := 1; i < len(points); i++ {
		if points[i].T-points[i-1].T > maxGap {
			splits = append(splits, points[start:i])
			start = i
		}
	}
	return append(splits, points[start:])
}

// Values extracts the value column.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.V
	}
	return out
}

// Max returns the maximum, or NaN for empty input.
func Max(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	max := values[0]
	for _, v := range values[1:] {
		if v > max {
			max = v
		}
	}
	return max
}

// Min returns the minimum, or NaN for empty input.
func Min(values []float64) float64 {
	if len(values) == 0 {
		return math.NaN()
	}
	min := values[0]
	for _, v := range values[1:] {
		if v < min {
			min = v
		}
	}
	return min
}
