// Package climb extracts the best climbs from a distance/elevation profile.
// The search recurses: find the single highest-scoring climb, then search
// again before and after it, and check the climb itself for spoiling
// reversals. Output is deterministic for a fixed input and parameters.
package climb

import (
	"math"
	"sort"
)

// Params tune the climb search. Gradients are fractions (0.03 = 3%).
type Params struct {
	// Phi weights elevation against distance in the score
	// rise / distance^Phi; lower values favour long gradual climbs.
	Phi float64
	// MinElevation is the smallest rise worth reporting, metres.
	MinElevation float64
	// MinGradient is the smallest average gradient of a candidate.
	MinGradient float64
	// MaxGradient rejects implausibly steep climbs (GPS spikes).
	MaxGradient float64
	// MaxReversal is the largest tolerated drop within a climb, as a
	// fraction of the climb's total rise.
	MaxReversal float64
}

// DefaultParams are reasonable values for road riding.
func DefaultParams() Params {
	return Params{
		Phi:          0.6,
		MinElevation: 20,
		MinGradient:  0.03,
		MaxGradient:  0.40,
		MaxReversal:  0.2,
	}
}

// Climb is one detected climb, as index bounds into the input slices.
type Climb struct {
	Start, Finish int
	Elevation     float64
	Distance      float64
	Gradient      float64
}

// coarseLimit is the frame size above which the search decimates first.
const coarseLimit = 100

// Find returns the climbs in a profile, ordered by start index. distance
// must be non-decreasing; both slices share indices on a uniform grid.
func Find(distance, elevation []float64, p Params) []Climb {
	if len(distance) != len(elevation) || len(distance) < 2 {
		return nil
	}
	var climbs []Climb
	find(distance, elevation, 0, len(distance), p, &climbs)
	sort.Slice(climbs, func(i, j int) bool { return climbs[i].Start < climbs[j].Start })
	return climbs
}

// TotalClimb sums the elevations of all climbs.
func TotalClimb(climbs []Climb) float64 {
	var total float64
	for _, c := range climbs {
		total += c.Elevation
	}
	return total
}

func find(d, e []float64, lo, hi int, p Params, out *[]Climb) {
	if hi-lo < 2 {
		return
	}
	min, max := math.Inf(1), math.Inf(-1)
	for k := lo; k < hi; k++ {
		if e[k] < min {
			min = e[k]
		}
		if e[k] > max {
			max = e[k]
		}
	}
	if max-min < p.MinElevation {
		return
	}

	i, j, ok := bestClimb(d, e, lo, hi, p)
	if !ok {
		return
	}

	find(d, e, lo, i, p, out)
	contiguous(d, e, i, j, p, out)
	find(d, e, j+1, hi, p, out)
}

// bestClimb finds the (i, j) pair maximising rise / run^Phi subject to
// rise > max(MinElevation, MinGradient * run). Ties go to the first pair by
// index. Frames larger than coarseLimit are first searched on a decimated
// copy, then refined around the coarse winner.
func bestClimb(d, e []float64, lo, hi int, p Params) (int, int, bool) {
	n := hi - lo
	if n <= coarseLimit {
		return search(d, e, lo, hi, 1, lo, hi, p)
	}
	step := (n + coarseLimit - 1) / coarseLimit
	ci, cj, ok := search(d, e, lo, hi, step, lo, hi, p)
	if !ok {
		return 0, 0, false
	}
	iLo, iHi := clampRange(ci-step, ci+step+1, lo, hi)
	jLo, jHi := clampRange(cj-step, cj+step+1, lo, hi)
	return search(d, e, iLo, iHi, 1, jLo, jHi, p)
}

// search scans i in [iLo, iHi) and j in [jLo, jHi) at the given stride.
func search(d, e []float64, iLo, iHi, stride, jLo, jHi int, p Params) (int, int, bool) {
	bestScore := math.Inf(-1)
	bi, bj := 0, 0
	found := false
	for i := iLo; i < iHi; i += stride {
		for j := maxInt(jLo, i+1); j < jHi; j += stride {
			rise := e[j] - e[i]
			run := d[j] - d[i]
			if run <= 0 {
				continue
			}
			if rise <= math.Max(p.MinElevation, p.MinGradient*run) {
				continue
			}
			score := rise / math.Pow(run, p.Phi)
			if score > bestScore {
				bestScore = score
				bi, bj = i, j
				found = true
			}
		}
	}
	return bi, bj, found
}

// contiguous emits the climb [i, j] unless a reversal at least
// MaxReversal * rise spoils it, in which case the climb is split at the
// reversal and both halves are re-checked.
func contiguous(d, e []float64, i, j int, p Params, out *[]Climb) {
	rise := e[j] - e[i]
	run := d[j] - d[i]
	if rise < p.MinElevation || run <= 0 {
		return
	}

	peak, trough, drop := biggestReversal(e, i, j)
	if drop >= p.MaxReversal*rise {
		contiguous(d, e, i, peak, p, out)
		contiguous(d, e, trough, j, p, out)
		return
	}

	gradient := rise / run
	if gradient > p.MaxGradient {
		return
	}
	*out = append(*out, Climb{
		Start: i, Finish: j,
		Elevation: rise, Distance: run, Gradient: gradient,
	})
}

// biggestReversal finds the largest drop from a running maximum within
// [i, j], returning the peak and trough indices. The earliest such drop wins
// ties.
func biggestReversal(e []float64, i, j int) (peak, trough int, drop float64) {
	peakIdx, peakVal := i, e[i]
	for k := i + 1; k <= j; k++ {
		if e[k] > peakVal {
			peakIdx, peakVal = k, e[k]
			continue
		}
		if d := peakVal - e[k]; d > drop {
			peak, trough, drop = peakIdx, k, d
		}
	}
	return peak, trough, drop
}

func clampRange(lo, hi, min, max int) (int, int) {
	if lo < min {
		lo = min
	}
	if hi > max {
		hi = max
	}
	return lo, hi
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
