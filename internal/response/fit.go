package response

import (
	"errors"
	"math"
	"sort"
	"time"

	"gonum.org/v1/gonum/optimize"
)

// Observation is one measured performance at a point in time.
type Observation struct {
	Time        time.Time
	Performance float64
}

// FitOptions configure the decay-constant fit.
type FitOptions struct {
	// L1 minimises absolute residuals instead of squared.
	L1 bool
	// FitStart also fits the initial response level.
	FitStart bool
	// MaxReject allows dropping up to this many worst-residual outliers,
	// refitting after each.
	MaxReject int
}

// FitResult is the fitted model and the observations rejected on the way.
type FitResult struct {
	TauHours float64
	Start    float64
	// Score is the final residual sum (L1 or L2 per options).
	Score    float64
	Rejected []Observation
}

// ErrTooFewObservations is returned when fewer than three observations
// remain; the linear transform alone has two degrees of freedom.
var ErrTooFewObservations = errors.New("too few observations to fit")

// Fit finds the decay constant (and optionally the start level) that best
// explains the observations, given the impulse series. The response is
// integrated at the impulse times; a linear transform a + b*r is solved in
// closed form at each step, and Nelder-Mead searches over log10(tau) (and
// log10(start)) to minimise the residuals.
func Fit(times []time.Time, impulse []float64, obs []Observation,
	initial DecayParams, opts FitOptions) (*FitResult, error) {

	remaining := append([]Observation(nil), obs...)
	var rejected []Observation

	for {
		if len(remaining) < 3 {
			return nil, ErrTooFewObservations
		}
		result, residuals, err := fitOnce(times, impulse, remaining, initial, opts)
		if err != nil {
			return nil, err
		}
		if len(rejected) >= opts.MaxReject {
			result.Rejected = rejected
			return result, nil
		}

		worst, worstAbs := -1, 0.0
		for i, res := range residuals {
			if a := math.Abs(res); worst < 0 || a > worstAbs {
				worst, worstAbs = i, a
			}
		}
		rejected = append(rejected, remaining[worst])
		remaining = append(remaining[:worst:worst], remaining[worst+1:]...)
	}
}

func fitOnce(times []time.Time, impulse []float64, obs []Observation,
	initial DecayParams, opts FitOptions) (*FitResult, []float64, error) {

	score := func(x []float64) float64 {
		params := paramsFromX(x, initial, opts)
		_, residuals := evaluate(times, impulse, obs, params, opts)
		total := 0.0
		for _, r := range residuals {
			if opts.L1 {
				total += math.Abs(r)
			} else {
				total += r * r
			}
		}
		return total
	}

	x0 := []float64{math.Log10(initial.TauHours())}
	if opts.FitStart {
		start := initial.Start
		if start <= 0 {
			start = 1e-6
		}
		x0 = append(x0, math.Log10(start))
	}

	problem := optimize.Problem{Func: score}
	result, err := optimize.Minimize(problem, x0, nil, &optimize.NelderMead{})
	if err != nil {
		return nil, nil, err
	}

	params := paramsFromX(result.X, initial, opts)
	_, residuals := evaluate(times, impulse, obs, params, opts)
	return &FitResult{
		TauHours: params.TauHours(),
		Start:    params.Start,
		Score:    result.F,
	}, residuals, nil
}

func paramsFromX(x []float64, initial DecayParams, opts FitOptions) DecayParams {
	params := initial
	params.TauDays = math.Pow(10, x[0]) / 24
	if opts.FitStart && len(x) > 1 {
		params.Start = math.Pow(10, x[1])
	}
	return params
}

// evaluate integrates the response, solves the least-squares linear
// transform a + b*r against the observations, and returns the transform's
// predictions and residuals (observed minus predicted).
func evaluate(times []time.Time, impulse []float64, obs []Observation,
	params DecayParams, opts FitOptions) (predicted, residuals []float64) {

	response := Decay(times, impulse, params)

	// Response at each observation: the last integrated value at or before
	// the observation, decayed over the remaining gap.
	at := make([]float64, len(obs))
	for i, o := range obs {
		k := sort.Search(len(times), func(j int) bool { return times[j].After(o.Time) }) - 1
		if k < 0 {
			at[i] = params.Start
			continue
		}
		dt := o.Time.Sub(times[k]).Hours()
		at[i] = response[k] * math.Exp(-dt/params.TauHours())
	}

	a, b := linearFit(at, obs)
	predicted = make([]float64, len(obs))
	residuals = make([]float64, len(obs))
	for i, o := range obs {
		predicted[i] = a + b*at[i]
		residuals[i] = o.Performance - predicted[i]
	}
	return predicted, residuals
}

// linearFit solves min sum (p_i - a - b*r_i)^2 in closed form.
func linearFit(r []float64, obs []Observation) (a, b float64) {
	n := float64(len(obs))
	if n == 0 {
		return 0, 0
	}
	var sr, sp, srr, srp float64
	for i, o := range obs {
		sr += r[i]
		sp += o.Performance
		srr += r[i] * r[i]
		srp += r[i] * o.Performance
	}
	det := n*srr - sr*sr
	if math.Abs(det) < 1e-12 {
		return sp / n, 0
	}
	a = (sp*srr - sr*srp) / det
	b = (n*srp - sr*sp) / det
	return a, b
}
