// Package response implements the fitness/fatigue model: a heart-rate
// impulse derived from zone, an exponential-decay integrator over hourly
// impulse bins, and an offline fitter for the decay constant.
package response

import (
	"math"
	"time"
)

// Owner names and constants for this package.
const (
	ImpulseOwner  = "ImpulseCalculator"
	ResponseOwner = "ResponseCalculator"

	// HRImpulseConstant overrides the impulse shape parameters.
	HRImpulseConstant = "HRImpulse"
	// FFModelConstant overrides the decay models (a JSON object mapping
	// model name to parameters).
	FFModelConstant = "FFModel"
)

// ImpulseParams shape the zone-to-impulse mapping.
type ImpulseParams struct {
	Gamma  float64 `json:"gamma"`
	Zero   float64 `json:"zero"`
	NZones float64 `json:"n_zones"`
}

// DefaultImpulseParams: linear above zone 2, normalised to 1 at the top zone.
func DefaultImpulseParams() ImpulseParams {
	return ImpulseParams{Gamma: 1, Zero: 2, NZones: 7}
}

// Impulse maps a (continuous) heart-rate zone to a unitless work proxy:
// max(0, zone-zero)^gamma / (n_zones-zero)^gamma.
func Impulse(zone float64, p ImpulseParams) float64 {
	if p.NZones <= p.Zero {
		return 0
	}
	over := zone - p.Zero
	if over < 0 {
		over = 0
	}
	return math.Pow(over, p.Gamma) / math.Pow(p.NZones-p.Zero, p.Gamma)
}

// DecayParams parameterise one response model.
type DecayParams struct {
	TauDays float64 `json:"tau_days"`
	Scale   float64 `json:"scale"`
	Start   float64 `json:"start"`
}

// TauHours returns the decay constant in hours.
func (p DecayParams) TauHours() float64 { return p.TauDays * 24 }

// DefaultModels are the classic fitness (slow decay) and fatigue (fast
// decay) pair.
func DefaultModels() map[string]DecayParams {
	return map[string]DecayParams{
		"fitness": {TauDays: 42, Scale: 1, Start: 0},
		"fatigue": {TauDays: 7, Scale: 1, Start: 0},
	}
}

// Decay integrates an impulse series:
//
//	r[t] = r[t-1] * exp(-dt/tau_hours) + scale * impulse[t]
//
// starting from p.Start. Times need not be uniformly spaced; dt is the gap
// to the previous sample in hours.
func Decay(times []time.Time, impulse []float64, p DecayParams) []float64 {
	out := make([]float64, len(impulse))
	state := p.Start
	for i := range impulse {
		if i > 0 {
			dt := times[i].Sub(times[i-1]).Hours()
			state *= math.Exp(-dt / p.TauHours())
		}
		state += p.Scale * impulse[i]
		out[i] = state
	}
	return out
}
