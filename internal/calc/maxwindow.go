package calc

import (
	"fmt"
	"math"

	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/series"
	"traindb/internal/store"
)

// windowMinutes are the rolling-window lengths for maxima.
var windowMinutes = []int{5, 10, 30, 60, 90, 120, 180}

// sampleStep is the uniform resampling step for windowed maxima, seconds.
const sampleStep = 10.0

// MaxWindowCalculator finds the best sustained efforts: the maximum rolling
// mean of power and the maximum rolling median of heart rate over a set of
// window lengths. Data gaps split the series; windows never span a gap.
type MaxWindowCalculator struct{}

func init() {
	pipeline.Register("MaxWindowCalculator", func() pipeline.Pipeline { return &MaxWindowCalculator{} })
}

func (m *MaxWindowCalculator) Name() string  { return "MaxWindowCalculator" }
func (m *MaxWindowCalculator) Owner() string { return MaxWindowCalcOwner }

func (m *MaxWindowCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.05, Calc: 0.95} }

func (m *MaxWindowCalculator) Startup(c *pipeline.Context) error  { return nil }
func (m *MaxWindowCalculator) Shutdown(c *pipeline.Context) error { return nil }

func (m *MaxWindowCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return MissingSources(c, MaxWindowCalcOwner, store.KindActivity)
}

func (m *MaxWindowCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := resetSource(c, MaxWindowCalcOwner, item.ID); err != nil {
		return err
	}
	journal, err := c.DB.GetActivityJournal(item.ID)
	if err != nil {
		return err
	}
	names, err := activityNames(c, journal.GroupName, "power", "heart_rate")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	frame, err := c.DB.SourceFrame(item.ID, names, false)
	if err != nil {
		return err
	}

	l := load.New(c.DB, c.Log, load.Options{})
	add := func(name, units string, value float64) error {
		sn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: name, Owner: MaxWindowCalcOwner, Constraint: journal.GroupName,
			Kind: store.StatisticFloat, Units: units, Summary: "[max],[msr]",
		})
		if err != nil {
			return err
		}
		return l.Add(sn, item.ID, journal.Start, value)
	}

	if col := frame.Column("power"); col != nil {
		points := series.FromTimes(frame.Times, col)
		for _, mins := range windowMinutes {
			if v, ok := windowMax(points, mins, series.RollingMean); ok {
				if err := add(fmt.Sprintf("max_mean_power_%dm", mins), "w", v); err != nil {
					return err
				}
			}
		}
	}
	if col := frame.Column("heart_rate"); col != nil {
		points := series.FromTimes(frame.Times, col)
		for _, mins := range windowMinutes {
			if v, ok := windowMax(points, mins, series.RollingMedian); ok {
				if err := add(fmt.Sprintf("max_med_hr_%dm", mins), "bpm", v); err != nil {
					return err
				}
			}
		}
	}

	if l.Len() == 0 {
		return nil
	}
	return l.Load()
}

// windowMax computes the maximum of a rolling aggregate over a window of the
// given minutes. The series is resampled to sampleStep; gaps larger than
// max(0.01 * window, 1.5 * median step) split it, and each split is treated
// independently.
func windowMax(points []series.Point, minutes int, agg func([]float64, int) []float64) (float64, bool) {
	if len(points) < 2 {
		return 0, false
	}
	window := float64(minutes) * 60
	step := series.MedianStep(points)
	if step <= 0 {
		return 0, false
	}
	maxGap := math.Max(0.01*window, 1.5*step)

	best := math.NaN()
	for _, split := range series.SplitAtGaps(points, maxGap) {
		resampled := series.Resample(split, sampleStep)
		n := int(window / sampleStep)
		rolled := agg(series.Values(resampled), n)
		if len(rolled) == 0 {
			continue
		}
		v := series.Max(rolled)
		if math.IsNaN(best) || v > best {
			best = v
		}
	}
	if math.IsNaN(best) {
		return 0, false
	}
	return best, true
}
