package calc

import (
	"fmt"
	"math"

	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/series"
	"traindb/internal/store"
)

// NZones is the number of heart-rate zones.
const NZones = 7

// zoneLimits are the upper bounds of zones 1..6 as fractions of threshold
// heart rate (British Cycling bands); zone 7 is everything above.
var zoneLimits = [...]float64{0.68, 0.83, 0.94, 1.05, 1.21, 1.50}

// Zone maps a heart rate to a continuous zone number in [1, 8). Within a
// band the fraction interpolates linearly, so zone 2.5 is half way through
// zone 2.
func Zone(hr, threshold float64) float64 {
	if threshold <= 0 || hr <= 0 {
		return 1
	}
	frac := hr / threshold
	lo := 0.0
	for i, hi := range zoneLimits {
		if frac < hi {
			return float64(i+1) + (frac-lo)/(hi-lo)
		}
		lo = hi
	}
	// Zone 7 is open above; scale against a band as wide as zone 6.
	top := 7 + (frac-zoneLimits[5])/(zoneLimits[5]-zoneLimits[4])
	return math.Min(top, 8-1e-9)
}

// ZoneCalculator bins each activity's heart rate into zones and emits
// percent-in-zone and time-in-zone statistics.
type ZoneCalculator struct{}

func init() {
	pipeline.Register("ZoneCalculator", func() pipeline.Pipeline { return &ZoneCalculator{} })
}

func (z *ZoneCalculator) Name() string  { return "ZoneCalculator" }
func (z *ZoneCalculator) Owner() string { return ZoneCalcOwner }

func (z *ZoneCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.1, Calc: 0.9} }

func (z *ZoneCalculator) Startup(c *pipeline.Context) error  { return nil }
func (z *ZoneCalculator) Shutdown(c *pipeline.Context) error { return nil }

func (z *ZoneCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return MissingSources(c, ZoneCalcOwner, store.KindActivity)
}

func (z *ZoneCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := resetSource(c, ZoneCalcOwner, item.ID); err != nil {
		return err
	}
	journal, err := c.DB.GetActivityJournal(item.ID)
	if err != nil {
		return err
	}
	names, err := activityNames(c, journal.GroupName, "heart_rate")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil // no heart rate recorded
	}
	frame, err := c.DB.SourceFrame(item.ID, names, false)
	if err != nil {
		return err
	}
	points := series.FromTimes(frame.Times, frame.Column("heart_rate"))
	if len(points) < 2 {
		return nil
	}

	// Resample to the median step so irregular recording doesn't bias the
	// histogram.
	step := series.MedianStep(points)
	if step <= 0 {
		return nil
	}
	resampled := series.Resample(points, step)

	var timeIn [NZones + 1]float64
	total := 0.0
	threshold := c.Config.Athlete.ThresholdHR
	for _, p := range resampled {
		zone := int(Zone(p.V, threshold))
		if zone < 1 {
			zone = 1
		}
		if zone > NZones {
			zone = NZones
		}
		timeIn[zone] += step
		total += step
	}
	if total == 0 {
		return nil
	}

	l := load.New(c.DB, c.Log, load.Options{})
	for zone := 1; zone <= NZones; zone++ {
		tn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: fmt.Sprintf("time_in_z%d", zone), Owner: ZoneCalcOwner,
			Constraint: journal.GroupName, Kind: store.StatisticFloat,
			Units: "s", Summary: "[sum]",
		})
		if err != nil {
			return err
		}
		if err := l.Add(tn, item.ID, journal.Start, timeIn[zone]); err != nil {
			return err
		}
		pn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: fmt.Sprintf("percent_in_z%d", zone), Owner: ZoneCalcOwner,
			Constraint: journal.GroupName, Kind: store.StatisticFloat,
			Units: "%", Summary: "[avg]",
		})
		if err != nil {
			return err
		}
		if err := l.Add(pn, item.ID, journal.Start, 100*timeIn[zone]/total); err != nil {
			return err
		}
	}
	return l.Load()
}
