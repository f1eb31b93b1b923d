package calc

import (
	"fmt"
	"math"
	"time"

	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/series"
	"traindb/internal/store"
)

// roundDistancesKm are the targets for minimum/median time statistics.
var roundDistancesKm = []float64{
	5, 10, 15, 20, 25, 50, 75, 100, 150, 200, 250, 300, 400, 500,
	600, 700, 800, 900, 1000,
}

// distanceGrid is the resampling step for distance-keyed series, metres.
const distanceGrid = 10.0

// ActivityCalculator derives per-activity movement statistics: active
// distance, time and speed over the recording timespans, plus the fastest
// and median times over round distances.
type ActivityCalculator struct{}

func init() {
	pipeline.Register("ActivityCalculator", func() pipeline.Pipeline { return &ActivityCalculator{} })
}

func (a *ActivityCalculator) Name() string  { return "ActivityCalculator" }
func (a *ActivityCalculator) Owner() string { return ActivityCalcOwner }

func (a *ActivityCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.1, Calc: 0.9} }

func (a *ActivityCalculator) Startup(c *pipeline.Context) error  { return nil }
func (a *ActivityCalculator) Shutdown(c *pipeline.Context) error { return nil }

func (a *ActivityCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return MissingSources(c, ActivityCalcOwner, store.KindActivity)
}

func (a *ActivityCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := resetSource(c, ActivityCalcOwner, item.ID); err != nil {
		return err
	}
	journal, err := c.DB.GetActivityJournal(item.ID)
	if err != nil {
		return err
	}
	names, err := activityNames(c, journal.GroupName, "distance", "speed")
	if err != nil {
		return err
	}
	if len(names) == 0 {
		return nil
	}
	frame, err := c.DB.SourceFrame(item.ID, names, true)
	if err != nil {
		return err
	}
	if frame.Len() < 2 {
		return nil
	}

	activeDist, activeTime := activeTotals(frame)

	l := load.New(c.DB, c.Log, load.Options{})
	ensure := func(name, units, summary string) (*store.StatisticName, error) {
		return c.DB.EnsureStatisticName(store.StatisticName{
			Name: name, Owner: ActivityCalcOwner, Constraint: journal.GroupName,
			Kind: store.StatisticFloat, Units: units, Summary: summary,
		})
	}
	add := func(name, units, summary string, value float64) error {
		sn, err := ensure(name, units, summary)
		if err != nil {
			return err
		}
		return l.Add(sn, item.ID, journal.Start, value)
	}

	if err := add("active_distance", "m", "[max],[sum],[msr]", activeDist); err != nil {
		return err
	}
	if err := add("active_time", "s", "[max],[sum]", activeTime); err != nil {
		return err
	}
	if activeTime > 0 {
		speed := activeDist / activeTime * 3.6
		if err := add("active_speed", "km/h", "[max],[avg]", speed); err != nil {
			return err
		}
	}

	if col := frame.Column("distance"); col != nil {
		mins, meds := roundDistanceTimes(frame.Times, col)
		for km, t := range mins {
			name := fmt.Sprintf("min_%.0fkm_time", km)
			if err := add(name, "s", "[min],[msr]", t); err != nil {
				return err
			}
		}
		for km, t := range meds {
			name := fmt.Sprintf("med_%.0fkm_time", km)
			if err := add(name, "s", "[min],[msr]", t); err != nil {
				return err
			}
		}
	}

	return l.Load()
}

// activeTotals sums distance and time deltas over samples within timespans,
// counting only intervals where the device moved.
func activeTotals(frame *store.Frame) (dist, dur float64) {
	distCol := frame.Column("distance")
	speedCol := frame.Column("speed")
	for i := 1; i < frame.Len(); i++ {
		if frame.TimespanID != nil {
			// Both endpoints must lie in the same recording window.
			if frame.TimespanID[i] == 0 || frame.TimespanID[i] != frame.TimespanID[i-1] {
				continue
			}
		}
		dt := frame.Times[i].Sub(frame.Times[i-1]).Seconds()
		var dd float64
		if distCol != nil && !math.IsNaN(distCol[i]) && !math.IsNaN(distCol[i-1]) {
			dd = distCol[i] - distCol[i-1]
		}
		moving := dd > 0
		if !moving && speedCol != nil && i < len(speedCol) && speedCol[i] > 0 {
			moving = true
		}
		if moving {
			dist += dd
			dur += dt
		}
	}
	return dist, dur
}

// roundDistanceTimes computes, for each round distance the activity covers,
// the minimum and median time to travel exactly that distance. The elapsed
// time series is resampled onto a uniform distance grid; the time to cover a
// target is then a fixed-width difference along the grid.
func roundDistanceTimes(times []time.Time, distance []float64) (mins, meds map[float64]float64) {
	if len(times) == 0 {
		return nil, nil
	}
	t0 := times[0]
	var xs, ys []float64
	last := math.Inf(-1)
	for i, d := range distance {
		if math.IsNaN(d) || d < last {
			continue
		}
		xs = append(xs, d)
		ys = append(ys, times[i].Sub(t0).Seconds())
		last = d
	}
	_, elapsed := series.ResampleByX(xs, ys, distanceGrid)
	if elapsed == nil {
		return nil, nil
	}

	mins = make(map[float64]float64)
	meds = make(map[float64]float64)
	for _, km := range roundDistancesKm {
		n := int(km * 1000 / distanceGrid)
		if n <= 0 || n >= len(elapsed) {
			continue
		}
		spans := make([]float64, 0, len(elapsed)-n)
		for i := 0; i+n < len(elapsed); i++ {
			spans = append(spans, elapsed[i+n]-elapsed[i])
		}
		mins[km] = series.Min(spans)
		meds[km] = series.Median(spans)
	}
	return mins, meds
}
