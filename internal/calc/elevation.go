package calc

import (
	"errors"
	"math"
	"time"

	"traindb/internal/calc/climb"
	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/series"
	"traindb/internal/store"
)

// ClimbConstant names the JSON constant overriding climb parameters.
const ClimbConstant = "Climb"

func init() {
	store.RegisterConstantSchema(ClimbConstant, []string{
		"phi", "min_elevation", "min_gradient", "max_gradient", "max_reversal",
	})
	pipeline.Register("ElevationCalculator", func() pipeline.Pipeline { return &ElevationCalculator{} })
}

// ElevationCalculator finds climbs in each activity's elevation profile and
// records per-climb statistics plus the total ascent.
type ElevationCalculator struct {
	params climb.Params
}

func (e *ElevationCalculator) Name() string  { return "ElevationCalculator" }
func (e *ElevationCalculator) Owner() string { return ElevationCalcOwner }

func (e *ElevationCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.1, Calc: 0.9} }

func (e *ElevationCalculator) Startup(c *pipeline.Context) error {
	e.params = climb.DefaultParams()
	var override struct {
		Phi          float64 `json:"phi"`
		MinElevation float64 `json:"min_elevation"`
		MinGradient  float64 `json:"min_gradient"`
		MaxGradient  float64 `json:"max_gradient"`
		MaxReversal  float64 `json:"max_reversal"`
	}
	err := c.DB.GetConstantJSON(ClimbConstant, time.Now(), &override)
	if errors.Is(err, store.ErrConstantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	e.params = climb.Params{
		Phi:          override.Phi,
		MinElevation: override.MinElevation,
		MinGradient:  override.MinGradient,
		MaxGradient:  override.MaxGradient,
		MaxReversal:  override.MaxReversal,
	}
	return nil
}

func (e *ElevationCalculator) Shutdown(c *pipeline.Context) error { return nil }

func (e *ElevationCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return MissingSources(c, ElevationCalcOwner, store.KindActivity)
}

func (e *ElevationCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := resetSource(c, ElevationCalcOwner, item.ID); err != nil {
		return err
	}
	journal, err := c.DB.GetActivityJournal(item.ID)
	if err != nil {
		return err
	}
	names, err := activityNames(c, journal.GroupName, "distance", "elevation", "srtm_elevation")
	if err != nil {
		return err
	}
	frame, err := c.DB.SourceFrame(item.ID, names, false)
	if err != nil {
		return err
	}
	distCol := frame.Column("distance")
	elevCol := frame.Column("elevation")
	if elevCol == nil {
		elevCol = frame.Column("srtm_elevation")
	}
	if distCol == nil || elevCol == nil || frame.Len() < 2 {
		return nil
	}

	// Put elevation and elapsed time on a uniform distance grid.
	t0 := frame.Times[0]
	var xs, elev, elapsed []float64
	last := math.Inf(-1)
	for i := range frame.Times {
		if math.IsNaN(distCol[i]) || math.IsNaN(elevCol[i]) || distCol[i] < last {
			continue
		}
		last = distCol[i]
		xs = append(xs, distCol[i])
		elev = append(elev, elevCol[i])
		elapsed = append(elapsed, frame.Times[i].Sub(t0).Seconds())
	}
	gridX, gridElev := series.ResampleByX(xs, elev, distanceGrid)
	_, gridTime := series.ResampleByX(xs, elapsed, distanceGrid)
	if len(gridX) < 2 {
		return nil
	}

	climbs := climb.Find(gridX, gridElev, e.params)

	l := load.New(c.DB, c.Log, load.Options{})
	add := func(name, units, summary string, t time.Time, value float64) error {
		sn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: name, Owner: ElevationCalcOwner, Constraint: journal.GroupName,
			Kind: store.StatisticFloat, Units: units, Summary: summary,
		})
		if err != nil {
			return err
		}
		return l.Add(sn, item.ID, t, value)
	}

	for _, cl := range climbs {
		finish := t0.Add(time.Duration(gridTime[cl.Finish] * float64(time.Second)))
		if err := add("climb_elevation", "m", "[max],[sum],[msr]", finish, cl.Elevation); err != nil {
			return err
		}
		if err := add("climb_distance", "m", "[max]", finish, cl.Distance); err != nil {
			return err
		}
		duration := gridTime[cl.Finish] - gridTime[cl.Start]
		if err := add("climb_time", "s", "[max]", finish, duration); err != nil {
			return err
		}
		if err := add("climb_gradient", "%", "[max]", finish, 100*cl.Gradient); err != nil {
			return err
		}
	}
	if err := add("total_climb", "m", "[max],[sum]", journal.Start, climb.TotalClimb(climbs)); err != nil {
		return err
	}
	return l.Load()
}
