package calc

import (
	"errors"

	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/reader"
	"traindb/internal/store"
)

// StepsCalculator converts the cumulative step counters loaded by the
// monitor reader into per-sample deltas. Counters reset (typically at
// midnight); a decrease starts a new count, so the sample after a reset
// contributes its full value.
type StepsCalculator struct{}

func init() {
	pipeline.Register("StepsCalculator", func() pipeline.Pipeline { return &StepsCalculator{} })
}

func (s *StepsCalculator) Name() string  { return "StepsCalculator" }
func (s *StepsCalculator) Owner() string { return StepsCalcOwner }

func (s *StepsCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.5, Calc: 0.5} }

func (s *StepsCalculator) Startup(c *pipeline.Context) error  { return nil }
func (s *StepsCalculator) Shutdown(c *pipeline.Context) error { return nil }

func (s *StepsCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return MissingSources(c, StepsCalcOwner, store.KindMonitor)
}

func (s *StepsCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := resetSource(c, StepsCalcOwner, item.ID); err != nil {
		return err
	}
	cumulative, err := c.DB.GetStatisticName("cumulative_steps", reader.MonitorOwner, "")
	if errors.Is(err, store.ErrNameNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	values, err := c.DB.ValuesBySourceAndOwner(item.ID, reader.MonitorOwner)
	if err != nil {
		return err
	}

	stepsName, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "steps", Owner: StepsCalcOwner, Kind: store.StatisticInt,
		Units: "steps", Summary: "[sum]",
	})
	if err != nil {
		return err
	}

	l := load.New(c.DB, c.Log, load.Options{})
	prev := int64(0)
	first := true
	for _, v := range values {
		if v.NameID != cumulative.ID {
			continue
		}
		cur := v.Int
		var delta int64
		switch {
		case first:
			delta = cur
			first = false
		case cur >= prev:
			delta = cur - prev
		default:
			// Counter reset.
			delta = cur
		}
		prev = cur
		if err := l.Add(stepsName, item.ID, v.Time, delta); err != nil {
			return err
		}
	}
	return l.Load()
}
