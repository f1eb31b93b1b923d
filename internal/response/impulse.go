package response

import (
	"errors"
	"time"

	"traindb/internal/calc"
	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/reader"
	"traindb/internal/series"
	"traindb/internal/store"
)

// impulseStep is the sampling interval for hr_impulse, seconds.
const impulseStep = 10.0

func init() {
	store.RegisterConstantSchema(HRImpulseConstant, []string{"gamma", "zero", "n_zones"})
	pipeline.Register("ImpulseCalculator", func() pipeline.Pipeline { return &ImpulseCalculator{} })
}

// ImpulseCalculator emits hr_impulse per 10 s sample for each activity. The
// response model later sums these into hourly bins.
type ImpulseCalculator struct {
	params ImpulseParams
}

func (i *ImpulseCalculator) Name() string  { return "ImpulseCalculator" }
func (i *ImpulseCalculator) Owner() string { return ImpulseOwner }

func (i *ImpulseCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.3, Calc: 0.7} }

func (i *ImpulseCalculator) Startup(c *pipeline.Context) error {
	i.params = DefaultImpulseParams()
	var override ImpulseParams
	err := c.DB.GetConstantJSON(HRImpulseConstant, time.Now(), &override)
	if errors.Is(err, store.ErrConstantNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	i.params = override
	return nil
}

func (i *ImpulseCalculator) Shutdown(c *pipeline.Context) error { return nil }

func (i *ImpulseCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return calc.MissingSources(c, ImpulseOwner, store.KindActivity)
}

func (i *ImpulseCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := c.DB.DeleteStatisticsByOwner(item.ID, ImpulseOwner); err != nil {
		return err
	}
	journal, err := c.DB.GetActivityJournal(item.ID)
	if err != nil {
		return err
	}
	hr, err := c.DB.GetStatisticName("heart_rate", reader.ActivityOwner, journal.GroupName)
	if errors.Is(err, store.ErrNameNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	frame, err := c.DB.SourceFrame(item.ID, []store.StatisticName{*hr}, false)
	if err != nil {
		return err
	}
	points := series.FromTimes(frame.Times, frame.Column("heart_rate"))
	resampled := series.Resample(points, impulseStep)
	if len(resampled) == 0 {
		return nil
	}

	sn, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "hr_impulse", Owner: ImpulseOwner, Constraint: journal.GroupName,
		Kind: store.StatisticFloat, Summary: "[sum]",
	})
	if err != nil {
		return err
	}

	threshold := c.Config.Athlete.ThresholdHR
	t0 := frame.Times[0]
	l := load.New(c.DB, c.Log, load.Options{})
	for _, p := range resampled {
		zone := calc.Zone(p.V, threshold)
		at := t0.Add(time.Duration(p.T * float64(time.Second)))
		if err := l.Add(sn, item.ID, at, Impulse(zone, i.params)); err != nil {
			return err
		}
	}
	return l.Load()
}
