package calc

import (
	"fmt"
	"sort"
	"time"

	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/store"
)

// Schedules for summary intervals.
const (
	ScheduleMonth = "m"
	ScheduleYear  = "y"
)

// SummaryCalculator aggregates statistics over month and year intervals. A
// statistic opts in by carrying summary tags ([max], [min], [avg], [sum],
// [cnt], [msr]); one derived value per tag is written against the interval
// source. Intervals dirtied by new or deleted data are recomputed.
type SummaryCalculator struct {
	Schedule string
}

func init() {
	pipeline.Register("SummaryCalculatorMonth", func() pipeline.Pipeline {
		return &SummaryCalculator{Schedule: ScheduleMonth}
	})
	pipeline.Register("SummaryCalculatorYear", func() pipeline.Pipeline {
		return &SummaryCalculator{Schedule: ScheduleYear}
	})
}

func (s *SummaryCalculator) Name() string {
	return "SummaryCalculator " + s.Schedule
}

// Owner includes the schedule so month and year summaries are tracked
// independently.
func (s *SummaryCalculator) Owner() string { return SummaryCalcOwner + " " + s.Schedule }

func (s *SummaryCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.3, Calc: 0.7} }

func (s *SummaryCalculator) Startup(c *pipeline.Context) error {
	return s.ensureIntervals(c)
}

func (s *SummaryCalculator) Shutdown(c *pipeline.Context) error { return nil }

// ensureIntervals creates interval rows covering every activity and monitor
// source time.
func (s *SummaryCalculator) ensureIntervals(c *pipeline.Context) error {
	var earliest, latest time.Time
	any := false
	for _, kind := range []store.SourceKind{store.KindActivity, store.KindMonitor} {
		sources, err := c.DB.SourcesBetween(kind, allTime.start, allTime.finish)
		if err != nil {
			return err
		}
		for _, src := range sources {
			if !any || src.Time.Before(earliest) {
				earliest = src.Time
			}
			if !any || src.Time.After(latest) {
				latest = src.Time
			}
			any = true
		}
	}
	if !any {
		return nil
	}

	existing, err := c.DB.Intervals(s.Schedule, s.Owner())
	if err != nil {
		return err
	}
	have := make(map[int64]bool, len(existing))
	for _, iv := range existing {
		have[iv.Start.Unix()] = true
	}

	for start := s.truncate(earliest); !start.After(latest); {
		finish := s.next(start)
		if !have[start.Unix()] {
			if _, err := c.DB.AddInterval(s.Schedule, s.Owner(), start, finish); err != nil {
				return err
			}
		}
		start = finish
	}
	return nil
}

func (s *SummaryCalculator) truncate(t time.Time) time.Time {
	t = t.UTC()
	if s.Schedule == ScheduleYear {
		return time.Date(t.Year(), 1, 1, 0, 0, 0, 0, time.UTC)
	}
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}

func (s *SummaryCalculator) next(t time.Time) time.Time {
	if s.Schedule == ScheduleYear {
		return t.AddDate(1, 0, 0)
	}
	return t.AddDate(0, 1, 0)
}

// Missing lists intervals that are dirty or have never been summarised.
func (s *SummaryCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	intervals, err := c.DB.Intervals(s.Schedule, s.Owner())
	if err != nil {
		return nil, err
	}
	done, err := c.DB.TimestampedKeys(s.Owner(), "")
	if err != nil {
		return nil, err
	}
	var items []pipeline.WorkItem
	for _, iv := range intervals {
		if c.Force || iv.Dirty || !done[iv.SourceID] {
			items = append(items, pipeline.WorkItem{ID: iv.SourceID, Time: iv.Start})
		}
	}
	return items, nil
}

func (s *SummaryCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	if err := resetSource(c, s.Owner(), item.ID); err != nil {
		return err
	}
	intervals, err := c.DB.Intervals(s.Schedule, s.Owner())
	if err != nil {
		return err
	}
	var interval *store.Interval
	for i := range intervals {
		if intervals[i].SourceID == item.ID {
			interval = &intervals[i]
			break
		}
	}
	if interval == nil {
		return fmt.Errorf("interval source %d not found", item.ID)
	}

	names, err := c.DB.StatisticNamesWithSummaries()
	if err != nil {
		return err
	}

	l := load.New(c.DB, c.Log, load.Options{NoDirty: true})
	for _, name := range names {
		// Never summarise summary output.
		if name.Owner == s.Owner() {
			continue
		}
		values, err := c.DB.ValuesBetween(name.ID, interval.Start, interval.Finish)
		if err != nil {
			return err
		}
		if len(values) == 0 {
			continue
		}
		if err := s.summarise(c, l, item.ID, interval, name, values); err != nil {
			return err
		}
	}
	if err := l.Load(); err != nil {
		return err
	}
	return c.DB.CleanInterval(item.ID)
}

func (s *SummaryCalculator) summarise(c *pipeline.Context, l *load.Loader, intervalID int64,
	interval *store.Interval, name store.StatisticName, values []store.TimedValue) error {

	add := func(prefix, summary string, t time.Time, value float64) error {
		sn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: fmt.Sprintf("%s_%s", prefix, name.Name), Owner: s.Owner(),
			Constraint: name.Constraint, Kind: store.StatisticFloat,
			Units: name.Units, Summary: summary,
		})
		if err != nil {
			return err
		}
		return l.Add(sn, intervalID, t, value)
	}

	for _, tag := range name.SummaryTags() {
		switch tag {
		case "max":
			best := values[0]
			for _, v := range values[1:] {
				if v.Value > best.Value {
					best = v
				}
			}
			if err := add("max", "", best.Time, best.Value); err != nil {
				return err
			}
		case "min":
			best := values[0]
			for _, v := range values[1:] {
				if v.Value < best.Value {
					best = v
				}
			}
			if err := add("min", "", best.Time, best.Value); err != nil {
				return err
			}
		case "avg":
			var sum float64
			for _, v := range values {
				sum += v.Value
			}
			if err := add("avg", "", interval.Start, sum/float64(len(values))); err != nil {
				return err
			}
		case "sum":
			var sum float64
			for _, v := range values {
				sum += v.Value
			}
			if err := add("sum", "", interval.Start, sum); err != nil {
				return err
			}
		case "cnt":
			if err := add("cnt", "", interval.Start, float64(len(values))); err != nil {
				return err
			}
		case "msr":
			if err := s.measure(c, l, intervalID, name, values); err != nil {
				return err
			}
		}
	}
	return nil
}

// measure records each value's rank (1 = best, descending by value) and
// percentile within the interval.
func (s *SummaryCalculator) measure(c *pipeline.Context, l *load.Loader, intervalID int64,
	name store.StatisticName, values []store.TimedValue) error {

	ordered := append([]store.TimedValue(nil), values...)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Value > ordered[j].Value })

	rankName, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "rank_" + name.Name, Owner: s.Owner(), Constraint: name.Constraint,
		Kind: store.StatisticInt,
	})
	if err != nil {
		return err
	}
	pctName, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "percentile_" + name.Name, Owner: s.Owner(), Constraint: name.Constraint,
		Kind: store.StatisticFloat, Units: "%",
	})
	if err != nil {
		return err
	}

	n := len(ordered)
	for i, v := range ordered {
		if err := l.Add(rankName, intervalID, v.Time, int64(i+1)); err != nil {
			return err
		}
		percentile := 100 * float64(n-i) / float64(n)
		if err := l.Add(pctName, intervalID, v.Time, percentile); err != nil {
			return err
		}
	}
	return nil
}
