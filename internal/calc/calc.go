// Package calc derives statistics from raw activity and monitor data: active
// distance and speed, round-distance times, heart-rate zones, rolling-window
// maxima, elevation and climbs, daily steps, and interval summaries.
package calc

import (
	"errors"
	"time"

	"traindb/internal/pipeline"
	"traindb/internal/reader"
	"traindb/internal/store"
)

// Owner names for the calculators in this package.
const (
	ActivityCalcOwner  = "ActivityCalculator"
	ZoneCalcOwner      = "ZoneCalculator"
	MaxWindowCalcOwner = "MaxWindowCalculator"
	ElevationCalcOwner = "ElevationCalculator"
	StepsCalcOwner     = "StepsCalculator"
	SummaryCalcOwner   = "SummaryCalculator"
)

var allTime = struct{ start, finish time.Time }{
	time.Unix(0, 0).UTC(), time.Unix(1<<40, 0).UTC(),
}

// MissingSources lists sources of a kind without a completion timestamp for
// owner, in time order. With force, everything is listed.
func MissingSources(c *pipeline.Context, owner string, kind store.SourceKind) ([]pipeline.WorkItem, error) {
	sources, err := c.DB.SourcesBetween(kind, allTime.start, allTime.finish)
	if err != nil {
		return nil, err
	}
	done, err := c.DB.TimestampedKeys(owner, "")
	if err != nil {
		return nil, err
	}
	var items []pipeline.WorkItem
	for _, src := range sources {
		if c.Force || !done[src.ID] {
			items = append(items, pipeline.WorkItem{ID: src.ID, Time: src.Time})
		}
	}
	return items, nil
}

// resetSource removes any prior output so a re-run starts clean. Harmless on
// first run.
func resetSource(c *pipeline.Context, owner string, sourceID int64) error {
	return c.DB.DeleteStatisticsByOwner(sourceID, owner)
}

// activityNames resolves raw statistic names for an activity's group,
// skipping names never loaded for that group.
func activityNames(c *pipeline.Context, group string, names ...string) ([]store.StatisticName, error) {
	var out []store.StatisticName
	for _, name := range names {
		n, err := c.DB.GetStatisticName(name, reader.ActivityOwner, group)
		if errors.Is(err, store.ErrNameNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, *n)
	}
	return out, nil
}

// deltas returns consecutive differences with NaNs skipped; out[i] pairs with
// times[i+1].
func deltas(values []float64) []float64 {
	if len(values) < 2 {
		return nil
	}
	out := make([]float64, len(values)-1)
	for i := 1; i < len(values); i++ {
		out[i-1] = values[i] - values[i-1]
	}
	return out
}
