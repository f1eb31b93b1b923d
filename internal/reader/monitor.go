package reader

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"traindb/internal/config"
	"traindb/internal/fitfile"
	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/store"
)

// MonitorReader imports daily wearable FIT files: spot heart rate and
// cumulative step counts. Step counts are per activity type in the file and
// summed across types here; the steps calculator later converts the
// cumulative totals to per-interval deltas.
type MonitorReader struct{}

func init() {
	pipeline.Register("MonitorReader", func() pipeline.Pipeline { return &MonitorReader{} })
}

func (r *MonitorReader) Name() string  { return "MonitorReader" }
func (r *MonitorReader) Owner() string { return MonitorOwner }

func (r *MonitorReader) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.8, Calc: 0.2} }

func (r *MonitorReader) Startup(c *pipeline.Context) error  { return nil }
func (r *MonitorReader) Shutdown(c *pipeline.Context) error { return nil }

func (r *MonitorReader) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return missingFiles(c.DB, config.ExpandPath(c.Config.Ingest.MonitorDir))
}

func (r *MonitorReader) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	err := r.importFile(c, item.Key)

	var skip *SkipFileError
	if errors.As(err, &skip) {
		c.Log.Info("skipping file", zap.String("path", item.Key), zap.String("reason", skip.Reason))
		_, hash, herr := hashFile(item.Key)
		if herr != nil {
			return herr
		}
		hashID, _, herr := c.DB.EnsureFileHash(hash)
		if herr != nil {
			return herr
		}
		return c.DB.MarkScanned(item.Key, hashID, time.Now())
	}
	return err
}

func (r *MonitorReader) importFile(c *pipeline.Context, path string) error {
	data, hash, err := hashFile(path)
	if err != nil {
		return err
	}
	hashID, existed, err := c.DB.EnsureFileHash(hash)
	if err != nil {
		return err
	}
	if existed {
		seen, err := c.DB.HashSeen(hashID)
		if err != nil {
			return err
		}
		if seen {
			return &SkipFileError{Path: path, Reason: "duplicate content"}
		}
	}

	f, err := fitfile.Decode(data, fitfile.Options{Filters: fitfile.StandardFilters()})
	var malformed *fitfile.MalformedFileError
	if errors.As(err, &malformed) {
		return &SkipFileError{Path: path, Reason: err.Error()}
	}
	if err != nil {
		return err
	}

	start, finish, ok := monitorSpan(f)
	if !ok {
		return &SkipFileError{Path: path, Reason: "no timestamped monitoring records"}
	}

	// Devices resend data across daily files. A new file that wholly
	// contains an old journal supersedes it; partial overlap is ambiguous
	// and the file is left for a later run.
	overlaps, err := c.DB.OverlappingMonitorJournals(start, finish)
	if err != nil {
		return err
	}
	for _, o := range overlaps {
		if !o.Start.Before(start) && !o.Finish.After(finish) {
			c.Log.Warn("replacing contained monitor journal",
				zap.Int64("source", o.SourceID), zap.Time("start", o.Start))
			if err := c.DB.DeleteSource(o.SourceID); err != nil {
				return err
			}
			continue
		}
		return &AbortImportError{Path: path,
			Reason: fmt.Sprintf("partially overlaps monitor journal %d", o.SourceID)}
	}

	monitorID, err := c.DB.AddMonitorJournal(hashID, start, finish)
	if err != nil {
		return err
	}
	if err := r.loadRecords(c, f, monitorID); err != nil {
		return err
	}
	if err := c.DB.MarkScanned(path, hashID, time.Now()); err != nil {
		return err
	}
	c.Log.Info("imported monitor file",
		zap.String("path", path), zap.Time("start", start), zap.Int64("source", monitorID))
	return nil
}

func monitorSpan(f *fitfile.File) (start, finish time.Time, ok bool) {
	for _, rec := range f.Records {
		if rec.Name != "monitoring" || !rec.HasTime {
			continue
		}
		if !ok || rec.Time.Before(start) {
			start = rec.Time
		}
		if !ok || rec.Time.After(finish) {
			finish = rec.Time
		}
		ok = true
	}
	if ok {
		finish = finish.Add(time.Second)
	}
	return start, finish, ok
}

func (r *MonitorReader) loadRecords(c *pipeline.Context, f *fitfile.File, monitorID int64) error {
	hrName, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "heart_rate", Owner: MonitorOwner, Kind: store.StatisticInt, Units: "bpm",
	})
	if err != nil {
		return err
	}
	stepsName, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "cumulative_steps", Owner: MonitorOwner, Kind: store.StatisticInt, Units: "steps",
	})
	if err != nil {
		return err
	}

	// Duplicate timestamps keep the larger value: cumulative counters only
	// grow, and repeated heart rates are identical.
	l := load.New(c.DB, c.Log, load.Options{Resolve: load.MaxResolver})

	// Steps arrive per activity type; sum them per timestamp.
	stepsAt := make(map[int64]int64)
	var stepTimes []time.Time
	for _, rec := range f.Records {
		if rec.Name != "monitoring" || !rec.HasTime {
			continue
		}
		if v, ok := rec.Field("heart_rate"); ok {
			if hr, ok := v.Float(); ok && fitfile.PlausibleHeartRate(hr) {
				if err := l.Add(hrName, monitorID, rec.Time, int64(hr)); err != nil {
					return err
				}
			}
		}
		if v, ok := rec.Field("steps"); ok {
			if steps, ok := v.Float(); ok {
				u := rec.Time.Unix()
				if _, seen := stepsAt[u]; !seen {
					stepTimes = append(stepTimes, rec.Time)
				}
				stepsAt[u] += int64(steps)
			}
		}
	}
	for _, t := range stepTimes {
		if err := l.Add(stepsName, monitorID, t, stepsAt[t.Unix()]); err != nil {
			return err
		}
	}

	return l.Load()
}
