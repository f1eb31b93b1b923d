package reader

import (
	"errors"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"traindb/internal/config"
	"traindb/internal/fitfile"
	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/store"
)

// waypointFields maps FIT record fields to the statistics loaded for every
// waypoint. Latitude and longitude also produce projected x/y columns.
var waypointFields = []struct {
	field string
	name  string
	units string
	kind  store.StatisticKind
}{
	{"heart_rate", "heart_rate", "bpm", store.StatisticInt},
	{"distance", "distance", "m", store.StatisticFloat},
	{"speed", "speed", "m/s", store.StatisticFloat},
	{"altitude", "elevation", "m", store.StatisticFloat},
	{"cadence", "cadence", "rpm", store.StatisticInt},
	{"power", "power", "w", store.StatisticInt},
	{"position_lat", "latitude", "deg", store.StatisticFloat},
	{"position_long", "longitude", "deg", store.StatisticFloat},
}

// ActivityReader imports workout FIT files: one activity journal per file,
// timespans from timer events, and a statistic per waypoint field.
type ActivityReader struct {
	sportToGroup map[string]string
	kit          []string
	oracle       *ElevationOracle
}

func init() {
	pipeline.Register("ActivityReader", func() pipeline.Pipeline { return &ActivityReader{} })
}

func (r *ActivityReader) Name() string  { return "ActivityReader" }
func (r *ActivityReader) Owner() string { return ActivityOwner }

// Cost reflects that imports are write-heavy; activity files never run in
// parallel against the single-writer store.
func (r *ActivityReader) Cost() pipeline.Cost { return pipeline.Cost{Write: 0.7, Calc: 0.3} }

func (r *ActivityReader) Startup(c *pipeline.Context) error {
	err := c.DB.GetConstantJSON(SportToGroupConstant, time.Now(), &r.sportToGroup)
	if err != nil && !errors.Is(err, store.ErrConstantNotFound) {
		return err
	}
	if err := c.DB.GetConstantJSON(KitConstant, time.Now(), &r.kit); err != nil &&
		!errors.Is(err, store.ErrConstantNotFound) {
		return err
	}
	if dir := c.Config.Elevation.SRTMDir; dir != "" {
		r.oracle = NewElevationOracle(config.ExpandPath(dir))
	}
	return nil
}

func (r *ActivityReader) Shutdown(c *pipeline.Context) error { return nil }

func (r *ActivityReader) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	return missingFiles(c.DB, config.ExpandPath(c.Config.Ingest.ActivityDir))
}

func (r *ActivityReader) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	err := r.importFile(c, item.Key)

	var skip *SkipFileError
	if errors.As(err, &skip) {
		c.Log.Info("skipping file", zap.String("path", item.Key), zap.String("reason", skip.Reason))
		return r.markScanned(c, item.Key)
	}
	return err
}

func (r *ActivityReader) markScanned(c *pipeline.Context, path string) error {
	_, hash, err := hashFile(path)
	if err != nil {
		return err
	}
	hashID, _, err := c.DB.EnsureFileHash(hash)
	if err != nil {
		return err
	}
	return c.DB.MarkScanned(path, hashID, time.Now())
}

func (r *ActivityReader) importFile(c *pipeline.Context, path string) error {
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
	for _, w := range f.Warnings {
		c.Log.Debug("decode warning", zap.String("path", path), zap.String("warning", w))
	}

	sport := fileSport(f)
	if sport == "" {
		return &SkipFileError{Path: path, Reason: "no sport message"}
	}
	group, ok := r.sportToGroup[sport]
	if !ok {
		return pipeline.Fatal(fmt.Errorf(
			"no activity group for sport %q: set the %s constant", sport, SportToGroupConstant))
	}
	groupID, err := c.DB.EnsureActivityGroup(group, "")
	if err != nil {
		return err
	}

	start, finish, ok := recordSpan(f)
	if !ok {
		return &SkipFileError{Path: path, Reason: "no timestamped records"}
	}

	overlaps, err := c.DB.OverlappingActivities(groupID, start, finish)
	if err != nil {
		return err
	}
	if len(overlaps) > 0 && !c.Force {
		return &AbortImportError{Path: path,
			Reason: fmt.Sprintf("overlaps %d existing activities (use force to replace)", len(overlaps))}
	}
	for _, o := range overlaps {
		c.Log.Warn("replacing overlapping activity",
			zap.Int64("source", o.SourceID), zap.Time("start", o.Start))
		if err := c.DB.DeleteSource(o.SourceID); err != nil {
			return err
		}
	}

	activityID, err := c.DB.AddActivityJournal(groupID, hashID, start, finish)
	if err != nil {
		return err
	}
	if err := r.addTimespans(c, f, activityID, start, finish); err != nil {
		return err
	}
	if err := r.loadWaypoints(c, f, activityID, hashID, group, path, start); err != nil {
		return err
	}

	if err := c.DB.MarkScanned(path, hashID, time.Now()); err != nil {
		return err
	}
	c.Log.Info("imported activity",
		zap.String("path", path), zap.String("group", group),
		zap.Time("start", start), zap.Int64("source", activityID))
	return nil
}

// fileSport returns the sport from the sport or session message.
func fileSport(f *fitfile.File) string {
	for _, rec := range f.Records {
		if rec.Name != "sport" && rec.Name != "session" {
			continue
		}
		if v, ok := rec.Field("sport"); ok {
			if s, ok := v.Scalar().(string); ok {
				return s
			}
		}
	}
	return ""
}

// recordSpan returns the time range covered by record messages.
func recordSpan(f *fitfile.File) (start, finish time.Time, ok bool) {
	for _, rec := range f.Records {
		if rec.Name != "record" || !rec.HasTime {
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
	// The span is half-open so a single-record file still has extent.
	if ok {
		finish = finish.Add(time.Second)
	}
	return start, finish, ok
}

// addTimespans records the timer start/stop windows. A file with no timer
// events gets a single span covering all records.
func (r *ActivityReader) addTimespans(c *pipeline.Context, f *fitfile.File, activityID int64, start, finish time.Time) error {
	var spanStart time.Time
	open := false
	n := 0
	for _, rec := range f.Records {
		if rec.Name != "event" || !rec.HasTime {
			continue
		}
		ev, _ := rec.Field("event")
		if s, _ := ev.Scalar().(string); s != "timer" {
			continue
		}
		et, _ := rec.Field("event_type")
		switch s, _ := et.Scalar().(string); s {
		case "start":
			if !open {
				spanStart = rec.Time
				open = true
			}
		case "stop", "stop_all":
			if open {
				if _, err := c.DB.AddActivityTimespan(activityID, spanStart, rec.Time); err != nil {
					return err
				}
				n++
				open = false
			}
		}
	}
	if open {
		if _, err := c.DB.AddActivityTimespan(activityID, spanStart, finish); err != nil {
			return err
		}
		n++
	}
	if n == 0 {
		// Some devices never emit timer events; treat the whole recording
		// as active.
		if _, err := c.DB.AddActivityTimespan(activityID, start, finish); err != nil {
			return err
		}
	}
	return nil
}

func (r *ActivityReader) loadWaypoints(c *pipeline.Context, f *fitfile.File, activityID, hashID int64, group, path string, start time.Time) error {
	names := make(map[string]*store.StatisticName)
	ensure := func(name, units string, kind store.StatisticKind) (*store.StatisticName, error) {
		if n, ok := names[name]; ok {
			return n, nil
		}
		n, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: name, Owner: ActivityOwner, Constraint: group, Kind: kind, Units: units,
		})
		if err == nil {
			names[name] = n
		}
		return n, err
	}

	l := load.New(c.DB, c.Log, load.Options{AddSerial: true})

	title, kit := splitFilename(path, r.kit)
	topicID, err := c.DB.EnsureTopic(hashID, start)
	if err != nil {
		return err
	}
	nameStat, err := c.DB.EnsureStatisticName(store.StatisticName{
		Name: "name", Owner: TopicOwner, Kind: store.StatisticText,
	})
	if err != nil {
		return err
	}
	// A name set by the user (or a previous import) wins over the filename.
	named, err := c.DB.HasStatistic(nameStat.ID, topicID)
	if err != nil {
		return err
	}
	if !named {
		if err := l.Add(nameStat, topicID, start, title); err != nil {
			return err
		}
	}
	if len(kit) > 0 {
		kitStat, err := ensure("kit", "", store.StatisticText)
		if err != nil {
			return err
		}
		if err := l.Add(kitStat, activityID, start, strings.Join(kit, ",")); err != nil {
			return err
		}
	}

	for _, rec := range f.Records {
		if rec.Name != "record" || !rec.HasTime {
			continue
		}
		var lat, lon = math.NaN(), math.NaN()
		for _, wf := range waypointFields {
			v, ok := rec.Field(wf.field)
			if !ok {
				continue
			}
			fv, ok := v.Float()
			if !ok {
				continue
			}
			if wf.field == "heart_rate" && !fitfile.PlausibleHeartRate(fv) {
				continue
			}
			sn, err := ensure(wf.name, wf.units, wf.kind)
			if err != nil {
				return err
			}
			if err := l.Add(sn, activityID, rec.Time, v.Scalar()); err != nil {
				return err
			}
			switch wf.field {
			case "position_lat":
				lat = fv
			case "position_long":
				lon = fv
			}
		}
		if !math.IsNaN(lat) && !math.IsNaN(lon) {
			x, y := mercator(lon, lat)
			xn, err := ensure("x", "m", store.StatisticFloat)
			if err != nil {
				return err
			}
			yn, err := ensure("y", "m", store.StatisticFloat)
			if err != nil {
				return err
			}
			if err := l.Add(xn, activityID, rec.Time, x); err != nil {
				return err
			}
			if err := l.Add(yn, activityID, rec.Time, y); err != nil {
				return err
			}
			if _, hasAlt := rec.Field("altitude"); !hasAlt && r.oracle != nil {
				if elev, ok := r.oracle.Elevation(lat, lon); ok {
					en, err := ensure("srtm_elevation", "m", store.StatisticFloat)
					if err != nil {
						return err
					}
					if err := l.Add(en, activityID, rec.Time, elev); err != nil {
						return err
					}
				}
			}
		}
	}

	if err := l.Load(); err != nil {
		return err
	}

	spans, err := c.DB.ActivityTimespans(activityID)
	if err != nil {
		return err
	}

	// Coverage is loaded against the activity start, one value per field.
	// A separate loader because these rows step back to the start time.
	cov := load.New(c.DB, c.Log, load.Options{})
	for name, pct := range l.CoveragePercentages(spans) {
		if name == "name" || name == "kit" {
			continue
		}
		cn, err := ensure("coverage_% "+name, "%", store.StatisticFloat)
		if err != nil {
			return err
		}
		if err := cov.Add(cn, activityID, start, pct); err != nil {
			return err
		}
	}
	return cov.Load()
}

// splitFilename derives the activity title from the file stem. Segments that
// name known kit are split off, e.g. "2024-03-01-ride-cotic.fit" with kit
// ["cotic"] titles the activity "2024-03-01-ride" and tags "cotic".
func splitFilename(path string, knownKit []string) (title string, kit []string) {
	stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	segments := strings.Split(stem, "-")
	var keep []string
	for _, seg := range segments {
		matched := false
		for _, k := range knownKit {
			if strings.EqualFold(seg, k) {
				kit = append(kit, k)
				matched = true
				break
			}
		}
		if !matched {
			keep = append(keep, seg)
		}
	}
	return strings.Join(keep, "-"), kit
}

const earthRadius = 6378137.0

// mercator projects WGS84 degrees to Spherical Mercator metres.
func mercator(lon, lat float64) (x, y float64) {
	x = earthRadius * lon * math.Pi / 180
	y = earthRadius * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}
