// Package load stages statistic values in memory and flushes them to the
// store as a single transaction. Concurrent loaders (one per worker process)
// are serialised by a dummy journal row; see Loader.Load.
package load

import (
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"traindb/internal/store"
)

// dummyName is the reserved statistic name whose NULL-source row serialises
// loaders. At most one such row exists at a time.
const (
	dummyName  = "loader dummy"
	dummyOwner = "Loader"
)

// LoadContentionError is returned when the dummy row could not be acquired
// within the configured attempts.
type LoadContentionError struct {
	Attempts int
}

func (e *LoadContentionError) Error() string {
	return fmt.Sprintf("load contention: gave up after %d attempts", e.Attempts)
}

// TimeTravelError is returned when a loaded time goes backwards. Always fatal
// to the current transaction.
type TimeTravelError struct {
	Last, New time.Time
}

func (e *TimeTravelError) Error() string {
	return fmt.Sprintf("time travel: %v after %v", e.New, e.Last)
}

// Resolver merges two values staged for the same (name, source, time).
// Returning the new value is the default policy.
type Resolver func(old, new any) any

// Options configures a Loader.
type Options struct {
	// AddSerial assigns serials that disambiguate same-timestamp rows and
	// enforces non-decreasing times.
	AddSerial bool
	// Resolve handles in-batch duplicates; nil means the later value wins.
	Resolve Resolver
	// Attempts bounds dummy-row acquisition; 0 means 100.
	Attempts int
	// Backoff is the initial retry sleep; 0 means 100ms. Doubles per retry,
	// capped at 2s.
	Backoff time.Duration
	// NoDirty skips marking intervals dirty after the flush. Set by the
	// summary calculators, whose writes target interval sources and must
	// not re-invalidate the intervals they just computed.
	NoDirty bool
}

type stagedRow struct {
	name     *store.StatisticName
	sourceID int64
	time     time.Time
	serial   *int64
	value    any
}

// Loader accumulates rows for one unit of work.
type Loader struct {
	db   *store.Store
	log  *zap.Logger
	opts Options

	rows  []stagedRow
	index map[rowKey]int

	lastTime time.Time
	serial   int64
	started  bool

	times    map[string][]time.Time
	minTime  time.Time
	maxTime  time.Time
	anyTimes bool
}

type rowKey struct {
	nameID   int64
	sourceID int64
	unix     int64
}

// New creates a Loader.
func New(db *store.Store, log *zap.Logger, opts Options) *Loader {
	if opts.Attempts == 0 {
		opts.Attempts = 100
	}
	if opts.Backoff == 0 {
		opts.Backoff = 100 * time.Millisecond
	}
	return &Loader{
		db:     db,
		log:    log,
		opts:   opts,
		index: make(map[rowKey]int),
		times: make(map[string][]time.Time),
	}
}

// Add stages one value. With AddSerial, times must be non-decreasing;
// a time going backwards is a fatal TimeTravelError.
func (l *Loader) Add(name *store.StatisticName, sourceID int64, t time.Time, value any) error {
	value, err := coerce(name, value)
	if err != nil {
		return err
	}

	var serial *int64
	if l.opts.AddSerial {
		switch {
		case !l.started:
			l.started = true
			l.lastTime = t
			l.serial = 0
		case t.After(l.lastTime):
			l.lastTime = t
			l.serial = 0
		case t.Before(l.lastTime):
			return &TimeTravelError{Last: l.lastTime, New: t}
		default:
			l.serial++
		}
		s := l.serial
		serial = &s
	}

	key := rowKey{nameID: name.ID, sourceID: sourceID, unix: t.Unix()}
	if i, dup := l.index[key]; dup {
		old := l.rows[i].value
		if l.opts.Resolve != nil {
			l.rows[i].value = l.opts.Resolve(old, value)
		} else {
			l.rows[i].value = value
		}
		// A resolved duplicate does not advance the serial sequence, so
		// undo the increment above.
		if l.opts.AddSerial && l.serial > 0 {
			l.serial--
		}
		return nil
	}

	l.index[key] = len(l.rows)
	l.rows = append(l.rows, stagedRow{
		name: name, sourceID: sourceID, time: t, serial: serial, value: value,
	})
	l.times[name.Name] = append(l.times[name.Name], t)
	if !l.anyTimes || t.Before(l.minTime) {
		l.minTime = t
	}
	if !l.anyTimes || t.After(l.maxTime) {
		l.maxTime = t
	}
	l.anyTimes = true
	return nil
}

// Len returns the number of staged rows.
func (l *Loader) Len() int { return len(l.rows) }

// Load flushes the staged rows:
//
//  1. Acquire the dummy row, retrying with exponential backoff.
//  2. Assign monotonic ids from dummy_id + 1.
//  3. Bulk-insert grouped by value-type table.
//  4. Delete the dummy and commit.
//  5. On any error, roll back; the dummy is never left behind.
//
// After a successful flush, intervals covering any loaded time are marked
// dirty.
func (l *Loader) Load() error {
	if len(l.rows) == 0 {
		return nil
	}

	dummyID, err := l.acquireDummy()
	if err != nil {
		return err
	}

	if err := l.flush(dummyID); err != nil {
		l.releaseDummy(dummyID)
		return err
	}

	if !l.opts.NoDirty {
		if err := l.db.MarkIntervalsDirty(l.minTime, l.maxTime); err != nil {
			return fmt.Errorf("marking intervals dirty: %w", err)
		}
	}

	l.rows = nil
	l.index = make(map[rowKey]int)
	return nil
}

func (l *Loader) acquireDummy() (int64, error) {
	name, err := l.db.EnsureStatisticName(store.StatisticName{
		Name: dummyName, Owner: dummyOwner, Kind: store.StatisticInt,
	})
	if err != nil {
		return 0, err
	}

	backoff := l.opts.Backoff
	for attempt := 1; attempt <= l.opts.Attempts; attempt++ {
		res, err := l.db.DB().Exec(
			`INSERT INTO statistic_journal (name_id, source_id, time, kind) VALUES (?, NULL, 0, ?)`,
			name.ID, int(store.StatisticInt))
		if err == nil {
			return res.LastInsertId()
		}
		l.log.Debug("loader dummy contention",
			zap.Int("attempt", attempt), zap.Duration("backoff", backoff))
		time.Sleep(backoff)
		backoff *= 2
		if backoff > 2*time.Second {
			backoff = 2 * time.Second
		}
	}
	return 0, &LoadContentionError{Attempts: l.opts.Attempts}
}

func (l *Loader) releaseDummy(dummyID int64) {
	if _, err := l.db.DB().Exec(`DELETE FROM statistic_journal WHERE id = ?`, dummyID); err != nil {
		l.log.Error("failed to release loader dummy", zap.Int64("id", dummyID), zap.Error(err))
	}
}

func (l *Loader) flush(dummyID int64) error {
	tx, err := l.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id := dummyID
	for _, row := range l.rows {
		id++
		if _, err := tx.Exec(
			`INSERT INTO statistic_journal (id, name_id, source_id, time, serial, kind) VALUES (?, ?, ?, ?, ?, ?)`,
			id, row.name.ID, row.sourceID, row.time.UTC().Unix(), row.serial, int(row.name.Kind)); err != nil {
			return fmt.Errorf("inserting journal row for %q: %w", row.name.Name, err)
		}
		var table string
		var value any
		switch row.name.Kind {
		case store.StatisticInt:
			table, value = "statistic_journal_int", row.value
		case store.StatisticFloat:
			table, value = "statistic_journal_float", row.value
		case store.StatisticText:
			table, value = "statistic_journal_text", row.value
		case store.StatisticTimestamp:
			table, value = "statistic_journal_timestamp", row.value.(time.Time).UTC().Unix()
		}
		if _, err := tx.Exec(
			`INSERT INTO `+table+` (id, value) VALUES (?, ?)`, id, value); err != nil {
			return fmt.Errorf("inserting %s value for %q: %w", table, row.name.Name, err)
		}
	}

	if _, err := tx.Exec(`DELETE FROM statistic_journal WHERE id = ?`, dummyID); err != nil {
		return fmt.Errorf("deleting dummy: %w", err)
	}
	return tx.Commit()
}

// CoveragePercentages returns, per statistic name, the percentage of time in
// the given timespans for which a value was loaded. A sample covers one
// sampling interval, taken as the median gap between loaded times across all
// names, clipped to the next sample of the same name and to the end of the
// containing timespan. Samples outside every timespan cover nothing.
func (l *Loader) CoveragePercentages(spans []store.ActivityTimespan) map[string]float64 {
	out := make(map[string]float64, len(l.times))
	var total time.Duration
	for _, sp := range spans {
		total += sp.Finish.Sub(sp.Start)
	}
	if total <= 0 {
		for name := range l.times {
			out[name] = 0
		}
		return out
	}

	step := l.medianStep()
	for name, times := range l.times {
		sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
		var covered time.Duration
		for i, t := range times {
			sp, ok := containingSpan(spans, t)
			if !ok {
				continue
			}
			d := step
			if rest := sp.Finish.Sub(t); rest < d {
				d = rest
			}
			if i+1 < len(times) {
				if next := times[i+1].Sub(t); next < d {
					d = next
				}
			}
			covered += d
		}
		pct := 100 * float64(covered) / float64(total)
		if pct > 100 {
			pct = 100
		}
		out[name] = pct
	}
	return out
}

// medianStep estimates the recording cadence from the union of loaded times.
// Sparsely-sampled fields are measured against the cadence of the whole
// recording, not their own gaps.
func (l *Loader) medianStep() time.Duration {
	var all []time.Time
	for _, ts := range l.times {
		all = append(all, ts...)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Before(all[j]) })
	var gaps []time.Duration
	for i := 1; i < len(all); i++ {
		if g := all[i].Sub(all[i-1]); g > 0 {
			gaps = append(gaps, g)
		}
	}
	if len(gaps) == 0 {
		return time.Second
	}
	sort.Slice(gaps, func(i, j int) bool { return gaps[i] < gaps[j] })
	return gaps[len(gaps)/2]
}

func containingSpan(spans []store.ActivityTimespan, t time.Time) (store.ActivityTimespan, bool) {
	for _, sp := range spans {
		if !t.Before(sp.Start) && !t.After(sp.Finish) {
			return sp, true
		}
	}
	return store.ActivityTimespan{}, false
}

// MaxResolver is the duplicate policy used by the monitor reader: the larger
// value wins.
func MaxResolver(old, new any) any {
	of, ok1 := toFloat(old)
	nf, ok2 := toFloat(new)
	if ok1 && ok2 && of > nf {
		return old
	}
	return new
}

func coerce(name *store.StatisticName, value any) (any, error) {
	switch name.Kind {
	case store.StatisticInt:
		switch v := value.(type) {
		case int64:
			return v, nil
		case int:
			return int64(v), nil
		case uint8:
			return int64(v), nil
		case uint16:
			return int64(v), nil
		case uint32:
			return int64(v), nil
		case float64:
			return int64(v), nil
		}
	case store.StatisticFloat:
		if f, ok := toFloat(value); ok {
			return f, nil
		}
	case store.StatisticText:
		if s, ok := value.(string); ok {
			return s, nil
		}
	case store.StatisticTimestamp:
		if t, ok := value.(time.Time); ok {
			return t, nil
		}
	}
	return nil, fmt.Errorf("statistic %q: cannot store %T as kind %d", name.Name, value, name.Kind)
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint8:
		return float64(x), true
	case uint16:
		return float64(x), true
	case uint32:
		return float64(x), true
	}
	return 0, false
}
