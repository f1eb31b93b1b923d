package store

import (
	"errors"
	"strings"
	"time"
)

// ErrSourceNotFound is returned when a source doesn't exist.
var ErrSourceNotFound = errors.New("source not found")

// ErrNameNotFound is returned when a statistic name doesn't exist.
var ErrNameNotFound = errors.New("statistic name not found")

// ErrConstantNotFound is returned when a constant doesn't exist.
var ErrConstantNotFound = errors.New("constant not found")

// SourceKind tags the variant of a source row.
type SourceKind int

const (
	KindActivity SourceKind = iota
	KindMonitor
	KindInterval
	KindConstant
	KindComposite
	KindTopic
)

// StatisticKind is the value type of a statistic.
type StatisticKind int

const (
	StatisticInt StatisticKind = iota
	StatisticFloat
	StatisticText
	StatisticTimestamp
)

// Source is the origin of some statistics.
type Source struct {
	ID   int64
	Kind SourceKind
	Time time.Time
}

// ActivityGroup partitions otherwise-incomparable activities.
type ActivityGroup struct {
	ID          int64
	Name        string
	Description string
}

// ActivityJournal is one recorded workout.
type ActivityJournal struct {
	SourceID   int64
	GroupID    int64
	GroupName  string
	FileHashID int64
	Start      time.Time
	Finish     time.Time
}

// ActivityTimespan is a contiguous recording window within an activity.
type ActivityTimespan struct {
	ID         int64
	ActivityID int64
	Start      time.Time
	Finish     time.Time
}

// MonitorJournal is one wearable daily file.
type MonitorJournal struct {
	SourceID   int64
	FileHashID int64
	Start      time.Time
	Finish     time.Time
}

// Interval is a (schedule, owner, start, finish) summary window.
type Interval struct {
	SourceID int64
	Schedule string
	Owner    string
	Start    time.Time
	Finish   time.Time
	Dirty    bool
}

// StatisticName identifies a statistic by (name, owner, constraint).
type StatisticName struct {
	ID         int64
	Name       string
	Owner      string
	Constraint string
	Kind       StatisticKind
	Units      string
	Summary    string
}

// SummaryTags parses the summary specification, e.g. "[max],[sum]" into
// ["max", "sum"]. Unbracketed junk is ignored.
func (n StatisticName) SummaryTags() []string {
	var tags []string
	for _, part := range strings.Split(n.Summary, ",") {
		part = strings.TrimSpace(part)
		if strings.HasPrefix(part, "[") && strings.HasSuffix(part, "]") {
			tags = append(tags, part[1:len(part)-1])
		}
	}
	return tags
}

// StatisticJournal is one persisted value.
type StatisticJournal struct {
	ID       int64
	NameID   int64
	SourceID int64
	Time     time.Time
	Serial   *int64
	Kind     StatisticKind

	// Exactly one of these is meaningful, per Kind.
	Int       int64
	Float     float64
	Text      string
	Timestamp time.Time
}

// Value returns the typed value as an any.
func (j StatisticJournal) Value() any {
	switch j.Kind {
	case StatisticInt:
		return j.Int
	case StatisticFloat:
		return j.Float
	case StatisticText:
		return j.Text
	default:
		return j.Timestamp
	}
}

// FileScan records a previously ingested file.
type FileScan struct {
	Path       string
	FileHashID int64
	LastScan   time.Time
}

// Timestamp is a dependency marker: owner has produced output for key.
type Timestamp struct {
	Owner      string
	Constraint string
	Key        int64
	Time       time.Time
}

// Similarity is the spatial overlap score for a pair of activities, with
// lo < hi by source id.
type Similarity struct {
	Constraint string
	Lo         int64
	Hi         int64
	Similarity float64
}

// PipelineType distinguishes registry entries.
type PipelineType int

const (
	PipelineReadActivity PipelineType = iota
	PipelineReadMonitor
	PipelineCalculate
	PipelineDisplay
)

// PipelineRow is one registry entry.
type PipelineRow struct {
	ID      int64
	Type    PipelineType
	Cls     string
	Args    string
	Sort    int
	Enabled bool
}

func unix(t time.Time) int64 {
	return t.UTC().Unix()
}

func fromUnix(u int64) time.Time {
	return time.Unix(u, 0).UTC()
}

// nullableID maps the zero id to SQL NULL for optional foreign keys.
func nullableID(id int64) any {
	if id == 0 {
		return nil
	}
	return id
}
