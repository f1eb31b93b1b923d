// Package pipeline schedules the readers and calculators: dependency
// tracking via persisted timestamps, work splitting under a cost model, and
// worker subprocess supervision.
package pipeline

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"traindb/internal/config"
	"traindb/internal/store"
)

// Context carries the explicit dependencies every pipeline method needs.
// There is no global state; workers build their own Context.
type Context struct {
	Log    *zap.Logger
	DB     *store.Store
	Config *config.Config

	// Force deletes prior outputs before recomputing.
	Force bool
	// Args are the K=V command-line arguments forwarded to pipelines.
	Args map[string]string
}

// Arg returns a forwarded K=V argument.
func (c *Context) Arg(key string) (string, bool) {
	v, ok := c.Args[key]
	return v, ok
}

// WorkItem is one unit of pipeline work: a file for readers, a source for
// calculators, an interval for summaries.
type WorkItem struct {
	// Key is the file path for readers; empty for calculators.
	Key string
	// ID is the source id for calculators; 0 for readers.
	ID int64
	// Time orders items and defines worker sub-ranges.
	Time time.Time
}

// Cost is the per-item cost model: relative write and calculation expense.
// The write cost bounds parallelism because the database is single-writer.
type Cost struct {
	Write float64
	Calc  float64
}

// Total returns write + calc.
func (c Cost) Total() float64 { return c.Write + c.Calc }

// Pipeline is one stage of processing. Implementations declare the owner
// whose name they claim for outputs; the persisted Timestamp(owner, key)
// rows are the sole record of what has been processed.
type Pipeline interface {
	Name() string
	Owner() string
	Startup(c *Context) error
	Missing(c *Context) ([]WorkItem, error)
	RunOne(c *Context, item WorkItem) error
	Shutdown(c *Context) error
	Cost() Cost
}

// FatalError wraps misconfiguration errors that must abort the whole run
// rather than being skipped as per-item failures.
type FatalError struct {
	Err error
}

func (e *FatalError) Error() string { return fmt.Sprintf("fatal: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// Fatal wraps err as fatal.
func Fatal(err error) error {
	return &FatalError{Err: err}
}

// IsFatal reports whether err (or anything it wraps) is fatal.
func IsFatal(err error) bool {
	var f *FatalError
	return errors.As(err, &f)
}

// registry maps class names to factories. Populated at startup by each
// pipeline package's init; class names are plain strings, never types.
var registry = map[string]func() Pipeline{}

// Register adds a pipeline factory under its class name.
func Register(cls string, factory func() Pipeline) {
	registry[cls] = factory
}

// New instantiates a registered pipeline class.
func New(cls string) (Pipeline, error) {
	factory, ok := registry[cls]
	if !ok {
		return nil, Fatal(fmt.Errorf("unknown pipeline class %q", cls))
	}
	return factory(), nil
}

// Registered returns all registered class names, sorted.
func Registered() []string {
	names := make([]string, 0, len(registry))
	for cls := range registry {
		names = append(names, cls)
	}
	sort.Strings(names)
	return names
}

// RunWithTimestamp runs body under a dependency guard. On success the
// timestamp is set, recording that owner has produced output for key. On
// failure the timestamp is cleared so the item is retried next run, and the
// error is swallowed unless fatal, so the batch continues.
func RunWithTimestamp(c *Context, owner, constraint string, key int64, body func() error) error {
	if err := body(); err != nil {
		if clearErr := c.DB.ClearTimestamp(owner, constraint, key); clearErr != nil {
			c.Log.Error("failed to clear timestamp",
				zap.String("owner", owner), zap.Int64("key", key), zap.Error(clearErr))
		}
		if IsFatal(err) {
			return err
		}
		c.Log.Warn("work item failed; will retry next run",
			zap.String("owner", owner), zap.Int64("key", key), zap.Error(err))
		return nil
	}
	return c.DB.SetTimestamp(owner, constraint, key, time.Now())
}
