package response

import (
	"errors"
	"math"
	"sort"
	"time"

	"traindb/internal/load"
	"traindb/internal/pipeline"
	"traindb/internal/store"
)

var allTime = struct{ start, finish time.Time }{
	time.Unix(0, 0).UTC(), time.Unix(1<<40, 0).UTC(),
}

func init() {
	pipeline.Register("ResponseCalculator", func() pipeline.Pipeline { return &ResponseCalculator{} })
}

// ResponseCalculator integrates hourly impulse bins into named response
// series (fitness, fatigue). Each hour's output is stored against a
// composite source whose components are the contributing activities plus
// the previous hour's composite, so the chain records exactly which inputs
// produced which outputs. When an activity is deleted its composites turn
// dirty and the chain is rebuilt from the last clean anchor.
type ResponseCalculator struct {
	models map[string]DecayParams
}

func (r *ResponseCalculator) Name() string  { return "ResponseCalculator" }
func (r *ResponseCalculator) Owner() string { return ResponseOwner }

// Cost is write-heavy; the chain is inherently serial so never spawns
// workers.
func (r *ResponseCalculator) Cost() pipeline.Cost { return pipeline.Cost{Write: 1.0, Calc: 0.0} }

func (r *ResponseCalculator) Startup(c *pipeline.Context) error {
	r.models = DefaultModels()
	var override map[string]DecayParams
	err := c.DB.GetConstantJSON(FFModelConstant, time.Now(), &override)
	if err != nil && !errors.Is(err, store.ErrConstantNotFound) {
		return err
	}
	if err == nil && len(override) > 0 {
		r.models = override
	}
	return r.cleanup(c)
}

func (r *ResponseCalculator) Shutdown(c *pipeline.Context) error { return nil }

// cleanup deletes composites that lost a component. Deleting one breaks the
// chain link of its successor, so the loop runs until the suffix is gone.
func (r *ResponseCalculator) cleanup(c *pipeline.Context) error {
	for {
		dirty, err := c.DB.DirtyComposites()
		if err != nil {
			return err
		}
		if len(dirty) == 0 {
			return nil
		}
		for _, id := range dirty {
			if err := c.DB.DeleteSource(id); err != nil {
				return err
			}
		}
	}
}

func (r *ResponseCalculator) Missing(c *pipeline.Context) ([]pipeline.WorkItem, error) {
	ext, err := r.plan(c)
	if err != nil {
		return nil, err
	}
	if ext == nil {
		return nil, nil
	}
	return []pipeline.WorkItem{{Key: "extend", Time: ext.bins[0].time}}, nil
}

// hourBin is one hour of summed impulse and the activities contributing.
type hourBin struct {
	time    time.Time
	sum     float64
	sources []int64
}

// extension is the work to do: composites to discard, the clean anchor to
// resume from (nil means from scratch), and the hourly bins to append.
type extension struct {
	stale  []int64
	anchor *store.Composite
	bins   []hourBin
}

// plan compares the impulse data against the composite chain. An impulse
// source not referenced by any composite invalidates every composite from
// its hour onwards; whatever precedes is the anchor.
func (r *ResponseCalculator) plan(c *pipeline.Context) (*extension, error) {
	values, err := r.impulseValues(c)
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, nil
	}

	composites, err := c.DB.Composites()
	if err != nil {
		return nil, err
	}
	seen := make(map[int64]bool)
	if !c.Force {
		for _, comp := range composites {
			inputs, err := c.DB.CompositeComponents(comp.SourceID)
			if err != nil {
				return nil, err
			}
			for _, in := range inputs {
				seen[in] = true
			}
		}
	}

	// Earliest hour containing data from an unseen source.
	var newHour time.Time
	found := false
	for _, v := range values {
		if seen[v.SourceID] {
			continue
		}
		h := v.Time.UTC().Truncate(time.Hour)
		if !found || h.Before(newHour) {
			newHour = h
			found = true
		}
	}
	if !found {
		return nil, nil
	}

	ext := &extension{}
	for i := range composites {
		if composites[i].Time.Before(newHour) {
			ext.anchor = &composites[i]
		} else {
			ext.stale = append(ext.stale, composites[i].SourceID)
		}
	}

	bins := make(map[int64]*hourBin)
	sources := make(map[int64]map[int64]bool)
	for _, v := range values {
		h := v.Time.UTC().Truncate(time.Hour)
		if h.Before(newHour) {
			continue
		}
		key := h.Unix()
		b, ok := bins[key]
		if !ok {
			b = &hourBin{time: h}
			bins[key] = b
			sources[key] = make(map[int64]bool)
		}
		b.sum += v.Value
		if !sources[key][v.SourceID] {
			sources[key][v.SourceID] = true
			b.sources = append(b.sources, v.SourceID)
		}
	}
	for _, b := range bins {
		sort.Slice(b.sources, func(i, j int) bool { return b.sources[i] < b.sources[j] })
		ext.bins = append(ext.bins, *b)
	}
	sort.Slice(ext.bins, func(i, j int) bool { return ext.bins[i].time.Before(ext.bins[j].time) })
	return ext, nil
}

// impulseValues merges hr_impulse values across all activity groups.
func (r *ResponseCalculator) impulseValues(c *pipeline.Context) ([]store.SourcedValue, error) {
	names, err := c.DB.StatisticNamesByOwner(ImpulseOwner)
	if err != nil {
		return nil, err
	}
	var values []store.SourcedValue
	for _, name := range names {
		if name.Name != "hr_impulse" {
			continue
		}
		vs, err := c.DB.ValuesWithSources(name.ID, allTime.start, allTime.finish)
		if err != nil {
			return nil, err
		}
		values = append(values, vs...)
	}
	sort.Slice(values, func(i, j int) bool { return values[i].Time.Before(values[j].Time) })
	return values, nil
}

func (r *ResponseCalculator) RunOne(c *pipeline.Context, item pipeline.WorkItem) error {
	ext, err := r.plan(c)
	if err != nil {
		return err
	}
	if ext == nil {
		return nil
	}
	for _, id := range ext.stale {
		if err := c.DB.DeleteSource(id); err != nil {
			return err
		}
	}

	names := make(map[string]*store.StatisticName, len(r.models))
	states := make(map[string]float64, len(r.models))
	for model, params := range r.models {
		sn, err := c.DB.EnsureStatisticName(store.StatisticName{
			Name: model, Owner: ResponseOwner, Kind: store.StatisticFloat,
			Summary: "[max],[min]",
		})
		if err != nil {
			return err
		}
		names[model] = sn
		states[model] = params.Start
	}

	var prevID int64
	var prevTime time.Time
	if ext.anchor != nil {
		prevID, prevTime = ext.anchor.SourceID, ext.anchor.Time
		rows, err := c.DB.ValuesBySourceAndOwner(ext.anchor.SourceID, ResponseOwner)
		if err != nil {
			return err
		}
		for model, sn := range names {
			for _, row := range rows {
				if row.NameID == sn.ID {
					states[model] = row.Float
				}
			}
		}
	}

	l := load.New(c.DB, c.Log, load.Options{})
	for _, b := range ext.bins {
		inputs := b.sources
		if prevID != 0 {
			inputs = append(append([]int64(nil), b.sources...), prevID)
		}
		compID, err := c.DB.AddComposite(b.time, inputs)
		if err != nil {
			return err
		}
		for model, params := range r.models {
			state := states[model]
			if !prevTime.IsZero() {
				state *= math.Exp(-b.time.Sub(prevTime).Hours() / params.TauHours())
			}
			state += params.Scale * b.sum
			states[model] = state
			if err := l.Add(names[model], compID, b.time, state); err != nil {
				return err
			}
		}
		prevID, prevTime = compID, b.time
	}
	return l.Load()
}
