package pipeline

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"

	"traindb/internal/store"
)

func testContext(t *testing.T) *Context {
	t.Helper()
	return &Context{
		Log:  zap.NewNop(),
		DB:   store.NewTestStore(t),
		Args: map[string]string{},
	}
}

func TestSplit(t *testing.T) {
	tests := []struct {
		name        string
		nMissing    int
		cost        Cost
		nCPU        int
		wantWorkers int
		wantTotal   int
	}{
		{
			name:     "write-heavy stays serial",
			nMissing: 50, cost: Cost{Write: 1, Calc: 0.5}, nCPU: 8,
			wantWorkers: 1, wantTotal: 50,
		},
		{
			name:     "calc-heavy parallelises up to cpu bound",
			nMissing: 100, cost: Cost{Write: 0.1, Calc: 9.9}, nCPU: 4,
			wantWorkers: 3, wantTotal: 100,
		},
		{
			name:     "single item never spawns",
			nMissing: 1, cost: Cost{Write: 0.1, Calc: 9.9}, nCPU: 8,
			wantWorkers: 1, wantTotal: 1,
		},
		{
			name:     "zero write cost uses cpu bound only",
			nMissing: 10, cost: Cost{Write: 0, Calc: 5}, nCPU: 4,
			wantWorkers: 3, wantTotal: 10,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			workers, perWorker, total := split(tt.nMissing, tt.cost, tt.nCPU, 100, 1.0)
			if workers != tt.wantWorkers {
				t.Errorf("workers = %d, want %d", workers, tt.wantWorkers)
			}
			if total != tt.wantTotal {
				t.Errorf("total = %d, want %d", total, tt.wantTotal)
			}
			if workers > 1 && perWorker*workers < total {
				t.Errorf("ranges cover %d of %d items", perWorker*workers, total)
			}
		})
	}
}

func TestSplitClampsToMaxRepeat(t *testing.T) {
	workers, _, total := split(10000, Cost{Write: 0.1, Calc: 9.9}, 4, 100, 1.0)
	if total != workers*100 {
		t.Errorf("total = %d, want workers*maxRepeat = %d", total, workers*100)
	}
	if total >= 10000 {
		t.Errorf("total = %d not clamped", total)
	}
}

func TestRunWithTimestamp(t *testing.T) {
	c := testContext(t)
	srcID, err := c.DB.AddSource(store.KindActivity, time.Unix(100, 0))
	if err != nil {
		t.Fatal(err)
	}

	t.Run("success sets timestamp", func(t *testing.T) {
		if err := RunWithTimestamp(c, "Calc", "", srcID, func() error { return nil }); err != nil {
			t.Fatalf("RunWithTimestamp() error = %v", err)
		}
		ok, err := c.DB.HasTimestamp("Calc", "", srcID)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Error("timestamp not set after success")
		}
	})

	t.Run("failure clears timestamp and is swallowed", func(t *testing.T) {
		err := RunWithTimestamp(c, "Calc", "", srcID, func() error {
			return errors.New("boom")
		})
		if err != nil {
			t.Errorf("non-fatal error should be swallowed, got %v", err)
		}
		ok, err := c.DB.HasTimestamp("Calc", "", srcID)
		if err != nil {
			t.Fatal(err)
		}
		if ok {
			t.Error("timestamp still set after failure")
		}
	})

	t.Run("fatal error propagates", func(t *testing.T) {
		err := RunWithTimestamp(c, "Calc", "", srcID, func() error {
			return Fatal(errors.New("misconfigured"))
		})
		if !IsFatal(err) {
			t.Errorf("error = %v, want fatal", err)
		}
	})
}

type fakePipeline struct {
	owner   string
	items   []WorkItem
	ran     []int64
	failIDs map[int64]error
	cost    Cost
}

func (p *fakePipeline) Name() string  { return "Fake" }
func (p *fakePipeline) Owner() string { return p.owner }
func (p *fakePipeline) Startup(c *Context) error {
	return nil
}
func (p *fakePipeline) Missing(c *Context) ([]WorkItem, error) { return p.items, nil }
func (p *fakePipeline) RunOne(c *Context, item WorkItem) error {
	p.ran = append(p.ran, item.ID)
	return p.failIDs[item.ID]
}
func (p *fakePipeline) Shutdown(c *Context) error { return nil }
func (p *fakePipeline) Cost() Cost                { return p.cost }

func TestRunnerFiltersAndRuns(t *testing.T) {
	c := testContext(t)

	var sources []int64
	for i := 0; i < 3; i++ {
		id, err := c.DB.AddSource(store.KindActivity, time.Unix(int64(100+i), 0))
		if err != nil {
			t.Fatal(err)
		}
		sources = append(sources, id)
	}

	fake := &fakePipeline{
		owner: "FakeCalc",
		cost:  Cost{Write: 1, Calc: 1},
	}
	for _, id := range sources {
		fake.items = append(fake.items, WorkItem{ID: id})
	}
	Register("FakeCalc", func() Pipeline { return fake })
	excluded := &fakePipeline{owner: "Excluded", cost: Cost{Write: 1}}
	Register("ExcludedCalc", func() Pipeline { return excluded })

	if err := c.DB.EnsurePipeline(store.PipelineCalculate, "FakeCalc", "", 10); err != nil {
		t.Fatal(err)
	}
	if err := c.DB.EnsurePipeline(store.PipelineCalculate, "ExcludedCalc", "", 20); err != nil {
		t.Fatal(err)
	}

	r := &Runner{
		Ctx:    c,
		Type:   store.PipelineCalculate,
		Unlike: []string{"Excluded*"},
		NumCPU: 1,
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(fake.ran) != 3 {
		t.Errorf("ran %d items, want 3", len(fake.ran))
	}
	if len(excluded.ran) != 0 {
		t.Errorf("excluded pipeline ran %d items, want 0", len(excluded.ran))
	}
	for _, id := range sources {
		ok, err := c.DB.HasTimestamp("FakeCalc", "", id)
		if err != nil {
			t.Fatal(err)
		}
		if !ok {
			t.Errorf("timestamp missing for source %d", id)
		}
	}
}

func TestRunnerWorkerRange(t *testing.T) {
	c := testContext(t)

	fake := &fakePipeline{owner: "RangeCalc", cost: Cost{Write: 1}}
	for i := int64(1); i <= 5; i++ {
		id, err := c.DB.AddSource(store.KindActivity, time.Unix(100+i, 0))
		if err != nil {
			t.Fatal(err)
		}
		fake.items = append(fake.items, WorkItem{ID: id})
	}
	Register("RangeCalc", func() Pipeline { return fake })
	if err := c.DB.EnsurePipeline(store.PipelineCalculate, "RangeCalc", "", 10); err != nil {
		t.Fatal(err)
	}

	r := &Runner{
		Ctx: c, Type: store.PipelineCalculate,
		Worker: true, ItemLo: 1, ItemHi: 3,
		NumCPU: 1,
	}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.ran) != 2 {
		t.Fatalf("worker ran %d items, want 2", len(fake.ran))
	}
	want := []int64{fake.items[1].ID, fake.items[2].ID}
	for i, id := range want {
		if fake.ran[i] != id {
			t.Errorf("ran[%d] = %d, want %d", i, fake.ran[i], id)
		}
	}
}

func TestRunnerContinuesPastItemFailure(t *testing.T) {
	c := testContext(t)

	fake := &fakePipeline{owner: "FlakyCalc", cost: Cost{Write: 1}, failIDs: map[int64]error{}}
	for i := int64(1); i <= 3; i++ {
		id, err := c.DB.AddSource(store.KindActivity, time.Unix(200+i, 0))
		if err != nil {
			t.Fatal(err)
		}
		fake.items = append(fake.items, WorkItem{ID: id})
		if i == 2 {
			fake.failIDs[id] = fmt.Errorf("bad data")
		}
	}
	Register("FlakyCalc", func() Pipeline { return fake })
	if err := c.DB.EnsurePipeline(store.PipelineCalculate, "FlakyCalc", "", 10); err != nil {
		t.Fatal(err)
	}

	r := &Runner{Ctx: c, Type: store.PipelineCalculate, NumCPU: 1}
	if err := r.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(fake.ran) != 3 {
		t.Errorf("ran %d items, want all 3 despite one failure", len(fake.ran))
	}

	ok, err := c.DB.HasTimestamp("FlakyCalc", "", fake.items[1].ID)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("failed item should not be timestamped")
	}
}
