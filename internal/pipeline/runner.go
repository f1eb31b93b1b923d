package pipeline

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path"
	"runtime"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"traindb/internal/store"
)

// Runner iterates the enabled pipelines of one type in registry sort order,
// splitting per-item work across worker subprocesses under the cost model.
type Runner struct {
	Ctx  *Context
	Type store.PipelineType

	// Like and Unlike are include/exclude globs over class names.
	Like   []string
	Unlike []string

	// Worker marks this process as a subprocess handling items [ItemLo,
	// ItemHi) of the missing list.
	Worker bool
	ItemLo int
	ItemHi int

	// SpawnArgs builds the command line that re-enters this binary as a
	// worker for the given class and item range. Nil disables spawning.
	SpawnArgs func(cls string, lo, hi int) []string

	// MaxRepeat bounds items per run so each worker gets a substantial
	// batch; Overhead is the relative cost of starting a worker.
	MaxRepeat int
	Overhead  float64
	NumCPU    int
}

const (
	defaultMaxRepeat = 100
	defaultOverhead  = 1.0
	cpuFraction      = 0.9
)

// Run executes all matching pipelines.
func (r *Runner) Run(goCtx context.Context) error {
	if r.MaxRepeat == 0 {
		r.MaxRepeat = defaultMaxRepeat
	}
	if r.Overhead == 0 {
		r.Overhead = defaultOverhead
	}
	if r.NumCPU == 0 {
		r.NumCPU = runtime.NumCPU()
	}

	rows, err := r.Ctx.DB.PipelinesByType(r.Type)
	if err != nil {
		return fmt.Errorf("reading pipeline registry: %w", err)
	}

	for _, row := range rows {
		if !r.match(row.Cls) {
			continue
		}
		if err := r.runPipeline(goCtx, row.Cls); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) match(cls string) bool {
	for _, glob := range r.Unlike {
		if ok, _ := path.Match(glob, cls); ok {
			return false
		}
	}
	if len(r.Like) == 0 {
		return true
	}
	for _, glob := range r.Like {
		if ok, _ := path.Match(glob, cls); ok {
			return true
		}
	}
	return false
}

func (r *Runner) runPipeline(goCtx context.Context, cls string) error {
	p, err := New(cls)
	if err != nil {
		return err
	}
	log := r.Ctx.Log.With(zap.String("pipeline", cls))

	if err := p.Startup(r.Ctx); err != nil {
		return fmt.Errorf("%s startup: %w", cls, err)
	}
	defer func() {
		if err := p.Shutdown(r.Ctx); err != nil {
			log.Warn("pipeline shutdown failed", zap.Error(err))
		}
	}()

	missing, err := p.Missing(r.Ctx)
	if err != nil {
		return fmt.Errorf("%s missing: %w", cls, err)
	}
	if len(missing) == 0 {
		log.Debug("nothing to do")
		return nil
	}

	if r.Worker {
		lo, hi := clamp(r.ItemLo, r.ItemHi, len(missing))
		return r.runItems(p, missing[lo:hi], log)
	}

	workers, perWorker, total := split(len(missing), p.Cost(), r.NumCPU, r.MaxRepeat, r.Overhead)
	log.Info("pipeline work",
		zap.Int("missing", len(missing)), zap.Int("workers", workers),
		zap.Int("total", total))

	if workers < 2 || r.SpawnArgs == nil {
		return r.runItems(p, missing[:total], log)
	}
	return r.spawn(goCtx, cls, p.Owner(), workers, perWorker, total, log)
}

// runItems executes items in this process, each under the timestamp guard
// when it is keyed by a source. Non-fatal failures are logged and skipped so
// the batch continues.
func (r *Runner) runItems(p Pipeline, items []WorkItem, log *zap.Logger) error {
	for _, item := range items {
		var err error
		if item.ID != 0 {
			err = RunWithTimestamp(r.Ctx, p.Owner(), "", item.ID, func() error {
				return p.RunOne(r.Ctx, item)
			})
		} else {
			err = p.RunOne(r.Ctx, item)
			if err != nil && !IsFatal(err) {
				log.Warn("work item failed",
					zap.String("key", item.Key), zap.Error(err))
				err = nil
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

// split computes the parallelism plan:
//
//   - workers are bounded by cost/write (write contention) and by
//     cpuFraction * NumCPU;
//   - at most workers * MaxRepeat items run this invocation, so each worker
//     gets a substantial batch;
//   - when the batch is too small to amortise the spawn overhead, the work
//     runs inline.
func split(nMissing int, cost Cost, nCPU, maxRepeat int, overhead float64) (workers, perWorker, total int) {
	nPar := float64(nCPU) * cpuFraction
	if cost.Write > 0 {
		writeBound := cost.Total() / cost.Write
		if writeBound < nPar {
			nPar = writeBound
		}
	}
	workers = int(nPar)

	total = nMissing
	if workers >= 1 && total > workers*maxRepeat {
		total = workers * maxRepeat
	}

	if workers < 2 || nMissing == 1 {
		return 1, total, total
	}
	if overhead > 0 && float64(total)*(cost.Total()/overhead) < 1 {
		return 1, total, total
	}

	perWorker = int(math.Ceil(float64(total) / float64(workers)))
	workers = int(math.Ceil(float64(total) / float64(perWorker)))
	return workers, perWorker, total
}

// spawn runs worker subprocesses over disjoint, contiguous item ranges. The
// parent records each child in the process table, polls for completion, and
// kills all survivors if any child fails.
func (r *Runner) spawn(goCtx context.Context, cls, owner string, workers, perWorker, total int, log *zap.Logger) error {
	exe, err := os.Executable()
	if err != nil {
		return fmt.Errorf("locating executable: %w", err)
	}

	g, gctx := errgroup.WithContext(goCtx)
	for w := 0; w < workers; w++ {
		lo := w * perWorker
		hi := lo + perWorker
		if hi > total {
			hi = total
		}
		if lo >= hi {
			break
		}
		args := r.SpawnArgs(cls, lo, hi)

		cmd := exec.Command(exe, args...)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr
		if err := cmd.Start(); err != nil {
			return fmt.Errorf("starting worker: %w", err)
		}
		procID, err := r.Ctx.DB.AddProcess(owner, cmd.Process.Pid, exe)
		if err != nil {
			log.Warn("failed to record worker process", zap.Error(err))
		}
		log.Info("spawned worker",
			zap.Int("pid", cmd.Process.Pid), zap.Int("lo", lo), zap.Int("hi", hi))

		g.Go(func() error {
			done := make(chan error, 1)
			go func() { done <- cmd.Wait() }()
			ticker := time.NewTicker(time.Second)
			defer ticker.Stop()
			for {
				select {
				case err := <-done:
					if procID != 0 {
						_ = r.Ctx.DB.RemoveProcess(procID)
					}
					if err != nil {
						return fmt.Errorf("worker pid %d: %w", cmd.Process.Pid, err)
					}
					return nil
				case <-gctx.Done():
					_ = cmd.Process.Kill()
					<-done
					if procID != 0 {
						_ = r.Ctx.DB.RemoveProcess(procID)
					}
					return gctx.Err()
				case <-ticker.C:
					// Poll; cancellation and completion are handled above.
				}
			}
		})
	}

	err = g.Wait()
	if err != nil {
		r.killSurvivors(owner, log)
	}
	if clearErr := r.Ctx.DB.ClearProcesses(owner); clearErr != nil {
		log.Warn("failed to clear process table", zap.Error(clearErr))
	}
	return err
}

// killSurvivors terminates any workers still recorded in the process table.
func (r *Runner) killSurvivors(owner string, log *zap.Logger) {
	procs, err := r.Ctx.DB.Processes(owner)
	if err != nil {
		log.Error("failed to read process table", zap.Error(err))
		return
	}
	for _, proc := range procs {
		if p, err := os.FindProcess(proc.PID); err == nil {
			if err := p.Kill(); err == nil {
				log.Warn("killed surviving worker", zap.Int("pid", proc.PID))
			}
		}
	}
}

func clamp(lo, hi, n int) (int, int) {
	if lo < 0 {
		lo = 0
	}
	if hi <= 0 || hi > n {
		hi = n
	}
	if lo > hi {
		lo = hi
	}
	return lo, hi
}
