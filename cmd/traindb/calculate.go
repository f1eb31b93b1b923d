package main

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"traindb/internal/pipeline"
	"traindb/internal/store"
)

var (
	calcForce  bool
	calcLike   []string
	calcUnlike []string
	calcWorker bool
	calcItemLo int
	calcItemHi int
)

var calculateCmd = &cobra.Command{
	Use:   "calculate [K=V ...]",
	Short: "Derive statistics from ingested data",
	Long: `Run the calculator pipelines over everything ingested since the
last run. Expensive per-activity calculators are split across worker
subprocesses under a cost model; --force recomputes from scratch.

K=V arguments are forwarded to the pipelines (for example a kit tag used by
the sport mapping).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := openContext()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx.Force = calcForce

		for _, arg := range args {
			k, v, ok := strings.Cut(arg, "=")
			if !ok {
				return fmt.Errorf("argument %q is not K=V", arg)
			}
			ctx.Args[k] = v
		}

		r := &pipeline.Runner{
			Ctx:       ctx,
			Type:      store.PipelineCalculate,
			Like:      calcLike,
			Unlike:    calcUnlike,
			Worker:    calcWorker,
			ItemLo:    calcItemLo,
			ItemHi:    calcItemHi,
			SpawnArgs: workerArgs(ctx.Args),
		}
		return r.Run(cmd.Context())
	},
}

// workerArgs rebuilds a command line that re-enters this binary as a worker
// over one item range. The worker must see the same flags as the parent so
// both compute identical missing lists.
func workerArgs(kv map[string]string) func(cls string, lo, hi int) []string {
	return func(cls string, lo, hi int) []string {
		args := []string{
			"calculate",
			"--worker",
			"--item-lo", strconv.Itoa(lo),
			"--item-hi", strconv.Itoa(hi),
			"--like", cls,
		}
		if calcForce {
			args = append(args, "--force")
		}
		if flagDatabase != "" {
			args = append(args, "--database", flagDatabase)
		}
		if flagVerbose {
			args = append(args, "--verbose")
		}
		if flagLogJSON {
			args = append(args, "--log-json")
		}
		keys := make([]string, 0, len(kv))
		for k := range kv {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			args = append(args, k+"="+kv[k])
		}
		return args
	}
}

func init() {
	calculateCmd.Flags().BoolVar(&calcForce, "force", false,
		"recompute statistics that already exist")
	calculateCmd.Flags().StringSliceVar(&calcLike, "like", nil,
		"only run pipeline classes matching these globs")
	calculateCmd.Flags().StringSliceVar(&calcUnlike, "unlike", nil,
		"skip pipeline classes matching these globs")
	calculateCmd.Flags().BoolVar(&calcWorker, "worker", false,
		"run as a worker subprocess over one item range")
	calculateCmd.Flags().IntVar(&calcItemLo, "item-lo", 0,
		"first item index for a worker")
	calculateCmd.Flags().IntVar(&calcItemHi, "item-hi", 0,
		"one past the last item index for a worker")
	_ = calculateCmd.Flags().MarkHidden("worker")
	_ = calculateCmd.Flags().MarkHidden("item-lo")
	_ = calculateCmd.Flags().MarkHidden("item-hi")
	rootCmd.AddCommand(calculateCmd)
}
