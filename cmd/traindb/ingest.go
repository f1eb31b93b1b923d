package main

import (
	"github.com/spf13/cobra"

	"traindb/internal/pipeline"
	"traindb/internal/store"
)

var ingestForce bool

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Read new FIT files into the database",
	Long: `Scan the configured activity and monitor directories and import any
FIT file not seen before. Files whose content was already imported under
another name are skipped; files that fail to decode are retried on the next
run.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := openContext()
		if err != nil {
			return err
		}
		defer cleanup()
		ctx.Force = ingestForce

		for _, typ := range []store.PipelineType{
			store.PipelineReadActivity,
			store.PipelineReadMonitor,
		} {
			r := &pipeline.Runner{Ctx: ctx, Type: typ}
			if err := r.Run(cmd.Context()); err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().BoolVar(&ingestForce, "force", false,
		"re-import files already scanned")
	rootCmd.AddCommand(ingestCmd)
}
