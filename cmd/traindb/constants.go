package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var constantsAt string

var constantsCmd = &cobra.Command{
	Use:   "constants",
	Short: "Manage tunable parameters",
	Long: `Constants are named parameters stored in the database with a value
history: each write takes effect from a point in time. Structured constants
(Climb, HRImpulse, Nearby, FFModel, SportToGroup, Kit) hold JSON and are
validated on write.`,
}

var constantsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List constant names",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := openContext()
		if err != nil {
			return err
		}
		defer cleanup()

		names, err := ctx.DB.ConstantNames()
		if err != nil {
			return err
		}
		for _, name := range names {
			fmt.Println(name)
		}
		return nil
	},
}

var constantsShowCmd = &cobra.Command{
	Use:   "show NAME",
	Short: "Show the value of a constant",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := openContext()
		if err != nil {
			return err
		}
		defer cleanup()

		at, err := parseAt(time.Now())
		if err != nil {
			return err
		}
		value, err := ctx.DB.GetConstant(args[0], at)
		if err != nil {
			return err
		}
		fmt.Println(value)
		return nil
	},
}

var constantsSetCmd = &cobra.Command{
	Use:   "set NAME VALUE",
	Short: "Set the value of a constant",
	Long: `Set a constant's value, effective from --at (default: from the
beginning of time). Earlier values remain in the history.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := openContext()
		if err != nil {
			return err
		}
		defer cleanup()

		at, err := parseAt(time.Time{})
		if err != nil {
			return err
		}
		return ctx.DB.SetConstant(args[0], at, args[1])
	},
}

var constantsRemoveCmd = &cobra.Command{
	Use:   "remove NAME",
	Short: "Remove a constant and its history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cleanup, err := openContext()
		if err != nil {
			return err
		}
		defer cleanup()
		return ctx.DB.RemoveConstant(args[0])
	},
}

func parseAt(def time.Time) (time.Time, error) {
	if constantsAt == "" {
		return def, nil
	}
	at, err := time.Parse(time.RFC3339, constantsAt)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing --at: %w", err)
	}
	return at, nil
}

func init() {
	constantsCmd.PersistentFlags().StringVar(&constantsAt, "at", "",
		"effective time, RFC3339 (default: beginning of time for set, now for show)")
	constantsCmd.AddCommand(constantsListCmd)
	constantsCmd.AddCommand(constantsShowCmd)
	constantsCmd.AddCommand(constantsSetCmd)
	constantsCmd.AddCommand(constantsRemoveCmd)
	rootCmd.AddCommand(constantsCmd)
}
