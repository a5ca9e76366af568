package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/smallbiznis/carehub/internal/scheduler"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var sweepCmd = &cobra.Command{
	Use:       "sweep <job>",
	Short:     "Run one scheduler job now and print its result",
	Long:      "Jobs: " + strings.Join(scheduler.Jobs, ", "),
	Args:      cobra.ExactArgs(1),
	ValidArgs: scheduler.Jobs,
	RunE: func(cmd *cobra.Command, args []string) error {
		var sched *scheduler.Scheduler
		app := fx.New(infrastructure(), domain(), fx.NopLogger, fx.Populate(&sched))
		if err := app.Err(); err != nil {
			return err
		}
		if err := app.Start(cmd.Context()); err != nil {
			return err
		}
		defer func() { _ = app.Stop(context.Background()) }()

		result, err := sched.RunJob(cmd.Context(), args[0])
		if err != nil {
			return fmt.Errorf("sweep %s: %w", args[0], err)
		}
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}
