package main

import (
	"github.com/smallbiznis/carehub/internal/scheduler"
	"github.com/smallbiznis/carehub/internal/server"
	"github.com/spf13/cobra"
	"go.uber.org/fx"
)

var withScheduler bool

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	Example: `  # API only
  carehub serve

  # API with the background sweeps in the same process
  carehub serve --with-scheduler`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := []fx.Option{infrastructure(), domain(), server.Module}
		if withScheduler {
			opts = append(opts, scheduler.LoopModule)
		}
		fx.New(opts...).Run()
		return nil
	},
}

var schedulerCmd = &cobra.Command{
	Use:   "scheduler",
	Short: "Run the background sweeps without the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		fx.New(infrastructure(), domain(), scheduler.LoopModule).Run()
		return nil
	},
}

func init() {
	serveCmd.Flags().BoolVar(&withScheduler, "with-scheduler", false, "Also run the scheduler loop")
}
