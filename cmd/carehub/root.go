package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var rootCmd = &cobra.Command{
	Use:   "carehub",
	Short: "Financial core for residential care facilities",
	Long: `carehub runs resident credit accounts, consumption and subscription invoices,
payment intents against card and pix gateways, cash drawer sessions and offline
order sync. Configuration is read from the environment (and a .env file when present).`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "carehub: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd, schedulerCmd, migrateCmd, sweepCmd)
}
