package cmd

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "presence-service",
	Short: "Presence service: connection registry, admin presence view, remote tab control",
	Long:  `HTTP + WebSocket API. Commands: api, command, seed.`,
	RunE:  runAPI, // default: run API (same as "presence-service api")
}

func init() {
	rootCmd.AddCommand(apiCmd)
}

// Execute runs the root command and returns the error (for main to log.Fatal).
func Execute() error {
	return rootCmd.Execute()
}
