// Package cli wires the vigil subcommands.
package cli

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vigil",
	Short: "Sensor-to-action governance pipeline",
	Long: "Runs sensor scenarios through rules, governance, RBAC approval,\n" +
		"guardrails, and risk budgeting, producing a hash-chained audit log\n" +
		"and exportable events and tasks.",
}

// Execute runs the root command.
func Execute() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
