// Package cli holds the risk-gate command tree.
package cli

import (
	"github.com/spf13/cobra"
)

const version = "0.4.0"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "risk-gate",
		Short: "Daily kill switch and pre-trade risk assessment for prediction-market trading",
		Long: `risk-gate decides, before every order, whether a user may open a new position.

It provides:
  - A date-scoped kill switch driven by realized drawdown, with hysteresis
  - Daily, per-market and position-count caps
  - Pre-trade risk assessment with Kelly sizing and a risk score
  - A process-wide emergency stop
  - Heartbeat evaluation of every tracked market`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to YAML config file (defaults are used when empty)")

	root.AddCommand(
		newServeCmd(&configPath),
		newConfigCmd(),
		newAssessCmd(&configPath),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("risk-gate version %s\n", version)
		},
	}
}
