package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/atmx/risk-gate/internal/config"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Generate or validate configuration files",
		Long: `Manage risk-gate configuration files.

Subcommands:
  init     - Generate a default configuration file
  validate - Validate an existing configuration file

Examples:
  risk-gate config init -o risk-gate.yaml
  risk-gate config validate -f risk-gate.yaml`,
	}
	cmd.AddCommand(newConfigInitCmd(), newConfigValidateCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Generate a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if err := cfg.SaveToFile(output); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			cmd.Printf("Created default configuration: %s\n", output)
			cmd.Printf("Trading starts in %q mode; set trading.mode to %q to allow opens.\n", config.ModePaper, config.ModeLive)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "risk-gate.yaml", "output config file path")
	return cmd
}

func newConfigValidateCmd() *cobra.Command {
	var path string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadFromFile(path)
			if err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}
			if err := cfg.Validate(); err != nil {
				return fmt.Errorf("validation failed: %w", err)
			}

			cmd.Printf("Configuration valid: %s\n", path)
			cmd.Printf("  Trading mode: %s\n", cfg.Trading.Mode)
			cmd.Printf("  Caps: daily %.2f, per market %.2f, positions %d (soft %d)\n",
				cfg.Gate.DailySpendCap, cfg.Gate.PerMarketCap, cfg.Gate.MaxPositions, cfg.Gate.SoftMaxPositions)
			cmd.Printf("  Drawdown: soft %.2f%%, hard %.2f%%, hysteresis %s\n",
				cfg.Gate.SoftDrawdown*100, cfg.Gate.HardDrawdown*100, cfg.Gate.HysteresisWindow)
			cmd.Printf("  Default risk profile: %s\n", cfg.Risk.DefaultProfile)
			return nil
		},
	}
	cmd.Flags().StringVarP(&path, "file", "f", "", "path to config file (required)")
	cmd.MarkFlagRequired("file")
	return cmd
}
