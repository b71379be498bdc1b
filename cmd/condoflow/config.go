package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/condoflow/condoflow/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show the effective configuration",
	RunE:  runConfig,
}

func runConfig(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	fmt.Printf("user config: %s\n\n", config.GetUserConfigPath())
	fmt.Printf("paths.store:    %s\n", cfg.Paths.Store)
	fmt.Printf("paths.outbox:   %s\n", cfg.Paths.Outbox)
	fmt.Printf("paths.logs:     %s\n", cfg.Paths.Logs)
	fmt.Printf("runtime.url:    %s\n", cfg.Runtime.URL)
	fmt.Printf("defaults.autonomy_mode: %s\n", cfg.Defaults.AutonomyMode)
	fmt.Printf("defaults.max_retries:   %d\n", cfg.Defaults.MaxRetries)
	fmt.Printf("defaults.worker:        %s\n", cfg.Defaults.Worker)
	fmt.Printf("delays.settle:  %s\n", cfg.Delays.Settle)
	fmt.Printf("delays.sweep:   %s\n", cfg.Delays.Sweep)
	fmt.Printf("timeouts.send:    %s\n", cfg.Timeouts.Send)
	fmt.Printf("timeouts.history: %s\n", cfg.Timeouts.History)
	fmt.Printf("timeouts.git:     %s\n", cfg.Timeouts.Git)
	if len(cfg.Workers) > 0 {
		fmt.Println("workers:")
		for role, worker := range cfg.Workers {
			fmt.Printf("  %s: %s\n", role, worker)
		}
	}
	return nil
}
