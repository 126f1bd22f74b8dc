package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/user/roshambo/config"
	"github.com/user/roshambo/internal/memory"
)

var configPath string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "roshambo-admin",
	Short: "Inspect and manage RO-SHAM-BO.EXE player data",
	Long: `roshambo-admin works directly against the configured player memory
backend. Use it to look at what the opponent remembers about a player or to
make it forget.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "./config/config.json", "Path to configuration file")
}

// openBackend loads configuration and opens the memory backend it names
func openBackend() (memory.Backend, error) {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	backend, err := memory.Open(cfg.Memory.Driver, cfg.Memory.DSN, cfg.Memory.Dir)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Memory.Driver, err)
	}
	return backend, nil
}
