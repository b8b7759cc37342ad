package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ShayCichocki/relay/internal/config"
	"github.com/ShayCichocki/relay/internal/logging"
)

var (
	configPath string
	logLevel   string

	// Populated by loadRuntime before any subcommand runs.
	cfg      *config.Config
	logger   = zap.NewNop()
	closeLog = func() error { return nil }
)

var rootCmd = &cobra.Command{
	Use:   "relay",
	Short: "Task coordinator and workflow state bridge",
	Long: `Relay tracks a graph of agent tasks and bridges workflow state
between an external orchestrator and durable storage.

Core capabilities:
- Creates, assigns and completes tasks with dependency and approval gating
- Validates external state payloads against named schemas
- Persists versioned state snapshots to SQLite, Redis or PostgreSQL
- Merges stored snapshots into checkpoints for resumption
- Watches an inbox directory for state files from the orchestrator`,
	SilenceUsage:       true,
	PersistentPreRunE:  loadRuntime,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error { return closeLog() },
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: user config, then .relay.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level (debug, info, warn, error)")

	rootCmd.AddCommand(taskCmd)
	rootCmd.AddCommand(workflowCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

func loadRuntime(cmd *cobra.Command, args []string) error {
	var err error
	if configPath != "" {
		cfg, err = config.LoadFromPath(configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}

	l, closer, err := logging.New(logging.Options{
		Level:       cfg.Log.Level,
		File:        cfg.Log.File,
		Development: cfg.Log.Development,
		Console:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	logger, closeLog = l, closer
	return nil
}
