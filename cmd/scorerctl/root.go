package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/tjfontaine/interaction-scorer/internal/app"
	"github.com/tjfontaine/interaction-scorer/internal/pkg/config"
)

var (
	configPath string
	output     string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "scorerctl",
	Short: "Inspect and rescore stored interactions",
	Long: `scorerctl works directly against the scorer's configured storage.
It reads the same config file and SCORER_ environment overrides as the server.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

		switch output {
		case "table", "json", "yaml":
			return nil
		default:
			return fmt.Errorf("unknown output format %q (table, json, yaml)", output)
		}
	},
}

// Execute adds all child commands to the root command and runs it.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "path to the YAML config file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format: table, json or yaml")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
}

// withCore opens the configured store, runs fn, and closes the store.
func withCore(ctx context.Context, fn func(*app.Core) error) error {
	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	core, err := app.NewCore(cfg, slog.Default())
	if err != nil {
		return err
	}
	defer core.Close()
	return fn(core)
}
