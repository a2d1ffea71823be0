package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/iksnae/sockdebug/internal"
	"github.com/spf13/cobra"
)

var (
	verbose     bool
	configPath  string
	storagePath string
	version     string = "dev"
	commit      string = "unknown"
	date        string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "sockdebug",
	Short: "Interactive client for socket debug servers",
	Long: `A command-line client for socket debug servers.

sockdebug connects to a debug server over a websocket, keeps one session per
peer connection and prints a transcript of everything exchanged, with
connect, disconnect and time-gap markers.

Features:
  • Live transcripts for every session the server opens
  • Send text or JSON (lenient JSON5 syntax accepted) to any session
  • Mock responders written in Lua, triggered by inbound data or on an interval
  • Message and mock script history per path (SQLite, Redis or in-memory)
  • Transcript export (JSONL, Markdown, YAML, JSON)

Quick Start:
  sockdebug connect                          # Connect to localhost:9080/debug
  sockdebug connect --address host:9080      # Connect elsewhere
  sockdebug history show /echo               # Show sent-message history
  sockdebug healthcheck                      # Check config, storage and server`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (yaml or toml, default ~/.sockdebug/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&storagePath, "storage", "", "History database path (overrides storage.path)")

	// Set version template to ensure --version flag works
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}

// loadConfig reads the config and applies the global flags on top
func loadConfig() (internal.Config, error) {
	cfg, err := internal.LoadConfig(configPath)
	if err != nil {
		return internal.Config{}, err
	}
	if storagePath != "" {
		cfg.Storage.Path = storagePath
	}
	if !verbose {
		internal.SetLogLevel(internal.ParseLogLevel(cfg.Log.Level))
	}
	return cfg, nil
}

// openHistory opens the configured history backend
func openHistory(ctx context.Context, cfg internal.Config) (*internal.HistoryStore, error) {
	kv, err := internal.OpenKVStore(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to open history storage: %w", err)
	}
	return internal.NewHistoryStore(kv, internal.WithHistoryLimit(cfg.Storage.HistoryLimit)), nil
}
