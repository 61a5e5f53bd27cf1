package main

import (
	"fmt"
	"os"
	"runtime"

	"github.com/spf13/cobra"
)

var (
	// Version information
	version   = "1.0.0"
	gitCommit = "unknown"
	buildDate = "unknown"

	// Global flags
	configFile string
	logLevel   string
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "igmonitor",
	Short: "Watches Instagram accounts and forwards new posts to Telegram",
	Long: `igmonitor polls a tracked Instagram account on an adaptive schedule,
deduplicates against a persistent cache, and delivers new posts to a
Telegram channel.

Features:
  - Adaptive polling that speeds up for active accounts
  - Crash-safe dedup: posts are only marked delivered after the send
  - Postgres primary storage with SQLite and in-memory fallback
  - Pinned post handling with a re-delivery window
  - Self-healing via an internal health supervisor
  - Operator HTTP API for steering and inspection`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, gitCommit, buildDate),
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file (default is $HOME/.igmonitor.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")

	rootCmd.SetVersionTemplate(`igmonitor {{.Version}}
Go Version: ` + runtime.Version() + `
OS/Arch: ` + runtime.GOOS + `/` + runtime.GOARCH + `
`)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}
