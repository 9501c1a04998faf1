// Package cmd provides the CLI commands for Ward.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ward-ops/ward/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ward",
	Short: "Ward - policy-governed infrastructure guardian",
	Long: `Ward is a policy-governed control plane for a simulated cloud estate.

An operational-mode policy engine decides which tools may run: NORMAL mode
is read-only, EMERGENCY mode unlocks modification tools, and destructive
tools are blocked in every mode. Temporary grants, incident scoping, and
shadow (dry-run) execution narrow what an operator or agent can touch.

Quick start:
  1. Run the backend: ward serve
  2. Drive the scenarios: ward demo

Configuration:
  Config is loaded from ward.yaml in the current directory,
  $HOME/.ward/, or /etc/ward/.

  Environment variables can override config values with the WARD_ prefix.
  Example: WARD_SERVER_ADDR=localhost:9400

Commands:
  serve       Start the backend server
  demo        Run the guided incident-response scenarios against a backend
  hash-key    Generate an Argon2id hash for an API key
  version     Print version information`,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./ward.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
