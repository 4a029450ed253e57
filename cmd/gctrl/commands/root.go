// Package commands implements the gctrl cobra CLI: a daemon ("serve")
// that auto-opens configured ports and serves Prometheus metrics, a
// one-shot job runner ("stream") for scripting, and "version".
//
// Layout: a package-level rootCmd, one file per subcommand, and an
// exported Execute. gctrl has no separate control-plane daemon to talk
// to over RPC, so "serve" plays both server and CLI entrypoint roles.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// configPath is the shared --config flag read by every subcommand that
// needs daemon configuration.
var configPath string

var rootCmd = &cobra.Command{
	Use:   "gctrl",
	Short: "G-code streaming controller for Grbl/Smoothieware and TinyG2/g2core",
	Long: "gctrl bridges interactive clients to CNC motion controllers over a serial\n" +
		"link. It owns the per-firmware streaming engines, the feeder/sender\n" +
		"duality, the idle/running/paused workflow, and the connection multiplexer\n" +
		"that fans device responses out to subscribed clients.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to configuration file (YAML)")

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(streamCmd())
	rootCmd.AddCommand(versionCmd())
}

// Execute runs the root command and exits with code 1 on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
