// Package handlers wires the CLI commands to the pipeline.
package handlers

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var cfgFile string

// NewRootCmd creates the root command with all subcommands attached.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "newsdesk",
		Short: "Newsdesk turns raw news feeds into published event articles.",
		Long: `Newsdesk continuously polls news feeds, scores and clusters the
entries into real-world events, and publishes one synthesized
dual-language article per event, complete with an image and
visual components.

Run one cycle with 'newsdesk run', or keep it running with
'newsdesk serve'.`,
	}

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.newsdesk.yaml)")

	rootCmd.AddCommand(NewRunCmd())
	rootCmd.AddCommand(NewServeCmd())
	rootCmd.AddCommand(NewStatsCmd())
	return rootCmd
}

// Execute runs the root command.
func Execute() {
	if err := NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
