// Command bryptd runs and probes a brypt node from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "bryptd",
	Short: "brypt node daemon",
	Long: `bryptd runs a brypt peer-to-peer node from a YAML configuration file.

This tool supports:
- Starting a node and keeping it running until interrupted
- Starting a node with a smoke-test echo route registered
- Probing a running node's health endpoint`,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.CompletionOptions.DisableDefaultCmd = true

	// Note: commands are registered in their respective files
	// - run.go: runCmd
	// - route.go: routeCmd
	// - health.go: healthCmd
}
