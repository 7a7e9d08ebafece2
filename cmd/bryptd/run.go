package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/brypt-project/brypt/brypt"
	"github.com/brypt-project/brypt/config"
	"github.com/brypt-project/brypt/internal/logger"
)

var runConfigPath string

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Start a brypt node and run it until interrupted",
	Long: `run loads a YAML configuration file, starts a brypt node, and keeps it
running until SIGINT or SIGTERM, at which point it shuts down every bound
endpoint and returns.`,
	Example: `  # Run a node from its configuration file
  bryptd run --config node.yaml`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
	runCmd.Flags().StringVarP(&runConfigPath, "config", "c", "", "path to the node's YAML configuration file (required)")
	_ = runCmd.MarkFlagRequired("config")
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(runConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configureLogging(cfg)

	node, err := brypt.New(cfg)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	logger.Info("starting node",
		logger.String("identifier", node.Identifier().String()),
		logger.String("runtime", string(cfg.Runtime)),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	stopped := make(chan struct{})
	go func() {
		<-sigCh
		logger.Info("shutdown signal received")
		node.Stop()
		close(stopped)
	}()

	if err := node.Start(context.Background()); err != nil {
		return fmt.Errorf("start node: %w", err)
	}
	<-stopped

	logger.Info("node stopped")
	return nil
}

// configureLogging installs a default logger writing at cfg.Logging's
// configured level, matching the stdout/stderr/file destinations a
// deployed node's Logging block names. Every component package pulls
// its logger from logger.GetDefaultLogger, so installing it here before
// brypt.New is what makes cfg.Logging actually take effect.
func configureLogging(cfg *config.Config) {
	var out *os.File
	switch cfg.Logging.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Logging.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			out = os.Stdout
			break
		}
		out = f
	}
	logger.SetDefaultLogger(logger.NewLogger(out, logger.ParseLevel(cfg.Logging.Level)))
}
