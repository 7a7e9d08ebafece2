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
	"github.com/brypt-project/brypt/identifier"
	"github.com/brypt-project/brypt/internal/logger"
	"github.com/brypt-project/brypt/message"
	"github.com/brypt-project/brypt/router"
)

var routeConfigPath string

var routeCmd = &cobra.Command{
	Use:   "route",
	Short: "Run a node with a trivial echo route registered",
	Long: `route behaves exactly like run, except it additionally registers an
"echo" application route that responds to every request with the bytes it
received. It exists to smoke-test a node's wiring end to end without
writing a separate client program.`,
	Example: `  # Run a node and exercise it by sending it an "echo" request
  bryptd route --config node.yaml`,
	RunE: runRoute,
}

func init() {
	rootCmd.AddCommand(routeCmd)
	routeCmd.Flags().StringVarP(&routeConfigPath, "config", "c", "", "path to the node's YAML configuration file (required)")
	_ = routeCmd.MarkFlagRequired("config")
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(routeConfigPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	configureLogging(cfg)

	node, err := brypt.New(cfg)
	if err != nil {
		return fmt.Errorf("construct node: %w", err)
	}

	node.Router().Register("echo", echoHandler)

	logger.Info("starting node",
		logger.String("identifier", node.Identifier().String()),
		logger.String("runtime", string(cfg.Runtime)),
	)
	logger.Info("echo route registered")

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

// echoHandler responds with the payload it was handed, verbatim, at
// StatusOK. A requestor awaiting the reply (router.Next.Defer's caller)
// sees its own bytes come back; one that isn't just sees the response
// dropped on the floor, which is fine for a smoke-test route.
func echoHandler(source identifier.Identifier, payload []byte, next *router.Next) bool {
	logger.Info("echo route invoked",
		logger.String("source", source.String()),
		logger.Int("payloadBytes", len(payload)),
	)
	if err := next.Respond(payload, message.StatusOK); err != nil {
		logger.ErrorMsg("echo route failed to respond", logger.Error(err))
	}
	return true
}
