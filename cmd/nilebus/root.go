package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

// newRootCmd builds the command tree. Each call returns a fresh tree so
// tests can run commands with their own flags.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nilebus",
		Short: "nilebus - the NileLink event bus",
		Long: `nilebus routes NileLink domain events between publishers and
subscribers, applies declarative rules, and serves an HTTP API,
a websocket stream and a terminal monitor.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd())
	root.AddCommand(newRulesCmd())
	root.AddCommand(newPublishCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the root command until it finishes or the process is
// signalled.
func Execute(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return newRootCmd().ExecuteContext(ctx)
}
