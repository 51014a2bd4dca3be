package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identityd",
		Short: "TransferWave identity and access daemon",
	}
	cmd.AddCommand(newServeCommand())
	cmd.AddCommand(newCleanupCommand())
	cmd.AddCommand(newKeygenCommand())
	return cmd
}
