package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/felixgeelhaar/stagehand/internal/cmd"
	"github.com/felixgeelhaar/stagehand/internal/exitcode"
	"github.com/felixgeelhaar/stagehand/internal/ux"
)

func main() {
	// Cancelling ctx rolls back a running plan before the process exits.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		if errors.Is(ctx.Err(), context.Canceled) {
			fmt.Fprintln(os.Stderr, "\nOperation cancelled by user")
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", ux.EnhanceError(err))
		stop()
		exitcode.ExitWithError(err)
	}
	exitcode.Exit(exitcode.Success)
}
