// Command fathom-train builds the ruleset and training bundles, runs training
// in a headless Firefox, and prints the best solution and its cost.
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/seantiz/fathom-train/internal/orchestrator"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

// run executes the command line and returns the process exit status. Every
// failure is reported as a single line on stderr.
func run(args []string, stdout, stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return orchestrator.ExitOK
	}

	fmt.Fprintf(stderr, "fathom-train: %v\n", err)
	if ctx.Err() != nil {
		return orchestrator.ExitInterrupted
	}
	return orchestrator.ExitCode(err)
}
