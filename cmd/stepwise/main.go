// Command stepwise runs the single-line tool-calling drivers and hosts their
// MCP tool servers.
//
//	stepwise math                 solve MATH_PROBLEM step by step
//	stepwise srs                  turn SRS_MD_FILE into a scheduled deck
//	stepwise eval -f prompt.txt   score a driver prompt
//	stepwise serve cot|srs|eval   run a tool server on stdin/stdout
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		cancel()
		os.Exit(1)
	}
}
