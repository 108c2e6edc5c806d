// svdrpmux - a multiplexing relay for SVDRP-style line protocols.
//
// Many clients connect to svdrpmux; svdrpmux keeps a single connection
// to the backend and serializes their commands onto it, one at a time,
// routing each (possibly multi-line) response back to the client that
// issued the command.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"svdrpmux/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "svdrpmux: %v\n", err)
		os.Exit(1)
	}
}
