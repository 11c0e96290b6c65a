// Package main is the entry point for the deckd orchestrator CLI.
//
// Usage:
//
//	deckd [flags] <command> [args]
//
// Commands:
//
//	run        - Run an orchestration session
//	journal    - Inspect session command journals (list, show)
//	version    - Show version information
package main

import (
	"fmt"
	"os"

	"github.com/deckd/deckd/cmd/deckd/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
