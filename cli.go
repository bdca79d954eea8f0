package main

import "fmt"

// Version is the current server version. Set at build time via -ldflags.
var Version = "0.1.0-dev"

// RunCLI handles subcommand execution. Returns true if a subcommand was
// handled, meaning main should exit without starting the relay.
func RunCLI(args []string) bool {
	if len(args) == 0 {
		return false
	}
	if args[0] == "version" {
		fmt.Printf("netsync %s\n", Version)
		return true
	}
	return false
}
