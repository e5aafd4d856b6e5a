// Package main is the cmtbridge CLI.
//
// Usage:
//
//	cmtbridge [flags] <command> [subcommand] [args]
//
// Commands:
//
//	run       - Run the bridge (modem endpoint, RTP host graph, signalling)
//	simulate  - Play a scenario file against the bridge and report
//	signal    - Send a control signal to a running bridge
//	journal   - Inspect recorded bridge sessions
//	config    - Configuration management (contexts)
//
// Configuration:
//
//	The CLI stores configuration in ~/.giztoy/cmtbridge/
//	Use 'cmtbridge config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/cmtbridge/cmd/cmtbridge/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
