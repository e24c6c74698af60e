// Kenning: context and knowledge engine for multi-agent work.
//
// Kenning remembers what earlier tasks learned (patterns, gotchas, decisions,
// blockers) and computes the minimal context each new task needs. It runs as
// an MCP server over stdio or as a command-line tool.
//
// Usage:
//
//	kenning serve                 # Start MCP server (stdio transport)
//	kenning context TASK-012      # Print the computed context for a task
//	kenning ingest TASK-012 out.md
//	kenning watch                 # Ingest handoff files dropped in the inbox
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
