// ============================================================================
// logd - Main Entry Point
// ============================================================================
//
// File: cmd/logd/main.go
// Purpose: Application entry point and CLI initialization
//
// Usage:
//   ./logd --help              # Show help
//   ./logd run                 # Start the ingestion daemon
//   ./logd send -f records.jsonl
//   ./logd status
//
// ============================================================================

package main

import (
	"fmt"
	"os"

	"github.com/ChuLiYu/logd/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "Fatal error: %v\n", r)
			os.Exit(1)
		}
	}()

	rootCmd := cli.BuildCLI()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
