// Package main is the entry point for the roadmap CLI.
package main

import (
	"fmt"
	"os"

	"github.com/KafClaw/roadmap/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.ExitCode(err))
	}
}
