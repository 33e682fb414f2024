// Package main provides the entry point for the semindex CLI.
package main

import (
	"fmt"
	"os"

	"github.com/semindex/semindex/cmd/amanmcp/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
	}
	os.Exit(cmd.ExitCode(err))
}
