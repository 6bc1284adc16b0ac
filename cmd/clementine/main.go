// Package main provides the entry point for the clementine CLI.
package main

import (
	"os"

	"github.com/clementine-kb/clementine/cmd/clementine/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
