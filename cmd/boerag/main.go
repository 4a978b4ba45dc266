// Package main provides the entry point for the boerag CLI.
package main

import (
	"os"

	"github.com/normadata/boerag/cmd/boerag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
