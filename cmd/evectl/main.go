// Package main is the entry point for the evectl review CLI.
package main

import (
	"os"

	"github.com/eveboxstack/evebox-review/cmd/evectl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
