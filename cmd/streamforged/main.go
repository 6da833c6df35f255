// Package main is the entry point for the streamforge pipeline daemon.
package main

import (
	"os"

	"github.com/jmylchreest/streamforge/cmd/streamforged/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
