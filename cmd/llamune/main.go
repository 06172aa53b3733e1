// Package main is the entry point for the llamune CLI.
package main

import (
	"os"

	"github.com/unrcom/llamune-chat/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
