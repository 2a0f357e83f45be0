// Package main is the leapcohort command.
package main

import (
	"os"

	"github.com/leapstack-labs/leapcohort/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
