// Package main is the entry point for the analyst CLI binary.
package main

import (
	"os"

	cli "duck-analyst/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
