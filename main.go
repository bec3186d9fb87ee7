// Package main is the entry point for the tsnstream daemon and CLI.
package main

import (
	"os"

	"firestige.xyz/tsnstream/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
