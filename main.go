// Package main is the entry point for the pktstack command.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/pktstack/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
