// Package main is the entry point for the bmcam camera agent.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/bmcam/cmd"
)

func main() {
	err := cmd.Execute()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	}
	os.Exit(cmd.ExitCode(err))
}
