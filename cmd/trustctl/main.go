// Package main is the entry point for the trustkit operator CLI.
package main

import (
	"os"

	"trustkit/cmd/trustctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
