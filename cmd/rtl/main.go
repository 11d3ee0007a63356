package main

import (
	"fmt"
	"os"

	"github.com/carmmmm/RadiologyTrustLayer/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		// Subcommands run with SilenceErrors, so this is the one place
		// the failure reaches the user.
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
