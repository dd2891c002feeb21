package main

import (
	"os"

	"github.com/atmx/risk-gate/internal/cli"
)

func main() {
	// A bare invocation runs the server, as container entrypoints expect.
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
