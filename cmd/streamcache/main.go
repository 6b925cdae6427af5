package main

import (
	"os"

	"github.com/objectfs/streamcache/internal/cli"
)

func main() {
	// Execute reports the error itself.
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
