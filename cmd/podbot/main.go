// Command podbot records Discord voice channels one speaker at a time and
// reassembles the recordings into aligned tracks and a mix.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, "podbot:", err)
		}
		os.Exit(1)
	}
}
