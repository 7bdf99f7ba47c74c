// Command twopcsim is a demonstration embedder for pkg/twopc: it runs a
// coordinator and a set of participants as goroutines connected by an
// in-memory fair-loss transport, persists every context transition to a
// badger-backed store, and drives the whole run to a single decided
// epoch.
package main

import (
	"fmt"
	"os"

	"github.com/oasisprotocol/twopc/cmd/twopcsim/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
