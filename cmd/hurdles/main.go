// Command hurdles resolves declarative JSON queries against registered
// handlers, over HTTP or from the command line.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "hurdles:", err)
		os.Exit(1)
	}
}
