// Command rcpindex is a cobra CLI wrapping pkg/rcp: manage collections,
// run indexing jobs, and issue retrieval queries from a terminal.
package main

import (
	"os"

	"github.com/Aman-CERP/rcpretrieval/cmd/rcpindex/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
