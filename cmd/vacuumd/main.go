// Command vacuumd reconciles a search index with the object store it
// mirrors: it deletes orphaned documents and reindexes missing, stale and
// misplaced objects.
package main

import (
	"errors"
	"fmt"
	"os"
)

var (
	version   = "dev"
	buildTime = "unknown"
	gitCommit = "unknown"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "vacuumd: %v\n", err)
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}
