// Command quickorderctl runs quick order batches and stock lookups against the configured store
// without going through HTTP.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/hanko-field/quickorder/internal/platform/config"
)

func main() {
	root := newRootCmd(os.Stdout, func(ctx context.Context) (config.Config, error) {
		return config.Load(ctx)
	})
	if err := root.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
