// Command sandboxworker is the static binary nsjail execs as the
// sandboxed child. It speaks the framed stdio RPC protocol implemented
// by pkg/sandboxworker and exits cleanly when its parent closes stdin.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/lagoonrun/sandboxd/pkg/sandboxworker"
)

func main() {
	ctx := context.Background()
	if err := sandboxworker.Run(ctx, os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "sandboxworker:", err)
		os.Exit(1)
	}
}
