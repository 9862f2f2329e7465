// Command testinvoke runs test plans through the per-test invocation engine.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/testinvoke/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
