// Command recstore imports JSON payloads as keyed, versioned records.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/recstore/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(cli.GetExitCode(err))
	}
}
