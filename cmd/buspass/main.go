// Command buspass determines bus pass eligibility from CUE rules.
package main

import (
	"fmt"
	"os"

	"github.com/sctrcd/buspass/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
