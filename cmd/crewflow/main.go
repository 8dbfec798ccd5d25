// Command crewflow runs CRM workflow automations.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/crewflow/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
