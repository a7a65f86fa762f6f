// Pijaz CLI - render Pijaz workflows from the command line.
package main

import (
	"errors"
	"os"

	"github.com/pijaz/pijaz-go/cli/commands"
)

// ExitCoder is an interface for errors that have an exit code.
type ExitCoder interface {
	ExitCode() int
}

func main() {
	if err := commands.NewApp().Execute(); err != nil {
		var ec ExitCoder
		if errors.As(err, &ec) {
			os.Exit(ec.ExitCode())
		}
		os.Exit(1)
	}
}
