package commands

import (
	"fmt"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/pijaz/pijaz-go/core"
)

// Version information set at build time via ldflags.
// Example: go build -ldflags "-X github.com/pijaz/pijaz-go/cli/commands.Version=v1.0.0"
var (
	// Version is the semantic version of the CLI.
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the date when the binary was built.
	BuildDate = "unknown"
)

func (a *App) newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Long:  `Print version, commit, build date, Go runtime and the Pijaz API version spoken.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.jsonOutput {
				return a.writeJSON(map[string]string{
					"version":    Version,
					"commit":     Commit,
					"buildDate":  BuildDate,
					"goVersion":  runtime.Version(),
					"platform":   runtime.GOOS + "/" + runtime.GOARCH,
					"apiVersion": core.APIVersion,
				})
			}

			fmt.Fprintf(a.stdout, "pijaz %s\n", Version)
			fmt.Fprintf(a.stdout, "  commit:      %s\n", Commit)
			fmt.Fprintf(a.stdout, "  built:       %s\n", BuildDate)
			fmt.Fprintf(a.stdout, "  go version:  %s\n", runtime.Version())
			fmt.Fprintf(a.stdout, "  platform:    %s/%s\n", runtime.GOOS, runtime.GOARCH)
			fmt.Fprintf(a.stdout, "  api version: %s\n", core.APIVersion)
			return nil
		},
	}
}
