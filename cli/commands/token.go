package commands

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

func (a *App) newTokenCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token <workflow>",
		Short: "Acquire a render access token",
		Long: `Acquire a render access token for a workflow and print it.

The printed parameters are credentials; treat them like the API key.`,
		Args: cobra.ExactArgs(1),
		RunE: a.runToken,
	}
	cmd.Flags().StringVar(&a.xml, "xml", "", "workflow XML URL (overrides config)")
	return cmd
}

func (a *App) runToken(cmd *cobra.Command, args []string) error {
	m, err := a.newManager()
	if err != nil {
		return err
	}
	product, err := a.newProduct(m, args[0], nil)
	if err != nil {
		return err
	}

	if _, err := m.BuildRenderCommand(cmd.Context(), product, product.FinalParams(nil)); err != nil {
		return a.handleError(err)
	}

	info := product.AccessInfo()
	fuzz := m.Config().RefreshFuzz
	if a.jsonOutput {
		return a.writeJSON(map[string]any{
			"workflow":         product.WorkflowID(),
			"lifetime_seconds": int64(info.Lifetime / time.Second),
			"acquired_at":      info.AcquiredAt.UTC().Format(time.RFC3339),
			"refresh_after":    info.ExpiresAt(fuzz).UTC().Format(time.RFC3339),
			"params":           info.Params(),
		})
	}

	fmt.Fprintf(a.stdout, "workflow:      %s\n", product.WorkflowID())
	fmt.Fprintf(a.stdout, "lifetime:      %s\n", info.Lifetime)
	fmt.Fprintf(a.stdout, "refresh after: %s\n", info.ExpiresAt(fuzz).UTC().Format(time.RFC3339))

	params := info.Params()
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(a.stdout, "  %s=%s\n", k, params[k])
	}
	return nil
}
