package commands

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/pijaz/pijaz-go/cli/keystore"
)

func (a *App) newKeysCommand() *cobra.Command {
	keysCmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage API keys",
		Long: `Manage Pijaz API keys. Keys are stored encrypted in ~/.pijaz/keys.enc,
one per application ID. Set PIJAZ_MASTER_KEY to choose the encryption secret.`,
	}

	keysCmd.AddCommand(&cobra.Command{
		Use:   "set [app-id]",
		Short: "Set the API key for an application",
		Long:  `Set the API key for an application. The key is prompted without echo. Defaults to the configured app ID.`,
		Args:  cobra.MaximumNArgs(1),
		RunE:  a.runKeysSet,
	})
	keysCmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored API keys",
		Long:  `List all stored API keys. Only application IDs are shown, never key values.`,
		Args:  cobra.NoArgs,
		RunE:  a.runKeysList,
	})
	keysCmd.AddCommand(&cobra.Command{
		Use:   "delete <app-id>",
		Short: "Delete the API key for an application",
		Args:  cobra.ExactArgs(1),
		RunE:  a.runKeysDelete,
	})

	return keysCmd
}

func (a *App) keyName(args []string) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if ref := a.cfg.KeyRef(); ref != "" {
		return ref, nil
	}
	return "", exitWithCode(ExitValidation, errors.New("app id required: pass it as an argument or use --app-id"))
}

func (a *App) runKeysSet(cmd *cobra.Command, args []string) error {
	name, err := a.keyName(args)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.stdout, "Enter API key for %s: ", name)

	var apiKey string
	if f, ok := a.stdin.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		keyBytes, err := term.ReadPassword(int(f.Fd()))
		if err != nil {
			return fmt.Errorf("failed to read key: %w", err)
		}
		apiKey = string(keyBytes)
		fmt.Fprintln(a.stdout)
	} else {
		// Piped input
		line, err := bufio.NewReader(a.stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("failed to read key: %w", err)
		}
		apiKey = strings.TrimSpace(line)
	}

	if apiKey == "" {
		return exitWithCode(ExitValidation, errors.New("API key cannot be empty"))
	}

	ks, err := a.newKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}
	if err := ks.Set(name, apiKey); err != nil {
		return fmt.Errorf("failed to store key: %w", err)
	}

	fmt.Fprintf(a.stdout, "API key for %s stored successfully.\n", name)
	return nil
}

func (a *App) runKeysList(cmd *cobra.Command, args []string) error {
	ks, err := a.newKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	names, err := ks.List()
	if err != nil {
		return fmt.Errorf("failed to list keys: %w", err)
	}

	if a.jsonOutput {
		return a.writeJSON(map[string][]string{"keys": names})
	}
	if len(names) == 0 {
		fmt.Fprintln(a.stdout, "No API keys stored.")
		return nil
	}

	fmt.Fprintln(a.stdout, "Stored keys:")
	for _, name := range names {
		fmt.Fprintf(a.stdout, "  - %s\n", name)
	}
	return nil
}

func (a *App) runKeysDelete(cmd *cobra.Command, args []string) error {
	name := args[0]

	ks, err := a.newKeystore()
	if err != nil {
		return fmt.Errorf("failed to open keystore: %w", err)
	}

	if err := ks.Delete(name); err != nil {
		var nf *keystore.ErrKeyNotFound
		if errors.As(err, &nf) {
			return exitWithCode(ExitValidation, fmt.Errorf("no key stored for %s", name))
		}
		return fmt.Errorf("failed to delete key: %w", err)
	}

	fmt.Fprintf(a.stdout, "API key for %s deleted.\n", name)
	return nil
}
