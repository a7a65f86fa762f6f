// Package commands implements the pijaz CLI command structure using Cobra.
package commands

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/pijaz/pijaz-go/cli/config"
	"github.com/pijaz/pijaz-go/cli/keystore"
	"github.com/pijaz/pijaz-go/cli/logging"
	"github.com/pijaz/pijaz-go/core"
	"github.com/pijaz/pijaz-go/render"
	"github.com/pijaz/pijaz-go/transport/httpapi"
)

// defaultTimeout applies to API commands when the config sets none.
const defaultTimeout = 30 * time.Second

// ConfigLoader loads CLI config from a path.
type ConfigLoader func(path string) (*config.Config, error)

// KeystoreFactory creates a keystore instance.
type KeystoreFactory func() (keystore.Keystore, error)

// TransportFactory creates the API transport from CLI config.
type TransportFactory func(cfg *config.Config, log zerolog.Logger) core.Transport

// AppOption customizes App dependencies.
type AppOption func(*App)

// App holds CLI state and runtime dependencies.
type App struct {
	root *cobra.Command

	loadConfig   ConfigLoader
	newKeystore  KeystoreFactory
	newTransport TransportFactory
	fetcherOpts  []render.Option
	getenv       func(string) string
	stdin        io.Reader
	stdout       io.Writer
	stderr       io.Writer

	cfgFile         string
	envFile         string
	appID           string
	apiServerURL    string
	renderServerURL string
	logFormat       string
	jsonOutput      bool
	verbose         bool

	cfg *config.Config
	log zerolog.Logger

	xml       string
	serveAddr string
}

// WithConfigLoader injects a config loader dependency.
func WithConfigLoader(loader ConfigLoader) AppOption {
	return func(a *App) {
		if loader != nil {
			a.loadConfig = loader
		}
	}
}

// WithKeystoreFactory injects a keystore factory dependency.
func WithKeystoreFactory(factory KeystoreFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.newKeystore = factory
		}
	}
}

// WithTransportFactory injects the API transport.
func WithTransportFactory(factory TransportFactory) AppOption {
	return func(a *App) {
		if factory != nil {
			a.newTransport = factory
		}
	}
}

// WithFetcherOptions configures the render fetcher used by save and serve.
func WithFetcherOptions(opts ...render.Option) AppOption {
	return func(a *App) {
		a.fetcherOpts = append(a.fetcherOpts, opts...)
	}
}

// WithGetenv injects the environment lookup.
func WithGetenv(getenv func(string) string) AppOption {
	return func(a *App) {
		if getenv != nil {
			a.getenv = getenv
		}
	}
}

// WithIO injects process I/O streams.
func WithIO(stdin io.Reader, stdout, stderr io.Writer) AppOption {
	return func(a *App) {
		if stdin != nil {
			a.stdin = stdin
		}
		if stdout != nil {
			a.stdout = stdout
		}
		if stderr != nil {
			a.stderr = stderr
		}
	}
}

// NewApp creates a new CLI app with default dependencies.
func NewApp(opts ...AppOption) *App {
	a := &App{
		loadConfig:   config.LoadConfig,
		newKeystore:  keystore.NewKeystore,
		newTransport: defaultTransport,
		getenv:       os.Getenv,
		stdin:        os.Stdin,
		stdout:       os.Stdout,
		stderr:       os.Stderr,
		log:          zerolog.Nop(),
		serveAddr:    ":8080",
	}

	for _, opt := range opts {
		opt(a)
	}

	a.root = a.newRootCommand()
	return a
}

func (a *App) newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "pijaz",
		Short: "pijaz - render Pijaz workflows from the command line",
		Long: `pijaz is a command-line interface for the Pijaz rendering platform.

Use pijaz to manage API keys, generate authorized render URLs, save
renders to disk and serve them over HTTP.`,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.initConfig()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&a.cfgFile, "config", "", "config file (default is ~/.pijaz/config.yaml)")
	root.PersistentFlags().StringVar(&a.envFile, "env-file", "", "dotenv file to load (default .env)")
	root.PersistentFlags().StringVar(&a.appID, "app-id", "", "client application ID")
	root.PersistentFlags().StringVar(&a.apiServerURL, "api-server", "", "API server base URL")
	root.PersistentFlags().StringVar(&a.renderServerURL, "render-server", "", "render server base URL")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format: console or json")
	root.PersistentFlags().BoolVar(&a.jsonOutput, "json", false, "emit JSON output")
	root.PersistentFlags().BoolVar(&a.verbose, "verbose", false, "enable debug logging")

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)

	root.AddCommand(a.newURLCommand())
	root.AddCommand(a.newSaveCommand())
	root.AddCommand(a.newServeCommand())
	root.AddCommand(a.newTokenCommand())
	root.AddCommand(a.newKeysCommand())
	root.AddCommand(a.newInitCommand())
	root.AddCommand(a.newVersionCommand())

	return root
}

// Execute runs the root command with os.Args.
func (a *App) Execute() error {
	return a.ExecuteArgs(nil)
}

// ExecuteArgs runs the root command with args instead of os.Args.
func (a *App) ExecuteArgs(args []string) error {
	if args != nil {
		a.root.SetArgs(args)
	}
	err := a.root.Execute()
	if err != nil {
		var ee *exitError
		if !errors.As(err, &ee) || !ee.reported {
			fmt.Fprintf(a.stderr, "Error: %v\n", err)
		}
	}
	return err
}

func (a *App) initConfig() error {
	var envFiles []string
	if a.envFile != "" {
		envFiles = append(envFiles, a.envFile)
	}
	if err := config.LoadDotEnv(envFiles...); err != nil {
		return exitWithCode(ExitValidation, fmt.Errorf("failed to load env file: %w", err))
	}

	path := a.cfgFile
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := a.loadConfig(path)
	if err != nil {
		return exitWithCode(ExitValidation, fmt.Errorf("failed to load config %s: %w", path, err))
	}
	cfg.ApplyEnv(a.getenv)

	// Flags win over the environment and the file.
	if a.appID != "" {
		cfg.AppID = a.appID
	}
	if a.apiServerURL != "" {
		cfg.APIServerURL = a.apiServerURL
	}
	if a.renderServerURL != "" {
		cfg.RenderServerURL = a.renderServerURL
	}
	a.cfg = cfg

	format := a.logFormat
	if format == "" {
		format = cfg.LogFormat
	}
	log, err := logging.New(a.stderr, logging.Options{Format: format, Verbose: a.verbose})
	if err != nil {
		return exitWithCode(ExitValidation, err)
	}
	a.log = log

	return nil
}

func defaultTransport(cfg *config.Config, log zerolog.Logger) core.Transport {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := []httpapi.Option{
		httpapi.WithTimeout(timeout),
		httpapi.WithCircuitBreaker(httpapi.DefaultBreakerConfig()),
		httpapi.WithLogger(log),
	}
	if cfg.RateLimit > 0 {
		opts = append(opts, httpapi.WithRateLimit(cfg.RateLimit, 1))
	}
	return httpapi.New(opts...)
}

// newManager builds a ServerManager from the resolved configuration.
func (a *App) newManager() (*core.ServerManager, error) {
	if a.cfg.AppID == "" {
		return nil, exitWithCode(ExitValidation, errors.New("app id required: use --app-id, set PIJAZ_APP_ID or app_id in config"))
	}

	apiKey, err := a.resolveAPIKey()
	if err != nil {
		return nil, err
	}

	m, err := core.NewServerManager(
		a.newTransport(a.cfg, a.log),
		a.cfg.ServerConfig(apiKey),
		core.WithLogger(a.log),
		core.WithTelemetry(logging.NewTelemetryHook(a.log)),
	)
	if err != nil {
		return nil, exitWithCode(ExitValidation, err)
	}
	return m, nil
}

// resolveAPIKey prefers PIJAZ_API_KEY, then the keystore entry for the app.
func (a *App) resolveAPIKey() (string, error) {
	if a.cfg.APIKey != "" {
		return a.cfg.APIKey, nil
	}

	ks, err := a.newKeystore()
	if err != nil {
		return "", exitWithCode(ExitValidation, fmt.Errorf("failed to open keystore: %w", err))
	}

	ref := a.cfg.KeyRef()
	key, err := ks.Get(ref)
	if err != nil {
		var nf *keystore.ErrKeyNotFound
		if errors.As(err, &nf) {
			return "", exitWithCode(ExitValidation, fmt.Errorf("no API key for %s: run 'pijaz keys set %s' or set %s", ref, ref, config.EnvAPIKey))
		}
		return "", exitWithCode(ExitValidation, fmt.Errorf("failed to get API key: %w", err))
	}
	return key, nil
}

func (a *App) newFetcher() *render.Fetcher {
	opts := append([]render.Option{render.WithLogger(a.log)}, a.fetcherOpts...)
	return render.New(opts...)
}
