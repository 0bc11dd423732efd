package cmd

import (
	"context"
	"errors"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"k8s.io/utils/clock"

	"github.com/telekom/oidc-cli/pkg/oidcctl/auth"
	"github.com/telekom/oidc-cli/pkg/oidcctl/config"
	"github.com/telekom/oidc-cli/pkg/system"
)

type Config struct {
	ConfigPath   string
	OutputWriter io.Writer
	ErrorWriter  io.Writer
	Input        io.Reader
	Clock        clock.PassiveClock
	// HTTPClient replaces the client built from --ca-file and
	// --insecure-skip-tls-verify.
	HTTPClient *http.Client
	OpenURL    func(url string) error
}

type runtimeState struct {
	configPath string
	cfg        *config.Config
	quiet      bool
	verbosity  int
	caFile     string
	insecure   bool

	writer     io.Writer
	errWriter  io.Writer
	input      io.Reader
	clock      clock.PassiveClock
	httpClient *http.Client
	openURL    func(string) error
	log        *zap.SugaredLogger
}

type runtimeKey struct{}

func DefaultConfig() Config {
	return Config{
		ConfigPath:   config.DefaultConfigPath(),
		OutputWriter: os.Stdout,
		ErrorWriter:  os.Stderr,
		Input:        os.Stdin,
	}
}

func NewRootCommand(cfg Config) *cobra.Command {
	return NewRootCommandWithContext(context.Background(), cfg)
}

// NewRootCommandWithContext is NewRootCommand with a parent context whose
// cancellation aborts running commands such as the interactive login.
func NewRootCommandWithContext(ctx context.Context, cfg Config) *cobra.Command {
	rt := &runtimeState{
		configPath: cfg.ConfigPath,
		writer:     cfg.OutputWriter,
		errWriter:  cfg.ErrorWriter,
		input:      cfg.Input,
		clock:      cfg.Clock,
		httpClient: cfg.HTTPClient,
		openURL:    cfg.OpenURL,
	}

	root := &cobra.Command{
		Use:          "oidc",
		Short:        "Obtain, cache and refresh OpenID Connect tokens",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if rt.configPath == "" {
				rt.configPath = config.DefaultConfigPath()
			}
			if !rt.quiet {
				rt.quiet = envBool("OIDC_QUIET")
			}
			if rt.verbosity == 0 {
				rt.verbosity = envVerbosity("OIDC_VERBOSE")
			}
			if rt.quiet && rt.verbosity > 0 {
				return errors.New("--quiet and --verbose cannot be used together")
			}
			rt.log = system.NewLogger(rt.ErrWriter(), rt.quiet, rt.verbosity).Sugar()

			switch cmd.Name() {
			case "version", "completion", "inspect", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
				return nil
			}
			rt.log.Debugw("Loading client store", "path", rt.configPath)
			return rt.EnsureConfigLoaded()
		},
	}
	root.SetOut(rt.Writer())
	root.SetErr(rt.ErrWriter())

	flags := root.PersistentFlags()
	flags.StringVarP(&rt.configPath, "config", "c", rt.configPath, "Path to the client store (env OIDC_CONFIG)")
	flags.BoolVarP(&rt.quiet, "quiet", "q", false, "Only log errors (env OIDC_QUIET)")
	flags.CountVarP(&rt.verbosity, "verbose", "v", "Increase log verbosity, repeat for more (env OIDC_VERBOSE)")
	flags.StringVar(&rt.caFile, "ca-file", "", "Additional CA bundle used to verify the issuer")
	flags.BoolVar(&rt.insecure, "insecure-skip-tls-verify", false, "Skip TLS verification of the issuer (insecure)")
	root.MarkFlagsMutuallyExclusive("quiet", "verbose")

	root.SetContext(context.WithValue(ctx, runtimeKey{}, rt))

	root.AddCommand(
		NewCreateCommand(),
		NewTokenCommand(),
		NewListCommand(),
		NewDeleteCommand(),
		NewInspectCommand(),
		NewCompletionCommand(),
		NewVersionCommand(),
	)

	return root
}

func getRuntime(cmd *cobra.Command) (*runtimeState, error) {
	rt, ok := cmd.Context().Value(runtimeKey{}).(*runtimeState)
	if !ok || rt == nil {
		return nil, errors.New("runtime not initialized")
	}
	return rt, nil
}

func (rt *runtimeState) Writer() io.Writer {
	if rt.writer != nil {
		return rt.writer
	}
	return os.Stdout
}

func (rt *runtimeState) ErrWriter() io.Writer {
	if rt.errWriter != nil {
		return rt.errWriter
	}
	return os.Stderr
}

func (rt *runtimeState) Input() io.Reader {
	if rt.input != nil {
		return rt.input
	}
	return os.Stdin
}

func (rt *runtimeState) Clock() clock.PassiveClock {
	if rt.clock != nil {
		return rt.clock
	}
	return clock.RealClock{}
}

func (rt *runtimeState) Logger() *zap.SugaredLogger {
	if rt.log != nil {
		return rt.log
	}
	return zap.NewNop().Sugar()
}

func (rt *runtimeState) EnsureConfigLoaded() error {
	if rt.cfg != nil {
		return nil
	}
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		return err
	}
	rt.cfg = cfg
	return nil
}

// SaveConfig persists the client store. It is only called after a command
// succeeded, so a failed exchange never replaces a stored state.
func (rt *runtimeState) SaveConfig() error {
	if rt.cfg == nil {
		return errors.New("config not loaded")
	}
	rt.Logger().Debugw("Saving client store", "path", rt.configPathValue())
	return config.Save(rt.configPathValue(), rt.cfg)
}

func (rt *runtimeState) TokenManager() (*auth.TokenManager, error) {
	httpClient := rt.httpClient
	if httpClient == nil {
		var err error
		httpClient, err = auth.NewHTTPClient(rt.caFile, rt.insecure)
		if err != nil {
			return nil, err
		}
	}
	if rt.insecure {
		rt.Logger().Warnw("TLS verification of the issuer is disabled")
	}
	return &auth.TokenManager{
		HTTPClient: httpClient,
		Clock:      rt.Clock(),
		Log:        rt.Logger(),
		OpenURL:    rt.openURL,
	}, nil
}

func (rt *runtimeState) configPathValue() string {
	if rt.configPath == "" {
		return config.DefaultConfigPath()
	}
	return rt.configPath
}

func envBool(key string) bool {
	v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && v
}

// envVerbosity accepts a level ("2") or a boolean ("true" means 1).
func envVerbosity(key string) int {
	v := strings.TrimSpace(os.Getenv(key))
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return n
	}
	if envBool(key) {
		return 1
	}
	return 0
}

// completeClientNames offers the names of stored clients.
func completeClientNames(cmd *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
	if len(args) > 0 {
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
	rt, err := getRuntime(cmd)
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	cfg, err := config.Load(rt.configPathValue())
	if err != nil {
		return nil, cobra.ShellCompDirectiveError
	}
	return cfg.Names(), cobra.ShellCompDirectiveNoFileComp
}
