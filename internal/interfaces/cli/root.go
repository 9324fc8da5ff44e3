// Package cli implements the ertviz command line: the viewer server and
// one-shot ensemble queries against the backend.
package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/ertviz/pkg/client"
	"github.com/turtacn/ertviz/pkg/errors"
)

type cliContextKey struct{}

// RootOptions holds the global flags.
type RootOptions struct {
	ConfigPath   string
	LogLevel     string
	OutputFormat string
	Verbose      bool
	Timeout      time.Duration
	BackendURL   string
}

// CLIContext carries the initialized dependencies through the command tree.
type CLIContext struct {
	Config       *config.Config
	ConfigPath   string
	Logger       logging.Logger
	Client       *client.Client
	OutputFormat string
	Verbose      bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "ertviz",
		Short: "Ensemble result viewer",
		Long: "ertviz plots the responses of ensemble experiments served by an ERT storage\n" +
			"API, either through the web viewer (serve) or from the command line.",
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", config.Version, config.GitCommit, config.BuildDate),
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return persistentPreRun(cmd, opts)
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := cmd.PersistentFlags()
	pf.StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default: ./ertviz.yaml, ~/.ertviz/config.yaml, /etc/ertviz/config.yaml)")
	pf.StringVar(&opts.LogLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVarP(&opts.OutputFormat, "output", "o", "table", "output format (text, json, table)")
	pf.BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	pf.DurationVar(&opts.Timeout, "timeout", 0, "backend request timeout (overrides config)")
	pf.StringVar(&opts.BackendURL, "backend", "", "backend API root (overrides config)")

	cmd.AddCommand(
		NewServeCmd(),
		NewEnsemblesCmd(),
		NewResponsesCmd(),
		NewPlotCmd(),
		NewVersionCmd(),
	)
	return cmd
}

func persistentPreRun(cmd *cobra.Command, opts *RootOptions) error {
	switch opts.OutputFormat {
	case "text", "json", "table":
	default:
		return errors.Newf(errors.CodeInvalidParam, "unknown output format %q", opts.OutputFormat)
	}

	cfg, path, err := initConfig(opts)
	if err != nil {
		return fmt.Errorf("config initialization failed: %w", err)
	}

	logger, err := initLogger(cfg, opts)
	if err != nil {
		return fmt.Errorf("logger initialization failed: %w", err)
	}

	c, err := initClient(cfg, logger)
	if err != nil {
		return fmt.Errorf("backend client initialization failed: %w", err)
	}

	cliCtx := &CLIContext{
		Config:       cfg,
		ConfigPath:   path,
		Logger:       logger,
		Client:       c,
		OutputFormat: opts.OutputFormat,
		Verbose:      opts.Verbose,
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(context.WithValue(ctx, cliContextKey{}, cliCtx))
	return nil
}

// initConfig loads the first config file found, falling back to the
// environment.  Flags override both.
func initConfig(opts *RootOptions) (*config.Config, string, error) {
	path := opts.ConfigPath
	if path == "" {
		path = findConfigFile()
	}

	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.Load(path)
	} else {
		cfg, err = config.LoadFromEnv()
	}
	if err != nil {
		return nil, "", err
	}

	if opts.BackendURL != "" {
		cfg.Backend.BaseURL = opts.BackendURL
	}
	if opts.Timeout > 0 {
		cfg.Backend.Timeout = opts.Timeout
	}
	if opts.LogLevel != "" {
		cfg.Log.Level = opts.LogLevel
	}
	if opts.Verbose {
		cfg.Log.Level = string(logging.LevelDebug)
	}
	return cfg, path, nil
}

func findConfigFile() string {
	paths := []string{"./ertviz.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".ertviz", "config.yaml"))
	}
	paths = append(paths, "/etc/ertviz/config.yaml")

	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// initLogger logs to stderr so that stdout carries only command output.
func initLogger(cfg *config.Config, _ *RootOptions) (logging.Logger, error) {
	logCfg := cfg.Log
	logCfg.OutputPaths = []string{"stderr"}
	logCfg.ErrorOutputPaths = []string{"stderr"}
	return logging.NewLogger(logCfg)
}

func initClient(cfg *config.Config, logger logging.Logger) (*client.Client, error) {
	b := cfg.Backend
	return client.NewClient(b.BaseURL,
		client.WithTimeout(b.Timeout),
		client.WithUserAgent(b.UserAgent),
		client.WithToken(b.Token),
		client.WithLogger(logging.NewPrintf(logger.Named("backend"))),
	)
}

// GetCLIContext extracts the CLIContext stored by the root command.
func GetCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	ctx := cmd.Context()
	if ctx == nil {
		return nil, errors.New(errors.CodeInternal, "command context is nil")
	}
	cliCtx, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok || cliCtx == nil {
		return nil, errors.New(errors.CodeInternal, "CLIContext not found in command context")
	}
	return cliCtx, nil
}

// Execute runs the root command with os.Args.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		PrintError(root, err)
		return err
	}
	return nil
}
