package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turtacn/ertviz/internal/app"
	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
)

// NewServeCmd runs the web viewer until SIGINT or SIGTERM.
func NewServeCmd() *cobra.Command {
	var (
		host  string
		port  int
		watch bool
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the web viewer",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cliCtx, err := GetCLIContext(cmd)
			if err != nil {
				return err
			}
			cfg := cliCtx.Config
			if host != "" {
				cfg.Server.Host = host
			}
			if port > 0 {
				cfg.Server.Port = port
			}
			return runServe(cmd.Context(), cliCtx, watch)
		},
	}
	cmd.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "listen port (overrides config)")
	cmd.Flags().BoolVar(&watch, "watch-config", true, "re-apply the log level when the config file changes")
	return cmd
}

func runServe(ctx context.Context, cliCtx *CLIContext, watch bool) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := cliCtx.Logger
	log.Info("starting ertviz",
		logging.String("version", config.Version),
		logging.String("addr", cliCtx.Config.Server.Addr()))

	a, err := app.New(ctx, cliCtx.Config, log)
	if err != nil {
		return err
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), cliCtx.Config.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdown); err != nil {
			log.Warn("shutdown incomplete", logging.Err(err))
		}
	}()

	if watch {
		if err := a.WatchConfig(cliCtx.ConfigPath); err != nil {
			log.Warn("config watch disabled", logging.Err(err))
		}
	}
	return a.ListenAndServe(ctx)
}
