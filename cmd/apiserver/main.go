// Command apiserver runs the ensemble viewer web server.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/ertviz/internal/app"
	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: ERTVIZ_* environment only)")
	port := flag.Int("port", 0, "HTTP port (overrides config)")
	flag.Parse()

	if err := run(*configPath, *port); err != nil {
		fmt.Fprintf(os.Stderr, "apiserver: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, port int) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if port > 0 {
		cfg.Server.Port = port
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting ertviz apiserver",
		logging.String("version", config.Version),
		logging.String("commit", config.GitCommit),
		logging.String("addr", cfg.Server.Addr()))

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		shutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := a.Close(shutdown); err != nil {
			logger.Warn("shutdown incomplete", logging.Err(err))
		}
	}()

	if configPath != "" {
		if err := a.WatchConfig(configPath); err != nil {
			logger.Warn("config watch disabled", logging.Err(err))
		}
	}
	return a.ListenAndServe(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.LoadFromEnv()
	}
	return config.Load(path)
}
