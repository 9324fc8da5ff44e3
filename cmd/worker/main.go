// Command worker consumes figure events from Kafka and archives snapshots
// to object storage.
package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/turtacn/ertviz/internal/app"
	"github.com/turtacn/ertviz/internal/config"
	"github.com/turtacn/ertviz/internal/infrastructure/monitoring/logging"
)

func main() {
	configPath := flag.String("config", "", "path to configuration file (default: ERTVIZ_* environment only)")
	probeAddr := flag.String("probe-addr", "", "address for health and metrics endpoints (default: server.host:server.port)")
	flag.Parse()

	if err := run(*configPath, *probeAddr); err != nil {
		fmt.Fprintf(os.Stderr, "worker: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, probeAddr string) error {
	var (
		cfg *config.Config
		err error
	)
	if configPath == "" {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(configPath)
	}
	if err != nil {
		return err
	}
	if probeAddr == "" {
		probeAddr = cfg.Server.Addr()
	}

	logger, err := logging.NewLogger(cfg.Log)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	w, err := app.NewWorker(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := w.Close(); err != nil {
			logger.Warn("worker close failed", logging.Err(err))
		}
	}()

	l, err := net.Listen("tcp", probeAddr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", probeAddr, err)
	}
	logger.Info("starting ertviz worker",
		logging.String("version", config.Version),
		logging.String("topic", cfg.Kafka.Topic),
		logging.String("probe_addr", l.Addr().String()))
	return w.Run(ctx, l)
}
