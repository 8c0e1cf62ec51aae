package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/drivetrain-rt/drivetrain/internal/config"
	"github.com/drivetrain-rt/drivetrain/internal/logging"
	"github.com/drivetrain-rt/drivetrain/internal/runtime"
	"github.com/drivetrain-rt/drivetrain/internal/server"
	"go.uber.org/zap"
)

func main() {
	tablePath := flag.String("drivers", "drivers.yaml", "Driver table file (.yaml or .toml)")
	port := flag.String("port", "", "HTTP port (overrides PORT)")
	flag.Parse()

	cfg := config.LoadOrDefault()
	if *port != "" {
		cfg.Server.Port = *port
	}

	log, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
		OutputPaths: []string{"stdout"},
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	table, err := config.LoadTable(*tablePath)
	if err != nil {
		log.Fatal("invalid driver table", zap.String("path", *tablePath), zap.Error(err))
	}

	rt, err := runtime.Build(cfg, table, log)
	if err != nil {
		log.Fatal("failed to assemble runtime", zap.Error(err))
	}

	srv := server.New(cfg, server.Deps{
		Registry: rt.Registry(),
		Bridge:   rt.Bridge(),
		Gatherer: rt.Gatherer(),
		Streamer: rt.Streamer(),
		Drivers:  rt,
	}, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt.Start(ctx)
	log.Info("drivetrain started",
		zap.String("drivers", *tablePath),
		zap.String("addr", cfg.Server.Host+":"+cfg.Server.Port),
	)

	if err := srv.Run(ctx); err != nil {
		log.Error("http server failed", zap.Error(err))
	}

	rt.Stop()
}
