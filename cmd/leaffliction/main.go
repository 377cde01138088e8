package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"leaffliction/internal/cli"
	"leaffliction/internal/config"
	"leaffliction/internal/logging"
	"leaffliction/internal/pipeline"
	"leaffliction/internal/storage"
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 1
	}

	logger, err := logging.Setup(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 1
	}

	store, err := storage.New(cfg.Paths.DatabasePath)
	if err != nil {
		// jobs still run; only history is lost
		logger.Warn("job store unavailable", "path", cfg.Paths.DatabasePath, "error", err)
	}
	defer store.Close()

	pipe := pipeline.New(ctx, logger, store)
	defer pipe.Stop()

	if err := cli.NewRootCmd(cfg, logger, store, pipe).ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
