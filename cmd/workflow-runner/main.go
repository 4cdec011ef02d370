package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	workflowrunner "github.com/magabrotheeeer/subscription-tracker/internal/app/workflow-runner"
	"github.com/magabrotheeeer/subscription-tracker/internal/config"
	"github.com/magabrotheeeer/subscription-tracker/internal/lib/sl"
)

func main() {
	cfg := config.MustLoad()
	logger := sl.New(cfg.Env, "workflow-runner", os.Stdout)

	logger.Info("starting workflow-runner", slog.String("env", cfg.Env))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := workflowrunner.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to initialize workflow-runner", sl.Err(err))
		os.Exit(1)
	}

	if err := app.Run(ctx); err != nil {
		logger.Error("workflow-runner stopped with error", sl.Err(err))
		os.Exit(1)
	}

	logger.Info("workflow-runner stopped gracefully")
}
