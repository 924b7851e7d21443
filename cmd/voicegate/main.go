package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/emarini/voicegate/internal/app"
	"github.com/emarini/voicegate/internal/config"
	"github.com/emarini/voicegate/internal/httpapi"
	"github.com/emarini/voicegate/internal/logging"
)

func main() {
	log := logging.New()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("config error", zap.Error(err))
	}

	result, err := app.Build(context.Background(), cfg, log)
	if err != nil {
		log.Fatal("build failed", zap.Error(err))
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			log.Warn("cleanup failed", zap.Error(err))
		}
	}()

	runCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Info("voicegate starting",
		zap.String("engine", result.Engine),
		zap.Strings("functions", result.Registry.Names()))

	if err := httpapi.Serve(runCtx, cfg, result.API.Router(), log); err != nil {
		log.Fatal("server error", zap.Error(err))
	}
	log.Info("shutdown complete")
}
