// @title                       Comedores API
// @version                     1.0
// @BasePath                    /
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"comedores/internal/app"
	"comedores/internal/config"
	"comedores/internal/logger"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal("build app", zap.Error(err))
	}
	defer a.Close()

	if err := a.Run(ctx); err != nil {
		log.Error("server stopped", zap.Error(err))
		return
	}
	log.Info("goodbye")
}
