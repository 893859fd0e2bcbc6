package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"lifedash/internal/app"
	"lifedash/internal/config"
	"lifedash/internal/handler"
	"lifedash/internal/httpserver"
	"lifedash/pkg/logger"
)

func main() {
	log := logger.NewLogger("notify-server")
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load config", zap.Error(err))
	}

	log.Info("Starting notify-server...",
		zap.String("port", cfg.Server.Port),
		zap.String("store", cfg.Store.Driver),
		zap.String("timezone", cfg.Notification.Timezone),
	)

	// 配置缺失不阻止启动，每次请求会返回 500
	if err := cfg.Validate(); err != nil {
		log.Warn("Configuration incomplete", zap.Error(err))
	}

	application := app.New(cfg, log)
	defer application.Close()

	notifyHandler := handler.NewNotifyHandler(application, log)
	router := httpserver.NewRouter(notifyHandler, application.Ready, cfg.JWT)
	srv := &http.Server{
		Addr:              cfg.Server.Port,
		Handler:           router.Engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down notify-server gracefully...")

	// 给进行中的批次留出时间
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}

	log.Info("notify-server shutdown complete")
}
