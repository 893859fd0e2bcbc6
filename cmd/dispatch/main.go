// Command dispatch performs a single reminder run and prints the summary as JSON.
// It is meant for cron or a platform scheduler.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"os"

	"go.uber.org/zap"

	"lifedash/internal/app"
	"lifedash/internal/config"
	"lifedash/internal/lock"
	"lifedash/pkg/logger"
	"lifedash/pkg/trace"
)

func main() {
	os.Exit(run())
}

func run() int {
	log := logger.NewLogger("notify-dispatch")
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		log.Error("Failed to load config", zap.Error(err))
		return 1
	}

	ctx := trace.WithContext(context.Background(), trace.GenerateTraceID())

	application := app.New(cfg, log)
	defer application.Close()

	summary, err := application.Run(ctx)
	if errors.Is(err, lock.ErrHeld) {
		log.Warn("Another run is in progress, skipping")
		return 0
	}
	if err != nil {
		log.Error("Notification run failed", zap.Error(err))
		_ = json.NewEncoder(os.Stdout).Encode(map[string]string{"error": err.Error()})
		return 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		log.Error("Failed to write summary", zap.Error(err))
		return 1
	}
	return 0
}
