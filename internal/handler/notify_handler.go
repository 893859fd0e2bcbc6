package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"lifedash/internal/lock"
	"lifedash/internal/model"
	"lifedash/pkg/logger"
)

// Runner 执行一次提醒调度
type Runner interface {
	Run(ctx context.Context) (*model.Summary, error)
}

type NotifyHandler struct {
	runner Runner
	logger *zap.Logger
}

func NewNotifyHandler(runner Runner, logger *zap.Logger) *NotifyHandler {
	return &NotifyHandler{runner: runner, logger: logger}
}

// Preflight CORS 预检，不触发任何调度
func (h *NotifyHandler) Preflight(c *gin.Context) {
	c.String(http.StatusOK, "ok")
}

// Trigger 执行一次调度并返回汇总
func (h *NotifyHandler) Trigger(c *gin.Context) {
	// 客户端断开不会打断正在进行的批次
	ctx := context.WithoutCancel(c.Request.Context())
	log := logger.WithTrace(ctx, h.logger)

	summary, err := h.runner.Run(ctx)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, lock.ErrHeld) {
			status = http.StatusConflict
			log.Warn("Notification run rejected", zap.Error(err))
		} else {
			log.Error("Notification run failed", zap.Error(err))
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, summary)
}
