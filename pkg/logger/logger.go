package logger

import (
	"context"
	"os"

	"go.uber.org/zap"

	"lifedash/pkg/trace"
)

var Log *zap.Logger

// NewLogger 创建全局 logger；LOG_FORMAT=console 时使用开发模式输出
func NewLogger(service string) *zap.Logger {
	var (
		l   *zap.Logger
		err error
	)
	if os.Getenv("LOG_FORMAT") == "console" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		panic(err)
	}
	if service != "" {
		l = l.With(zap.String("service", service))
	}
	Log = l
	return l
}

// WithTrace 从 context 中提取 trace_id 并添加到 logger
func WithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	traceID := trace.FromContext(ctx)
	if traceID != "" {
		return logger.With(zap.String("trace_id", traceID))
	}
	return logger
}
