package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"lifedash/internal/handler"
	"lifedash/pkg/config"
)

// TriggerPaths 触发一次调度的路径
var TriggerPaths = []string{"/", "/send-notifications"}

// 除 OPTIONS 外的方法都会触发调度
var triggerMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodHead,
	http.MethodConnect,
	http.MethodTrace,
}

// ReadyFunc 就绪检查
type ReadyFunc func(ctx context.Context) error

type Router struct {
	Engine *gin.Engine
}

func NewRouter(notifyHandler *handler.NotifyHandler, ready ReadyFunc, jwtCfg config.JWTConfig) *Router {
	r := gin.Default()
	r.Use(TraceMiddleware(), MetricsMiddleware())

	// Health endpoints
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	r.HEAD("/healthz", func(c *gin.Context) {
		c.Status(200)
	})

	r.GET("/readyz", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c, 2*time.Second)
		defer cancel()

		if err := ready(ctx); err != nil {
			c.JSON(500, gin.H{"status": "not_ready", "error": err.Error()})
			return
		}

		c.JSON(200, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	trigger := []gin.HandlerFunc{CORSMiddleware()}
	if jwtCfg.Secret != "" {
		trigger = append(trigger, AuthMiddleware(jwtCfg.Secret, jwtCfg.Role))
	}
	trigger = append(trigger, notifyHandler.Trigger)

	for _, path := range TriggerPaths {
		r.OPTIONS(path, CORSMiddleware(), notifyHandler.Preflight)
		for _, method := range triggerMethods {
			r.Handle(method, path, trigger...)
		}
	}

	return &Router{Engine: r}
}

func (r *Router) Run(port string) error {
	return r.Engine.Run(port)
}
