package httpserver

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"lifedash/pkg/metrics"
	"lifedash/pkg/trace"
	"lifedash/pkg/util"
)

// CORSMiddleware 浏览器调用触发接口所需的响应头
func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		c.Next()
	}
}

// TraceMiddleware 为每个请求设置 trace_id，并写回响应头
func TraceMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		traceID := trace.FromRequest(c.Request)
		c.Request = c.Request.WithContext(trace.WithContext(c.Request.Context(), traceID))
		c.Header(trace.HeaderName, traceID)
		c.Next()
	}
}

// MetricsMiddleware 记录请求耗时，未匹配的路由归为 unmatched
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

// AuthMiddleware 校验 bearer JWT 及其 role claim
func AuthMiddleware(secret, role string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := util.ExtractToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}

		claims, err := util.ParseRoleJWT(token, secret, role)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		if sub, ok := claims["sub"].(string); ok {
			c.Set("subject", sub)
		}
		c.Next()
	}
}
