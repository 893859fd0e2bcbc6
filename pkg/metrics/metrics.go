package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// 每条提醒的最终结果计数
	NotificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "calendar_notifications_processed_total",
			Help: "Calendar reminders processed, by final status and notification type",
		},
		[]string{"status", "notification_type"}, // status: sent, failed
	)

	// 邮件服务调用次数（含重试）
	SendAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "email_send_attempts_total",
			Help: "Email provider call attempts, by result class",
		},
		[]string{"result"}, // result: ok, rate_limited, client_error, server_error, network_error, timeout, unknown
	)

	// 邮件服务调用延迟（毫秒）
	ProviderLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "email_provider_latency_ms",
			Help:    "Email provider call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(25, 2, 10), // 25ms to ~12s
		},
		[]string{"status"},
	)

	// 发送日志写入失败计数
	LogWriteFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "notification_log_write_failures_total",
			Help: "Notification log inserts that failed after a successful send",
		},
	)

	// 一次调度运行的耗时（秒）
	RunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "notification_run_duration_seconds",
			Help:    "Duration of one dispatcher run in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		},
		[]string{"outcome"}, // outcome: processed, empty, error
	)

	// 数据库查询延迟（秒）
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Database query duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 12), // 1ms to ~4s
		},
		[]string{"operation"},
	)

	// HTTP 请求延迟（秒）
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 16), // 1ms to ~65s
		},
		[]string{"method", "path", "status"},
	)
)

// IncrementNotificationProcessed 增加提醒处理计数
func IncrementNotificationProcessed(status, notificationType string) {
	NotificationsProcessed.WithLabelValues(status, notificationType).Inc()
}

// IncrementSendAttempt 增加邮件发送尝试计数
func IncrementSendAttempt(result string) {
	SendAttempts.WithLabelValues(result).Inc()
}

// RecordProviderLatency 记录邮件服务调用延迟
func RecordProviderLatency(status string, duration time.Duration) {
	ProviderLatency.WithLabelValues(status).Observe(float64(duration.Milliseconds()))
}

// IncrementLogWriteFailure 增加日志写入失败计数
func IncrementLogWriteFailure() {
	LogWriteFailures.Inc()
}

// RecordRunDuration 记录一次调度运行耗时
func RecordRunDuration(outcome string, duration time.Duration) {
	RunDuration.WithLabelValues(outcome).Observe(duration.Seconds())
}

// RecordDBQueryDuration 记录数据库查询延迟
func RecordDBQueryDuration(operation string, duration time.Duration) {
	DBQueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordHTTPRequestDuration 记录 HTTP 请求延迟
func RecordHTTPRequestDuration(method, path, status string, duration time.Duration) {
	HTTPRequestDuration.WithLabelValues(method, path, status).Observe(duration.Seconds())
}
