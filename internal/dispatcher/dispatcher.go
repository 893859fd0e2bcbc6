package dispatcher

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"lifedash/internal/mailer"
	"lifedash/internal/model"
	"lifedash/pkg/logger"
	"lifedash/pkg/metrics"
)

// 结果事件的 routing key
const (
	RoutingKeySent   = "calendar.notification.sent"
	RoutingKeyFailed = "calendar.notification.failed"
)

// Source 提供本次需要发送的提醒
type Source interface {
	FetchDue(ctx context.Context) ([]model.PendingNotification, error)
}

// LogSink 记录已发送的提醒
type LogSink interface {
	InsertLog(ctx context.Context, entry model.NotificationLogEntry) error
}

// Sender 邮件服务
type Sender interface {
	Send(ctx context.Context, msg mailer.Message) error
}

// Renderer 渲染提醒邮件
type Renderer interface {
	Render(n model.PendingNotification) (mailer.Message, error)
}

// Publisher 发布处理结果事件（可选）
type Publisher interface {
	PublishWithContext(ctx context.Context, routingKey string, payload any) error
}

// OutcomeEvent 发布到 MQ 的结果事件
type OutcomeEvent struct {
	model.Outcome
	UserID      string    `json:"user_id"`
	Attempts    int       `json:"attempts"`
	ProcessedAt time.Time `json:"processed_at"`
}

// Dispatcher 一次运行内按顺序发送所有到期提醒
type Dispatcher struct {
	source    Source
	logs      LogSink
	sender    Sender
	renderer  Renderer
	publisher Publisher
	logger    *zap.Logger

	retry  RetryPolicy
	pacing time.Duration
	clock  Clock
}

// New 创建 Dispatcher，默认 3 次尝试、600ms 发送间隔
func New(source Source, logs LogSink, sender Sender, renderer Renderer, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		source:   source,
		logs:     logs,
		sender:   sender,
		renderer: renderer,
		logger:   logger,
		retry:    DefaultRetryPolicy(),
		pacing:   600 * time.Millisecond, // Resend 每秒 2 次的上限
		clock:    RealClock(),
	}
}

// WithRetryPolicy 设置限流重试策略
func (d *Dispatcher) WithRetryPolicy(p RetryPolicy) *Dispatcher {
	d.retry = p
	return d
}

// WithPacing 设置相邻两条提醒之间的最小间隔
func (d *Dispatcher) WithPacing(interval time.Duration) *Dispatcher {
	d.pacing = interval
	return d
}

// WithClock 替换时钟
func (d *Dispatcher) WithClock(c Clock) *Dispatcher {
	d.clock = c
	return d
}

// WithPublisher 设置结果事件发布者
func (d *Dispatcher) WithPublisher(p Publisher) *Dispatcher {
	d.publisher = p
	return d
}

// Run 拉取到期提醒并逐条发送。只有拉取失败会返回 error，单条失败记录在结果中
func (d *Dispatcher) Run(ctx context.Context) (*model.Summary, error) {
	start := time.Now()
	log := logger.WithTrace(ctx, d.logger)

	pending, err := d.source.FetchDue(ctx)
	if err != nil {
		metrics.RecordRunDuration("error", time.Since(start))
		return nil, fmt.Errorf("failed to fetch pending notifications: %w", err)
	}

	if len(pending) == 0 {
		log.Info("No pending notifications")
		metrics.RecordRunDuration("empty", time.Since(start))
		return &model.Summary{Message: model.MessageNonePending, Count: 0}, nil
	}

	log.Info("Processing pending notifications", zap.Int("count", len(pending)))

	pacer := NewPacer(d.pacing, d.clock)
	results := make([]model.Outcome, 0, len(pending))
	for _, n := range pending {
		// 限速等待失败（ctx 结束）也继续，批次不会中途放弃
		_ = pacer.Wait(ctx)
		results = append(results, d.process(ctx, log, pacer, n))
	}

	summary := &model.Summary{
		Message: model.MessageProcessed,
		Count:   len(results),
		Results: results,
	}
	log.Info("Notifications processed",
		zap.Int("count", summary.Count),
		zap.Int("sent", summary.Sent()),
		zap.Int("failed", summary.Failed()),
		zap.Duration("took", time.Since(start)),
	)
	metrics.RecordRunDuration("processed", time.Since(start))
	return summary, nil
}

// process 处理单条提醒：渲染、发送（含重试）、写日志
func (d *Dispatcher) process(ctx context.Context, log *zap.Logger, pacer *Pacer, n model.PendingNotification) model.Outcome {
	log = log.With(
		zap.String("event_id", n.EventID),
		zap.String("notification_type", string(n.NotificationType)),
	)
	outcome := model.Outcome{
		EventID:          n.EventID,
		Email:            n.Email,
		NotificationType: n.NotificationType,
	}

	attempts := 0
	msg, err := d.renderer.Render(n)
	if err == nil {
		attempts, err = d.sendWithRetry(ctx, log, pacer, msg)
	}

	if err != nil {
		log.Error("Failed to send notification", zap.Int("attempts", attempts), zap.Error(err))
		outcome.Status = model.StatusFailed
		outcome.Error = err.Error()
		metrics.IncrementNotificationProcessed(model.StatusFailed, string(n.NotificationType))
		d.publish(ctx, log, RoutingKeyFailed, n, outcome, attempts)
		return outcome
	}

	// 邮件已经发出，日志写入失败只做诊断，不影响结果
	if err := d.logs.InsertLog(ctx, model.LogEntryFor(n)); err != nil {
		log.Error("Failed to write notification log", zap.Error(err))
		metrics.IncrementLogWriteFailure()
	}

	log.Info("Notification sent", zap.Int("attempts", attempts))
	outcome.Status = model.StatusSent
	metrics.IncrementNotificationProcessed(model.StatusSent, string(n.NotificationType))
	d.publish(ctx, log, RoutingKeySent, n, outcome, attempts)
	return outcome
}

func (d *Dispatcher) publish(ctx context.Context, log *zap.Logger, routingKey string, n model.PendingNotification, outcome model.Outcome, attempts int) {
	if d.publisher == nil {
		return
	}
	event := OutcomeEvent{
		Outcome:     outcome,
		UserID:      n.UserID,
		Attempts:    attempts,
		ProcessedAt: d.clock.Now().UTC(),
	}
	if err := d.publisher.PublishWithContext(ctx, routingKey, event); err != nil {
		log.Warn("Failed to publish notification event",
			zap.String("routing_key", routingKey),
			zap.Error(err),
		)
	}
}
