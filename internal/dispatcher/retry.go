package dispatcher

import (
	"context"
	"time"

	"go.uber.org/zap"

	"lifedash/internal/mailer"
	"lifedash/pkg/metrics"
	"lifedash/pkg/util"
)

// RetryPolicy 限流（429）时的重试策略：第 n 次失败后等待 BaseDelay*n
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// DefaultRetryPolicy 最多 3 次尝试，基础退避 500ms
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 3, BaseDelay: 500 * time.Millisecond}
}

// Backoff 第 attempt 次尝试失败后的等待时间
func (p RetryPolicy) Backoff(attempt int) time.Duration {
	return p.BaseDelay * time.Duration(attempt)
}

// sendWithRetry 发送一封邮件；只有限流错误会重试，返回实际尝试次数
func (d *Dispatcher) sendWithRetry(ctx context.Context, log *zap.Logger, pacer *Pacer, msg mailer.Message) (int, error) {
	maxAttempts := d.retry.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}

	for attempt := 1; ; attempt++ {
		err := d.sender.Send(ctx, msg)
		pacer.Mark()
		metrics.IncrementSendAttempt(util.ClassifySendError(err))
		if err == nil {
			return attempt, nil
		}

		if !mailer.IsRateLimited(err) || attempt >= maxAttempts {
			return attempt, err
		}

		wait := d.retry.Backoff(attempt)
		log.Warn("Email provider rate limited, backing off",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", wait),
		)
		if sleepErr := d.clock.Sleep(ctx, wait); sleepErr != nil {
			return attempt, err
		}
	}
}
