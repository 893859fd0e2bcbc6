package dispatcher

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Pacer 保证相邻两次邮件服务调用之间至少间隔 interval，
// 间隔从上一次实际调用（含重试）算起
type Pacer struct {
	every   rate.Limit
	limiter *rate.Limiter
	clock   Clock
}

// NewPacer interval <= 0 时不做限速
func NewPacer(interval time.Duration, clock Clock) *Pacer {
	p := &Pacer{clock: clock}
	if interval > 0 {
		p.every = rate.Every(interval)
	}
	return p
}

// Mark 记录一次邮件服务调用，下一个时间片从此刻重新计时
func (p *Pacer) Mark() {
	if p.every == 0 {
		return
	}
	now := p.clock.Now()
	p.limiter = rate.NewLimiter(p.every, 1)
	p.limiter.ReserveN(now, 1)
}

// Wait 等到距上一次调用满 interval；还没有调用过时立即返回
func (p *Pacer) Wait(ctx context.Context) error {
	if p.limiter == nil {
		return nil
	}
	now := p.clock.Now()
	r := p.limiter.ReserveN(now, 1)
	delay := r.DelayFrom(now)
	// 时间片以 Mark 为准，这里只读取延迟
	r.CancelAt(now)
	if delay <= 0 {
		return nil
	}
	return p.clock.Sleep(ctx, delay)
}
