// Package lock keeps two dispatcher runs from overlapping.
package lock

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lifedash/pkg/trace"
)

// RunKey 运行锁的 Redis key
const RunKey = "lifedash:notify:run"

// ErrHeld 另一次运行正在进行
var ErrHeld = errors.New("a notification run is already in progress")

// 只删除自己持有的锁
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0`

// Client RunLock 用到的 Redis 命令
type Client interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

type RunLock struct {
	rdb    Client
	key    string
	ttl    time.Duration
	logger *zap.Logger
}

func NewRunLock(rdb Client, ttl time.Duration, logger *zap.Logger) *RunLock {
	return &RunLock{rdb: rdb, key: RunKey, ttl: ttl, logger: logger}
}

// Acquire 获取运行锁，返回的 release 必须调用。
// 锁已被占用时返回 ErrHeld；Redis 不可用时不阻止运行
func (l *RunLock) Acquire(ctx context.Context) (release func(), err error) {
	token := trace.GenerateTraceID()

	ok, err := l.rdb.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		l.logger.Warn("Run lock unavailable, continuing without it", zap.Error(err))
		return func() {}, nil
	}
	if !ok {
		return nil, ErrHeld
	}

	return func() {
		// 运行可能已超过请求的生命周期
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := l.rdb.Eval(releaseCtx, releaseScript, []string{l.key}, token).Err(); err != nil {
			l.logger.Warn("Failed to release run lock", zap.Error(err))
		}
	}, nil
}
