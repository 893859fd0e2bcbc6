// Package app wires the dispatcher and its collaborators from configuration.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"lifedash/internal/config"
	"lifedash/internal/dispatcher"
	"lifedash/internal/lock"
	"lifedash/internal/mailer"
	"lifedash/internal/model"
	"lifedash/internal/repository"
	"lifedash/pkg/db"
	"lifedash/pkg/mq"
	"lifedash/pkg/redis"
)

// Runner 执行一次提醒调度
type Runner interface {
	Run(ctx context.Context) (*model.Summary, error)
}

// Locker 运行锁
type Locker interface {
	Acquire(ctx context.Context) (release func(), err error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// components 由配置构建，整个进程只构建一次
type components struct {
	runner  Runner
	locker  Locker
	checks  map[string]pinger
	closers []func()
}

// App 每次调用都校验配置；依赖在第一次成功构建后复用，构建失败不缓存
type App struct {
	cfg    *config.Config
	logger *zap.Logger

	mu    sync.Mutex
	built *components
	build func(ctx context.Context) (*components, error)
}

func New(cfg *config.Config, logger *zap.Logger) *App {
	a := &App{cfg: cfg, logger: logger}
	a.build = a.buildComponents
	return a
}

// Run 校验配置，获取运行锁，执行一次调度。
// 配置缺失返回 *config.MissingError，锁被占用返回 lock.ErrHeld
func (a *App) Run(ctx context.Context) (*model.Summary, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, err
	}

	c, err := a.components(ctx)
	if err != nil {
		return nil, err
	}

	if c.locker != nil {
		release, err := c.locker.Acquire(ctx)
		if err != nil {
			return nil, err
		}
		defer release()
	}

	return c.runner.Run(ctx)
}

// Ready 检查配置以及已启用的下游依赖
func (a *App) Ready(ctx context.Context) error {
	if err := a.cfg.Validate(); err != nil {
		return err
	}
	c, err := a.components(ctx)
	if err != nil {
		return err
	}
	for name, p := range c.checks {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}
	return nil
}

// Close 释放连接
func (a *App) Close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.built == nil {
		return
	}
	for i := len(a.built.closers) - 1; i >= 0; i-- {
		a.built.closers[i]()
	}
	a.built = nil
}

func (a *App) components(ctx context.Context) (*components, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.built != nil {
		return a.built, nil
	}
	c, err := a.build(ctx)
	if err != nil {
		return nil, err
	}
	a.built = c
	return c, nil
}

func (a *App) buildComponents(ctx context.Context) (*components, error) {
	cfg := a.cfg
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	c := &components{checks: make(map[string]pinger)}
	fail := func(err error) (*components, error) {
		for i := len(c.closers) - 1; i >= 0; i-- {
			c.closers[i]()
		}
		return nil, err
	}

	// 数据来源与日志写入
	var (
		source dispatcher.Source
		sink   dispatcher.LogSink
	)
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		var pool *pgxpool.Pool
		pool, err = db.NewConnection(ctx, cfg.DB, a.logger)
		if err != nil {
			return fail(err)
		}
		c.closers = append(c.closers, pool.Close)
		store := repository.NewPgStore(pool, loc, a.logger)
		source, sink = store, store
		c.checks["postgres"] = store
	default:
		store := repository.NewRestStore(cfg.Supabase, a.logger)
		source, sink = store, store
		c.checks["postgrest"] = store
	}

	d := dispatcher.New(
		source,
		sink,
		mailer.NewClient(cfg.Resend, a.logger),
		mailer.NewRenderer(loc),
		a.logger,
	).
		WithPacing(cfg.Notification.Pacing()).
		WithRetryPolicy(dispatcher.RetryPolicy{
			MaxAttempts: cfg.Notification.RetryMaxAttempts,
			BaseDelay:   cfg.Notification.RetryBaseDelay(),
		})

	// 可选：结果事件
	if cfg.MQ.URL != "" {
		publisher, err := mq.NewPublisher(cfg.MQ.URL)
		if err != nil {
			return fail(fmt.Errorf("failed to init MQ publisher: %w", err))
		}
		c.closers = append(c.closers, publisher.Close)
		d.WithPublisher(publisher)
		c.checks["rabbitmq"] = mqPinger{publisher}
	}

	// 可选：运行锁
	if cfg.Redis.Addr != "" {
		var rdb *goredis.Client
		rdb, err = redis.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return fail(err)
		}
		c.closers = append(c.closers, func() { _ = rdb.Close() })
		c.locker = lock.NewRunLock(rdb, cfg.Notification.LockTTL(), a.logger)
		c.checks["redis"] = redisPinger{rdb}
	}

	c.runner = d
	a.logger.Info("Dispatcher initialized",
		zap.String("store", cfg.Store.Driver),
		zap.Bool("publisher", cfg.MQ.URL != ""),
		zap.Bool("run_lock", cfg.Redis.Addr != ""),
		zap.String("timezone", loc.String()),
	)
	return c, nil
}

type redisPinger struct{ rdb *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.rdb.Ping(ctx).Err() }

type mqPinger struct{ p *mq.Publisher }

func (m mqPinger) Ping(context.Context) error {
	if !m.p.IsConnected() {
		return errors.New("publisher connection closed")
	}
	return nil
}
