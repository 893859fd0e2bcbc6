package app

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lifedash/internal/config"
	"lifedash/internal/lock"
	"lifedash/internal/model"
)

type stubRunner struct{ runs int }

func (r *stubRunner) Run(context.Context) (*model.Summary, error) {
	r.runs++
	return &model.Summary{Message: model.MessageNonePending}, nil
}

type stubLocker struct {
	err      error
	released int
}

func (l *stubLocker) Acquire(context.Context) (func(), error) {
	if l.err != nil {
		return nil, l.err
	}
	return func() { l.released++ }, nil
}

func validConfig() *config.Config {
	cfg := &config.Config{}
	cfg.Store.Driver = config.DriverRest
	cfg.Supabase.URL = "https://project.supabase.test"
	cfg.Supabase.ServiceRoleKey = "service"
	cfg.Resend.APIKey = "re_key"
	cfg.Resend.From = "Calendar <noreply@example.com>"
	cfg.Notification.Timezone = "UTC"
	return cfg
}

func newTestApp(cfg *config.Config, build func(context.Context) (*components, error)) *App {
	a := New(cfg, zap.NewNop())
	a.build = build
	return a
}

func TestRun_MissingConfigFailsBeforeBuild(t *testing.T) {
	cfg := validConfig()
	cfg.Resend.APIKey = ""
	built := 0
	a := newTestApp(cfg, func(context.Context) (*components, error) {
		built++
		return nil, errors.New("unexpected")
	})

	_, err := a.Run(context.Background())

	var missing *config.MissingError
	require.True(t, errors.As(err, &missing))
	assert.Equal(t, []string{"RESEND_API_KEY"}, missing.Keys)
	assert.Zero(t, built)
}

func TestRun_BuildsOnceAndRetriesAfterFailure(t *testing.T) {
	runner := &stubRunner{}
	attempts := 0
	a := newTestApp(validConfig(), func(context.Context) (*components, error) {
		attempts++
		if attempts == 1 {
			return nil, errors.New("postgrest unreachable")
		}
		return &components{runner: runner}, nil
	})

	_, err := a.Run(context.Background())
	require.Error(t, err)

	for i := 0; i < 2; i++ {
		summary, err := a.Run(context.Background())
		require.NoError(t, err)
		assert.Equal(t, model.MessageNonePending, summary.Message)
	}
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 2, runner.runs)
}

func TestRun_LockHeldSkipsRun(t *testing.T) {
	runner := &stubRunner{}
	a := newTestApp(validConfig(), func(context.Context) (*components, error) {
		return &components{runner: runner, locker: &stubLocker{err: lock.ErrHeld}}, nil
	})

	_, err := a.Run(context.Background())
	assert.True(t, errors.Is(err, lock.ErrHeld))
	assert.Zero(t, runner.runs)
}

func TestRun_ReleasesLockAfterRun(t *testing.T) {
	runner := &stubRunner{}
	locker := &stubLocker{}
	a := newTestApp(validConfig(), func(context.Context) (*components, error) {
		return &components{runner: runner, locker: locker}, nil
	})

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, runner.runs)
	assert.Equal(t, 1, locker.released)
}

type stubPinger struct{ err error }

func (p stubPinger) Ping(context.Context) error { return p.err }

func TestReady_ReportsFailingDependency(t *testing.T) {
	a := newTestApp(validConfig(), func(context.Context) (*components, error) {
		return &components{
			runner: &stubRunner{},
			checks: map[string]pinger{"redis": stubPinger{err: errors.New("refused")}},
		}, nil
	})

	err := a.Ready(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis not ready")
}

func TestClose_RunsClosersInReverse(t *testing.T) {
	var order []string
	a := newTestApp(validConfig(), func(context.Context) (*components, error) {
		return &components{
			runner: &stubRunner{},
			closers: []func(){
				func() { order = append(order, "db") },
				func() { order = append(order, "redis") },
			},
		}, nil
	})

	_, err := a.Run(context.Background())
	require.NoError(t, err)
	a.Close()
	assert.Equal(t, []string{"redis", "db"}, order)
}
