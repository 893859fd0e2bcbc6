package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"lifedash/internal/mailer"
	"lifedash/internal/model"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeClock struct {
	now    time.Time
	sleeps []time.Duration
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 10, 17, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Sleep(_ context.Context, d time.Duration) error {
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	return nil
}

type fakeSource struct {
	items []model.PendingNotification
	err   error
	calls int
}

func (s *fakeSource) FetchDue(context.Context) ([]model.PendingNotification, error) {
	s.calls++
	return s.items, s.err
}

type fakeLogSink struct {
	entries []model.NotificationLogEntry
	err     error
}

func (s *fakeLogSink) InsertLog(_ context.Context, e model.NotificationLogEntry) error {
	s.entries = append(s.entries, e)
	return s.err
}

// scriptedSender 按收件人返回预设的错误序列，序列用完后返回 nil
type scriptedSender struct {
	script map[string][]error
	calls  []string
}

func (s *scriptedSender) Send(_ context.Context, msg mailer.Message) error {
	s.calls = append(s.calls, msg.To)
	errs := s.script[msg.To]
	if len(errs) == 0 {
		return nil
	}
	s.script[msg.To] = errs[1:]
	return errs[0]
}

func (s *scriptedSender) callsTo(to string) int {
	n := 0
	for _, c := range s.calls {
		if c == to {
			n++
		}
	}
	return n
}

type fakePublisher struct {
	mu     sync.Mutex
	keys   []string
	events []OutcomeEvent
	err    error
}

func (p *fakePublisher) PublishWithContext(_ context.Context, key string, payload any) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	p.events = append(p.events, payload.(OutcomeEvent))
	return p.err
}

type failingRenderer struct{}

func (failingRenderer) Render(model.PendingNotification) (mailer.Message, error) {
	return mailer.Message{}, errors.New("template exploded")
}

func rateLimited() error {
	return &mailer.ProviderError{StatusCode: http.StatusTooManyRequests, Body: `{"statusCode":429}`}
}

func badRequest() error {
	return &mailer.ProviderError{StatusCode: http.StatusBadRequest, Body: `{"statusCode":400,"message":"Invalid to"}`}
}

func pending(i int, typ model.NotificationType) model.PendingNotification {
	return model.PendingNotification{
		EventID:          fmt.Sprintf("evt-%d", i),
		UserID:           fmt.Sprintf("user-%d", i),
		Email:            fmt.Sprintf("user%d@example.com", i),
		Title:            fmt.Sprintf("Event %d", i),
		EventDate:        "2026-10-18T09:00:00Z",
		NotificationType: typ,
	}
}

type harness struct {
	source *fakeSource
	logs   *fakeLogSink
	sender *scriptedSender
	clock  *fakeClock
	d      *Dispatcher
}

func newHarness(items ...model.PendingNotification) *harness {
	h := &harness{
		source: &fakeSource{items: items},
		logs:   &fakeLogSink{},
		sender: &scriptedSender{script: map[string][]error{}},
		clock:  newFakeClock(),
	}
	h.d = New(h.source, h.logs, h.sender, mailer.NewRenderer(time.UTC), zap.NewNop()).
		WithClock(h.clock).
		WithPacing(0)
	return h
}

func statuses(s *model.Summary) []string {
	out := make([]string, 0, len(s.Results))
	for _, r := range s.Results {
		out = append(out, r.Status)
	}
	return out
}

func TestRun_MixedBatchScenario(t *testing.T) {
	h := newHarness(
		pending(1, model.NotificationToday),
		pending(2, model.NotificationOneDayBefore),
		pending(3, model.NotificationSevenDays),
	)
	h.sender.script["user2@example.com"] = []error{rateLimited(), rateLimited()}
	h.sender.script["user3@example.com"] = []error{badRequest()}

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, model.MessageProcessed, summary.Message)
	assert.Equal(t, 3, summary.Count)
	require.Len(t, summary.Results, 3)
	assert.Equal(t, []string{model.StatusSent, model.StatusSent, model.StatusFailed}, statuses(summary))

	assert.Equal(t, 1, h.sender.callsTo("user1@example.com"))
	assert.Equal(t, 3, h.sender.callsTo("user2@example.com"))
	assert.Equal(t, 1, h.sender.callsTo("user3@example.com"))
	assert.Len(t, h.sender.calls, 5)

	require.Len(t, h.logs.entries, 2)
	assert.Equal(t, model.NotificationLogEntry{EventID: "evt-1", UserID: "user-1", NotificationType: model.NotificationToday}, h.logs.entries[0])
	assert.Equal(t, model.NotificationLogEntry{EventID: "evt-2", UserID: "user-2", NotificationType: model.NotificationOneDayBefore}, h.logs.entries[1])

	failed := summary.Results[2]
	assert.Equal(t, "evt-3", failed.EventID)
	assert.Equal(t, "user3@example.com", failed.Email)
	assert.Equal(t, model.NotificationSevenDays, failed.NotificationType)
	assert.Contains(t, failed.Error, "status 400")

	// 429 之后的退避：500ms、1000ms
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.clock.sleeps)
}

func TestRun_EmptyListShortCircuits(t *testing.T) {
	h := newHarness()

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, &model.Summary{Message: model.MessageNonePending, Count: 0}, summary)
	assert.Empty(t, h.sender.calls)
	assert.Empty(t, h.logs.entries)
}

func TestRun_FetchErrorIsFatal(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday))
	h.source.err = errors.New("relation \"private.pending_notifications\" does not exist")

	summary, err := h.d.Run(context.Background())
	require.Error(t, err)
	assert.Nil(t, summary)
	assert.Contains(t, err.Error(), "failed to fetch pending notifications")
	assert.ErrorIs(t, err, h.source.err)
	assert.Empty(t, h.sender.calls)
	assert.Empty(t, h.logs.entries)
}

func TestRun_RateLimitExhaustsAfterThreeAttempts(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday))
	h.sender.script["user1@example.com"] = []error{rateLimited(), rateLimited(), rateLimited(), nil}

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{model.StatusFailed}, statuses(summary))
	assert.Contains(t, summary.Results[0].Error, "status 429")
	assert.Equal(t, 3, h.sender.callsTo("user1@example.com"))
	assert.Empty(t, h.logs.entries)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.clock.sleeps)
}

func TestRun_NonRateLimitErrorIsNotRetried(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"bad_request", badRequest()},
		{"server_error", &mailer.ProviderError{StatusCode: http.StatusInternalServerError}},
		{"transport", errors.New("connection reset by peer")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(pending(1, model.NotificationToday))
			h.sender.script["user1@example.com"] = []error{tt.err}

			summary, err := h.d.Run(context.Background())
			require.NoError(t, err)

			assert.Equal(t, []string{model.StatusFailed}, statuses(summary))
			assert.Equal(t, tt.err.Error(), summary.Results[0].Error)
			assert.Len(t, h.sender.calls, 1)
			assert.Empty(t, h.clock.sleeps)
			assert.Empty(t, h.logs.entries)
		})
	}
}

func TestRun_LogWriteFailureKeepsSentStatus(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday), pending(2, model.NotificationThreeDays))
	h.logs.err = errors.New("insert or update on table violates foreign key constraint")

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{model.StatusSent, model.StatusSent}, statuses(summary))
	for _, r := range summary.Results {
		assert.Empty(t, r.Error)
	}
	// 每条成功发送只尝试写一次日志
	assert.Len(t, h.logs.entries, 2)
}

func TestRun_FailureDoesNotStopBatchAndKeepsOrder(t *testing.T) {
	items := []model.PendingNotification{
		pending(1, model.NotificationToday),
		pending(2, model.NotificationToday),
		pending(3, model.NotificationToday),
		pending(4, model.NotificationToday),
	}
	h := newHarness(items...)
	h.sender.script["user1@example.com"] = []error{badRequest()}
	h.sender.script["user3@example.com"] = []error{errors.New("dial tcp: i/o timeout")}

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, len(items), summary.Count)
	require.Len(t, summary.Results, summary.Count)
	for i, r := range summary.Results {
		assert.Equal(t, items[i].EventID, r.EventID)
	}
	assert.Equal(t, []string{"user1@example.com", "user2@example.com", "user3@example.com", "user4@example.com"}, h.sender.calls)
	assert.Equal(t, 2, summary.Sent())
	assert.Equal(t, 2, summary.Failed())
}

func TestRun_DuplicateRecordsAreEachAttempted(t *testing.T) {
	n := pending(1, model.NotificationToday)
	h := newHarness(n, n)

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Count)
	assert.Len(t, h.sender.calls, 2)
	assert.Len(t, h.logs.entries, 2)
}

func TestRun_RenderFailureIsPerRecord(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday))
	h.d.renderer = failingRenderer{}

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, []string{model.StatusFailed}, statuses(summary))
	assert.Contains(t, summary.Results[0].Error, "template exploded")
	assert.Empty(t, h.sender.calls)
}

func TestRun_PacesSuccessiveRecords(t *testing.T) {
	h := newHarness(
		pending(1, model.NotificationToday),
		pending(2, model.NotificationToday),
		pending(3, model.NotificationToday),
	)
	h.d.WithPacing(600 * time.Millisecond)
	h.sender.script["user2@example.com"] = []error{badRequest()}

	_, err := h.d.Run(context.Background())
	require.NoError(t, err)

	// 第一条立即发送，之后每条之间间隔约 600ms，与上一条是否成功无关
	require.Len(t, h.clock.sleeps, 2)
	for _, s := range h.clock.sleeps {
		assert.InDelta(t, float64(600*time.Millisecond), float64(s), float64(time.Millisecond))
	}
}

// timedSender 记录每次调用发生时的假时钟时间
type timedSender struct {
	inner *scriptedSender
	clock *fakeClock
	at    []time.Time
}

func (s *timedSender) Send(ctx context.Context, msg mailer.Message) error {
	s.at = append(s.at, s.clock.Now())
	return s.inner.Send(ctx, msg)
}

func TestRun_PacingCountsFromLastRetry(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday), pending(2, model.NotificationToday))
	h.d.WithPacing(600 * time.Millisecond)
	h.sender.script["user1@example.com"] = []error{rateLimited(), rateLimited()}
	timed := &timedSender{inner: h.sender, clock: h.clock}
	h.d.sender = timed

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{model.StatusSent, model.StatusSent}, statuses(summary))

	// 两次退避之后，第二条仍需与第一条的最后一次尝试间隔一个完整的发送间隔
	require.Len(t, h.clock.sleeps, 3)
	assert.Equal(t, []time.Duration{500 * time.Millisecond, time.Second}, h.clock.sleeps[:2])
	assert.InDelta(t, float64(600*time.Millisecond), float64(h.clock.sleeps[2]), float64(time.Millisecond))

	require.Len(t, timed.at, 4)
	gap := timed.at[3].Sub(timed.at[2])
	assert.GreaterOrEqual(t, gap, 599*time.Millisecond)
}

func TestRun_PacingSkipsRecordsWithoutProviderCall(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday), pending(2, model.NotificationToday))
	h.d.WithPacing(600 * time.Millisecond)
	h.d.renderer = failingRenderer{}

	_, err := h.d.Run(context.Background())
	require.NoError(t, err)

	// 没有发生调用就不需要等待
	assert.Empty(t, h.clock.sleeps)
}

func TestRun_PublishesOutcomeEvents(t *testing.T) {
	h := newHarness(pending(1, model.NotificationToday), pending(2, model.NotificationToday))
	h.sender.script["user2@example.com"] = []error{badRequest()}
	pub := &fakePublisher{err: errors.New("channel closed")}
	h.d.WithPublisher(pub)

	summary, err := h.d.Run(context.Background())
	require.NoError(t, err)

	// 发布失败不影响结果
	assert.Equal(t, []string{model.StatusSent, model.StatusFailed}, statuses(summary))
	assert.Equal(t, []string{RoutingKeySent, RoutingKeyFailed}, pub.keys)
	assert.Equal(t, "user-1", pub.events[0].UserID)
	assert.Equal(t, 1, pub.events[0].Attempts)
	assert.Equal(t, model.StatusFailed, pub.events[1].Status)
}

func TestRetryPolicy_Backoff(t *testing.T) {
	p := DefaultRetryPolicy()
	assert.Equal(t, 3, p.MaxAttempts)
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
}

func TestRealClock_SleepHonoursContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := RealClock().Sleep(ctx, time.Hour)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NoError(t, RealClock().Sleep(context.Background(), 0))
}
