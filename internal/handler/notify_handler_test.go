package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"lifedash/internal/config"
	"lifedash/internal/lock"
	"lifedash/internal/model"
)

type stubRunner struct {
	summary *model.Summary
	err     error
	calls   int
	ctxErr  error
}

func (r *stubRunner) Run(ctx context.Context) (*model.Summary, error) {
	r.calls++
	r.ctxErr = ctx.Err()
	return r.summary, r.err
}

func serve(t *testing.T, h gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = req
	h(c)
	return w
}

func TestTrigger_ReturnsSummary(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{
		Message: model.MessageProcessed,
		Count:   1,
		Results: []model.Outcome{{EventID: "e1", Email: "a@x.com", Status: model.StatusSent, NotificationType: model.NotificationToday}},
	}}
	h := NewNotifyHandler(runner, zap.NewNop())

	w := serve(t, h.Trigger, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"message": "Notifications processed",
		"count": 1,
		"results": [{"event_id":"e1","email":"a@x.com","status":"sent","notification_type":"today"}]
	}`, w.Body.String())
}

func TestTrigger_EmptyRunOmitsResults(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{Message: model.MessageNonePending}}
	h := NewNotifyHandler(runner, zap.NewNop())

	w := serve(t, h.Trigger, httptest.NewRequest(http.MethodPost, "/", nil))

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"No pending notifications","count":0}`, w.Body.String())
}

func TestTrigger_ErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"missing config", &config.MissingError{Keys: []string{"RESEND_API_KEY"}}, http.StatusInternalServerError},
		{"fetch failure", errors.New("failed to fetch pending notifications: boom"), http.StatusInternalServerError},
		{"lock held", lock.ErrHeld, http.StatusConflict},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewNotifyHandler(&stubRunner{err: tc.err}, zap.NewNop())
			w := serve(t, h.Trigger, httptest.NewRequest(http.MethodPost, "/", nil))

			assert.Equal(t, tc.status, w.Code)
			var body map[string]string
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.Equal(t, tc.err.Error(), body["error"])
		})
	}
}

func TestTrigger_DetachedFromRequestCancellation(t *testing.T) {
	runner := &stubRunner{summary: &model.Summary{Message: model.MessageNonePending}}
	h := NewNotifyHandler(runner, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req := httptest.NewRequest(http.MethodPost, "/", nil).WithContext(ctx)

	serve(t, h.Trigger, req)
	assert.NoError(t, runner.ctxErr)
}

func TestPreflight(t *testing.T) {
	runner := &stubRunner{}
	h := NewNotifyHandler(runner, zap.NewNop())

	w := serve(t, h.Preflight, httptest.NewRequest(http.MethodOptions, "/", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "ok", w.Body.String())
	assert.Zero(t, runner.calls)
}
