package repository

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"lifedash/internal/model"
	"lifedash/pkg/circuitbreaker"
	"lifedash/pkg/config"
)

// RestError PostgREST 返回的非 2xx 响应
type RestError struct {
	Method     string
	Table      string
	StatusCode int
	Body       string
}

func (e *RestError) Error() string {
	return fmt.Sprintf("postgrest %s %s failed (status %d): %s", e.Method, e.Table, e.StatusCode, e.Body)
}

func (e *RestError) HTTPStatus() int { return e.StatusCode }

// RestStore 通过 Supabase PostgREST 读取到期提醒视图并写入发送日志
type RestStore struct {
	baseURL    string
	key        string
	viewSchema string
	httpClient *http.Client
	logBreaker *circuitbreaker.CircuitBreaker
	logger     *zap.Logger
}

// RestOption RestStore 选项
type RestOption func(*RestStore)

// WithRestHTTPClient 替换底层 http.Client
func WithRestHTTPClient(hc *http.Client) RestOption {
	return func(s *RestStore) { s.httpClient = hc }
}

// WithLogBreaker 替换日志写入的熔断器
func WithLogBreaker(cb *circuitbreaker.CircuitBreaker) RestOption {
	return func(s *RestStore) { s.logBreaker = cb }
}

func NewRestStore(cfg config.SupabaseConfig, logger *zap.Logger, opts ...RestOption) *RestStore {
	schema := cfg.Schema
	if schema == "" {
		schema = "private"
	}
	s := &RestStore{
		baseURL:    strings.TrimRight(cfg.URL, "/") + "/rest/v1",
		key:        cfg.ServiceRoleKey,
		viewSchema: schema,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logBreaker: circuitbreaker.NewCircuitBreaker(circuitbreaker.DefaultConfig()),
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FetchDue 读取 pending_notifications 视图（位于 private schema）
func (s *RestStore) FetchDue(ctx context.Context) ([]model.PendingNotification, error) {
	req, err := s.newRequest(ctx, http.MethodGet, "/pending_notifications?select=*", nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept-Profile", s.viewSchema)

	raw, err := s.do(req, "pending_notifications")
	if err != nil {
		return nil, err
	}

	var out []model.PendingNotification
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to decode pending_notifications: %w", err)
	}

	s.logger.Debug("Fetched pending notifications", zap.Int("count", len(out)))
	return out, nil
}

// InsertLog 写入 notification_logs；409（已存在）视为成功
func (s *RestStore) InsertLog(ctx context.Context, entry model.NotificationLogEntry) error {
	body, err := json.Marshal(entry)
	if err != nil {
		return err
	}

	err = s.logBreaker.Execute(func() error {
		req, err := s.newRequest(ctx, http.MethodPost, "/notification_logs", bytes.NewReader(body))
		if err != nil {
			return err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Prefer", "return=minimal")

		_, err = s.do(req, "notification_logs")
		if restErr, ok := err.(*RestError); ok && restErr.StatusCode == http.StatusConflict {
			s.logger.Debug("Notification already logged",
				zap.String("event_id", entry.EventID),
				zap.String("notification_type", string(entry.NotificationType)),
			)
			return nil
		}
		return err
	})
	if err != nil {
		return fmt.Errorf("failed to insert notification log: %w", err)
	}
	return nil
}

// Ping 检查 PostgREST 是否可达
func (s *RestStore) Ping(ctx context.Context) error {
	req, err := s.newRequest(ctx, http.MethodHead, "/", nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()
	if resp.StatusCode >= 500 {
		return fmt.Errorf("postgrest unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func (s *RestStore) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("apikey", s.key)
	req.Header.Set("Authorization", "Bearer "+s.key)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (s *RestStore) do(req *http.Request, table string) ([]byte, error) {
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("postgrest %s %s: %w", req.Method, table, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 8<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", table, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &RestError{
			Method:     req.Method,
			Table:      table,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(raw)),
		}
	}
	return raw, nil
}
