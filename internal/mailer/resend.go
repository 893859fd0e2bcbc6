package mailer

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"lifedash/pkg/config"
	"lifedash/pkg/metrics"
	"lifedash/pkg/trace"
)

const defaultBaseURL = "https://api.resend.com"

// ProviderError 邮件服务返回的非 2xx 响应
type ProviderError struct {
	StatusCode     int    // HTTP 状态码
	BodyStatusCode int    // 响应体中的 statusCode 字段（没有时为 0）
	Body           string // 原始响应体
}

func (e *ProviderError) Error() string {
	return fmt.Sprintf("resend API error (status %d): %s", e.HTTPStatus(), e.Body)
}

// HTTPStatus 优先使用响应体中的 statusCode
func (e *ProviderError) HTTPStatus() int {
	if e.BodyStatusCode != 0 {
		return e.BodyStatusCode
	}
	return e.StatusCode
}

// IsRateLimited 是否为可重试的限流错误（429）
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.HTTPStatus() == http.StatusTooManyRequests
}

type sendRequest struct {
	From    string `json:"from"`
	To      string `json:"to"`
	Subject string `json:"subject"`
	HTML    string `json:"html"`
	Text    string `json:"text"`
}

// Client Resend 邮件服务客户端
type Client struct {
	baseURL    string
	apiKey     string
	from       string
	httpClient *http.Client
	logger     *zap.Logger
}

// Option 客户端选项
type Option func(*Client)

// WithHTTPClient 替换底层 http.Client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func NewClient(cfg config.ResendConfig, logger *zap.Logger, opts ...Option) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	c := &Client{
		baseURL:    baseURL,
		apiKey:     cfg.APIKey,
		from:       cfg.From,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Send 发送一封邮件，每次调用对应一次 POST /emails
func (c *Client) Send(ctx context.Context, msg Message) error {
	if msg.From == "" {
		msg.From = c.from
	}

	body, err := json.Marshal(sendRequest{
		From:    msg.From,
		To:      msg.To,
		Subject: msg.Subject,
		HTML:    msg.HTML,
		Text:    msg.Text,
	})
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/emails", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	if traceID := trace.FromContext(ctx); traceID != "" {
		req.Header.Set(trace.HeaderName, traceID)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordProviderLatency("error", time.Since(start))
		return fmt.Errorf("failed to call resend: %w", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	metrics.RecordProviderLatency(strconv.Itoa(resp.StatusCode), time.Since(start))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return newProviderError(resp.StatusCode, raw)
	}

	var accepted struct {
		ID string `json:"id"`
	}
	_ = json.Unmarshal(raw, &accepted)
	c.logger.Debug("Email accepted by resend",
		zap.String("resend_id", accepted.ID),
		zap.String("to", msg.To),
	)
	return nil
}

func newProviderError(status int, raw []byte) *ProviderError {
	pe := &ProviderError{StatusCode: status, Body: strings.TrimSpace(string(raw))}

	var body struct {
		StatusCode json.Number `json:"statusCode"`
	}
	if err := json.Unmarshal(raw, &body); err == nil {
		if n, err := body.StatusCode.Int64(); err == nil {
			pe.BodyStatusCode = int(n)
		}
	}
	return pe
}
