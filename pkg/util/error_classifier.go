package util

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/url"
)

// 发送错误分类（用作指标标签）
const (
	ClassOK           = "ok"
	ClassRateLimited  = "rate_limited"
	ClassClientError  = "client_error"
	ClassServerError  = "server_error"
	ClassNetworkError = "network_error"
	ClassTimeout      = "timeout"
	ClassCanceled     = "context_canceled"
	ClassUnknown      = "unknown"
)

// HTTPStatusError 由携带 HTTP 状态码的错误实现
type HTTPStatusError interface {
	error
	HTTPStatus() int
}

// ClassifySendError 把一次外部调用的错误归类
func ClassifySendError(err error) string {
	if err == nil {
		return ClassOK
	}

	var statusErr HTTPStatusError
	if errors.As(err, &statusErr) {
		code := statusErr.HTTPStatus()
		switch {
		case code == http.StatusTooManyRequests:
			return ClassRateLimited
		case code >= 500:
			return ClassServerError
		case code >= 400:
			return ClassClientError
		}
	}

	// context 超时 / 取消
	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ClassCanceled
	}

	// 网络错误
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return ClassTimeout
		}
		return ClassNetworkError
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return ClassNetworkError
	}

	// 默认：未知错误
	return ClassUnknown
}
