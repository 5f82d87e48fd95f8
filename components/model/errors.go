package model

import (
	"errors"
	"fmt"
)

// ErrorKind 后端失败的分类。
type ErrorKind string

const (
	// KindConnectivity 网络不可达、连接中断或超时。
	KindConnectivity ErrorKind = "connectivity"
	// KindAuthentication 凭据缺失或无效（401/403）。
	KindAuthentication ErrorKind = "authentication"
	// KindRateLimit 触发限流（429）。
	KindRateLimit ErrorKind = "rate_limit"
	// KindServer 服务端错误（5xx）。
	KindServer ErrorKind = "server"
	// KindRequest 请求本身无效（其余 4xx）或响应无法解析。
	KindRequest ErrorKind = "request"
)

// BackendError 调用远端生成服务失败。
//
// Retryable 仅是提示，引擎不会重试，重试策略由调用方决定。
type BackendError struct {
	Kind       ErrorKind
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *BackendError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("backend %s error (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("backend %s error: %v", e.Kind, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// NewBackendError 按 HTTP 状态码归类错误。status 为 0 表示未收到响应。
func NewBackendError(status int, err error) *BackendError {
	be := &BackendError{StatusCode: status, Err: err}
	switch {
	case status == 0:
		be.Kind, be.Retryable = KindConnectivity, true
	case status == 401 || status == 403:
		be.Kind = KindAuthentication
	case status == 429:
		be.Kind, be.Retryable = KindRateLimit, true
	case status >= 500:
		be.Kind, be.Retryable = KindServer, true
	default:
		be.Kind = KindRequest
	}

	return be
}

// IsRetryable 判断 err 链上是否存在可重试的 BackendError。
func IsRetryable(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Retryable
}
