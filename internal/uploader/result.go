// Package uploader 将未同步记录可靠上传到后端（至少一次，幂等）
package uploader

import (
	"fmt"
	"net/http"
)

// ErrorKind 上传错误类别
type ErrorKind int

const (
	// NetworkUnavailable 网络不可达或超时，可重试
	NetworkUnavailable ErrorKind = iota + 1
	// ServerRejected 服务端返回非 2xx
	ServerRejected
	// Unexpected 其他错误（解码失败、panic 等）
	Unexpected
)

func (k ErrorKind) String() string {
	switch k {
	case NetworkUnavailable:
		return "network_unavailable"
	case ServerRejected:
		return "server_rejected"
	case Unexpected:
		return "unexpected"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// UploadError 上传失败详情
type UploadError struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *UploadError) Error() string {
	switch e.Kind {
	case ServerRejected:
		return fmt.Sprintf("server error (%d): %s", e.StatusCode, e.Message)
	case NetworkUnavailable:
		return fmt.Sprintf("network error: %s", e.Message)
	default:
		return fmt.Sprintf("unexpected error: %s", e.Message)
	}
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// ClientError 4xx，不重试
func (e *UploadError) ClientError() bool {
	return e.Kind == ServerRejected && e.StatusCode >= 400 && e.StatusCode < 500
}

// Retryable 网络错误与 5xx 可在本轮内重试
func (e *UploadError) Retryable() bool {
	switch e.Kind {
	case NetworkUnavailable:
		return true
	case ServerRejected:
		return e.StatusCode >= http.StatusInternalServerError
	default:
		return false
	}
}

// NewNetworkError 网络错误
func NewNetworkError(err error) *UploadError {
	return &UploadError{Kind: NetworkUnavailable, Message: err.Error(), Err: err}
}

// NewServerError 服务端拒绝
func NewServerError(status int, message string) *UploadError {
	return &UploadError{Kind: ServerRejected, StatusCode: status, Message: message}
}

// NewUnexpectedError 其他错误
func NewUnexpectedError(err error) *UploadError {
	return &UploadError{Kind: Unexpected, Message: err.Error(), Err: err}
}

// Result 上传结果：成功携带值，失败携带 UploadError
type Result[T any] struct {
	value T
	err   *UploadError
}

// Success 成功结果
func Success[T any](v T) Result[T] {
	return Result[T]{value: v}
}

// Failure 失败结果
func Failure[T any](err *UploadError) Result[T] {
	if err == nil {
		err = &UploadError{Kind: Unexpected, Message: "nil failure"}
	}
	return Result[T]{err: err}
}

// Get 解包结果
func (r Result[T]) Get() (T, *UploadError) {
	return r.value, r.err
}

// IsSuccess 是否成功
func (r Result[T]) IsSuccess() bool {
	return r.err == nil
}
