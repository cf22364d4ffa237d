// Package errs 定义投稿链路的错误分类。
//
// 只有 RateLimitError 会被调度器重试，其余错误一律视为本次任务的终态失败。
package errs

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ValidationError 请求参数缺失或不合法
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// Invalid 构造 ValidationError
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// RateLimitError 平台在 JSON 中返回的限流信号（code=601）
type RateLimitError struct {
	Code       int
	Message    string
	StatusCode int
	Voucher    string
	// Raw 已脱敏的原始响应
	Raw string
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("rate limited (code=%d status=%d message=%s)", e.Code, e.StatusCode, e.Message)
}

// TransportError 与平台、CDN 或推荐接口通信失败。
// Error() 不输出请求 URL 的查询串，csrf 等参数会出现在查询串中。
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	msg := fmt.Sprint(e.Err)
	var ue *url.Error
	if errors.As(e.Err, &ue) && ue.URL != "" {
		msg = strings.ReplaceAll(msg, ue.URL, stripQuery(ue.URL))
	}
	return fmt.Sprintf("%s: %s", e.Op, msg)
}

func stripQuery(raw string) string {
	if i := strings.IndexAny(raw, "?#"); i >= 0 {
		return raw[:i]
	}
	return raw
}

func (e *TransportError) Unwrap() error { return e.Err }

// ProtocolError 响应格式错误或业务码失败
type ProtocolError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
	Snippet    string
}

func (e *ProtocolError) Error() string {
	msg := e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (status=%d)", e.StatusCode)
	}
	if e.Code != 0 {
		msg += fmt.Sprintf(" (code=%d)", e.Code)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Snippet != "" {
		msg += " body=" + e.Snippet
	}
	return msg
}

// PreconditionError 缺少凭据或输入文件，需要人工介入
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

// Precondition 构造 PreconditionError
func Precondition(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// IsRateLimit 判断错误链中是否存在 RateLimitError
func IsRateLimit(err error) (*RateLimitError, bool) {
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Kind 返回错误分类名，用于结果记录
func Kind(err error) string {
	var (
		ve *ValidationError
		rl *RateLimitError
		te *TransportError
		pe *ProtocolError
		ce *PreconditionError
	)
	switch {
	case errors.As(err, &rl):
		return "RateLimitError"
	case errors.As(err, &ve):
		return "ValidationError"
	case errors.As(err, &ce):
		return "PreconditionError"
	case errors.As(err, &pe):
		return "ProtocolError"
	case errors.As(err, &te):
		return "TransportError"
	default:
		return "Error"
	}
}
