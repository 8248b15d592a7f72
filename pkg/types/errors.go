package types

import (
	"errors"
	"fmt"
	"strings"
)

// ============================================================================
//                              错误分类
// ============================================================================

var (
	// ErrInvalidEndpoint 端点格式非法（主机、端口或协议），在任何 I/O 之前拒绝
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrDialFailed 无法打开原始字节流
	ErrDialFailed = errors.New("dial failed")

	// ErrHandshakeFailed TLS 握手失败（证书或协议协商）
	ErrHandshakeFailed = errors.New("handshake failed")

	// ErrProtocolNegotiationFailed 应用层协议协商失败（HTTP/2 前言、WebSocket 升级等）
	ErrProtocolNegotiationFailed = errors.New("protocol negotiation failed")

	// ErrOverlayUnavailable 覆盖网络引导或控制通道不可用
	ErrOverlayUnavailable = errors.New("overlay unavailable")

	// ErrCircuitCreationFailed 电路创建失败
	ErrCircuitCreationFailed = errors.New("circuit creation failed")

	// ErrConnectionEstablishmentFailed 重试预算耗尽
	ErrConnectionEstablishmentFailed = errors.New("connection establishment failed")

	// ErrSessionClosed 会话已关闭
	ErrSessionClosed = errors.New("session closed")
)

// ============================================================================
//                              Error - 带上下文的错误
// ============================================================================

// Error 带上下文的建连错误
//
// Kind 是上面的分类哨兵之一，Err 是底层原因。
// errors.Is 同时匹配 Kind 与 Err 链。
type Error struct {
	// Kind 错误分类
	Kind error

	// Endpoint 目标端点（URL 形式）
	Endpoint string

	// Route 尝试的路由
	Route string

	// Attempts 已进行的尝试次数
	Attempts int

	// Fatal 是否致命（跳过剩余重试）
	Fatal bool

	// Err 底层原因
	Err error
}

// Error 实现 error 接口
func (e *Error) Error() string {
	var b strings.Builder
	if e.Kind != nil {
		b.WriteString(e.Kind.Error())
	} else {
		b.WriteString("error")
	}
	if e.Endpoint != "" {
		b.WriteString(" endpoint=")
		b.WriteString(e.Endpoint)
	}
	if e.Route != "" {
		b.WriteString(" route=")
		b.WriteString(e.Route)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " attempts=%d", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap 返回分类与底层原因
func (e *Error) Unwrap() []error {
	errs := make([]error, 0, 2)
	if e.Kind != nil {
		errs = append(errs, e.Kind)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// NewError 创建分类错误
func NewError(kind error, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// FatalError 创建致命分类错误
func FatalError(kind error, err error) *Error {
	return &Error{Kind: kind, Err: err, Fatal: true}
}

// IsFatal 判断错误是否应跳过剩余重试
//
// 非法端点总是致命；其余分类以 *Error.Fatal 为准。
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidEndpoint) {
		return true
	}
	var e *Error
	for errors.As(err, &e) {
		if e.Fatal {
			return true
		}
		if e.Err == nil {
			return false
		}
		err = e.Err
	}
	return false
}

// KindOf 返回错误的分类哨兵，无法识别时返回 nil
func KindOf(err error) error {
	for _, k := range []error{
		ErrConnectionEstablishmentFailed,
		ErrInvalidEndpoint,
		ErrOverlayUnavailable,
		ErrCircuitCreationFailed,
		ErrHandshakeFailed,
		ErrProtocolNegotiationFailed,
		ErrDialFailed,
		ErrSessionClosed,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
