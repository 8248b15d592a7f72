package overlay

import (
	"errors"
	"fmt"
)

var (
	// ErrControllerClosed 控制器已关闭
	ErrControllerClosed = errors.New("overlay controller closed")

	// ErrUnknownCircuit 电路不存在或已退役
	ErrUnknownCircuit = errors.New("unknown circuit")

	// ErrBootstrapIncomplete 覆盖网络仍在引导中
	ErrBootstrapIncomplete = errors.New("overlay bootstrap incomplete")

	// ErrAuthFailed 控制通道认证失败
	ErrAuthFailed = errors.New("control authentication failed")

	// ErrProxyRejected 代理拒绝了握手
	ErrProxyRejected = errors.New("proxy rejected handshake")

	// ErrMalformedReply 控制通道回复格式错误
	ErrMalformedReply = errors.New("malformed control reply")
)

// ControlError 控制通道返回的非 2xx 状态
type ControlError struct {
	Command string
	Code    int
	Msg     string
}

func (e *ControlError) Error() string {
	return fmt.Sprintf("control %s: %d %s", e.Command, e.Code, e.Msg)
}
