package netbridge

import (
	"errors"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// 公共错误定义
var (
	// ────────────────────────────────────────────────────────────────────────
	// 生命周期错误
	// ────────────────────────────────────────────────────────────────────────

	// ErrNotStarted 桥接器未启动
	ErrNotStarted = errors.New("bridge not started")

	// ErrAlreadyStarted 桥接器已启动
	ErrAlreadyStarted = errors.New("bridge already started")

	// ErrBridgeClosed 桥接器已停止
	ErrBridgeClosed = errors.New("bridge closed")

	// ErrPoolDisabled 配置关闭了连接池
	ErrPoolDisabled = errors.New("connection pool disabled")

	// ────────────────────────────────────────────────────────────────────────
	// 建连错误分类
	// ────────────────────────────────────────────────────────────────────────

	ErrInvalidEndpoint               = types.ErrInvalidEndpoint
	ErrDialFailed                    = types.ErrDialFailed
	ErrHandshakeFailed               = types.ErrHandshakeFailed
	ErrProtocolNegotiationFailed     = types.ErrProtocolNegotiationFailed
	ErrOverlayUnavailable            = types.ErrOverlayUnavailable
	ErrCircuitCreationFailed         = types.ErrCircuitCreationFailed
	ErrConnectionEstablishmentFailed = types.ErrConnectionEstablishmentFailed
	ErrSessionClosed                 = types.ErrSessionClosed
)

// IsFatal 判断错误是否跳过了重试
func IsFatal(err error) bool { return types.IsFatal(err) }
