package netbridge

import (
	"github.com/dep2p/go-netbridge/internal/core/pool"
	"github.com/dep2p/go-netbridge/internal/core/session"
	"github.com/dep2p/go-netbridge/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              类型别名
// ════════════════════════════════════════════════════════════════════════════

type (
	// Endpoint 目标端点
	Endpoint = types.Endpoint

	// RouteConfig 单次请求的路由策略
	RouteConfig = types.RouteConfig

	// Route 路由决策
	Route = types.Route

	// Protocol 协议标签
	Protocol = types.Protocol

	// Error 带上下文的建连错误
	Error = types.Error

	// Session 已建立的会话
	Session = session.Session

	// Lease 连接池中会话的独占使用权
	Lease = pool.Lease
)

// 协议
const (
	ProtocolTCP       = types.ProtocolTCP
	ProtocolTLS       = types.ProtocolTLS
	ProtocolHTTP      = types.ProtocolHTTP
	ProtocolGRPC      = types.ProtocolGRPC
	ProtocolWebSocket = types.ProtocolWebSocket
)

// NewEndpoint 创建端点
func NewEndpoint(host string, port int, proto Protocol, opts ...types.EndpointOption) (Endpoint, error) {
	return types.NewEndpoint(host, port, proto, opts...)
}

// ParseURL 从 URL 解析端点，例如 "tls://example.com:443"、"wss://example.com/ws"
func ParseURL(raw string) (Endpoint, error) {
	return types.ParseURL(raw)
}

// Bool 用于设置 RouteConfig.UseOverlay
func Bool(v bool) *bool { return types.Bool(v) }

// Int 用于设置 RouteConfig.MaxRetries
func Int(v int) *int { return types.Int(v) }

// ════════════════════════════════════════════════════════════════════════════
//                              桥接器状态
// ════════════════════════════════════════════════════════════════════════════

// State 桥接器状态
type State int

const (
	// StateIdle 已创建，未启动
	StateIdle State = iota

	// StateRunning 运行中
	StateRunning

	// StateStopped 已停止，不可再启动
	StateStopped
)

// String 返回状态的字符串表示
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateRunning:
		return "running"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
