package types

import (
	"fmt"
	"strings"
)

// ============================================================================
//                              Protocol - 协议标签
// ============================================================================

// Protocol 端点使用的协议
type Protocol int

const (
	// ProtocolTCP 原始 TCP 字节流
	ProtocolTCP Protocol = iota
	// ProtocolTLS TLS 加密字节流
	ProtocolTLS
	// ProtocolHTTP HTTP（可选 TLS）
	ProtocolHTTP
	// ProtocolGRPC gRPC（HTTP/2）
	ProtocolGRPC
	// ProtocolWebSocket WebSocket（可选 TLS）
	ProtocolWebSocket
)

// String 返回协议的字符串表示
func (p Protocol) String() string {
	switch p {
	case ProtocolTCP:
		return "tcp"
	case ProtocolTLS:
		return "tls"
	case ProtocolHTTP:
		return "http"
	case ProtocolGRPC:
		return "grpc"
	case ProtocolWebSocket:
		return "websocket"
	default:
		return fmt.Sprintf("protocol(%d)", int(p))
	}
}

// Valid 是否为已知协议
func (p Protocol) Valid() bool {
	return p >= ProtocolTCP && p <= ProtocolWebSocket
}

// ParseProtocol 解析协议名（大小写不敏感）
func ParseProtocol(s string) (Protocol, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "tcp":
		return ProtocolTCP, nil
	case "tls":
		return ProtocolTLS, nil
	case "http":
		return ProtocolHTTP, nil
	case "grpc":
		return ProtocolGRPC, nil
	case "websocket", "ws":
		return ProtocolWebSocket, nil
	}
	return 0, fmt.Errorf("%w: unknown protocol %q", ErrInvalidEndpoint, s)
}

// MarshalText 实现 encoding.TextMarshaler
func (p Protocol) MarshalText() ([]byte, error) {
	if !p.Valid() {
		return nil, fmt.Errorf("%w: unknown protocol %d", ErrInvalidEndpoint, int(p))
	}
	return []byte(p.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (p *Protocol) UnmarshalText(b []byte) error {
	v, err := ParseProtocol(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// ============================================================================
//                              HTTPVersion - HTTP 版本偏好
// ============================================================================

// HTTPVersion HTTP 版本偏好，通过 ALPN 协商
type HTTPVersion int

const (
	// HTTPVersionDefault 未设置，沿用默认；仍未设置时按 Auto 处理
	HTTPVersionDefault HTTPVersion = iota
	// HTTPVersionAuto 优先 h2，回退 http/1.1
	HTTPVersionAuto
	// HTTPVersion1 强制 http/1.1
	HTTPVersion1
	// HTTPVersion2 强制 h2
	HTTPVersion2
)

// String 返回版本偏好的字符串表示
func (v HTTPVersion) String() string {
	switch v {
	case HTTPVersion1:
		return "http1"
	case HTTPVersion2:
		return "http2"
	default:
		return "auto"
	}
}

// ALPN 返回该偏好对应的 ALPN 协议列表
func (v HTTPVersion) ALPN() []string {
	switch v {
	case HTTPVersion1:
		return []string{"http/1.1"}
	case HTTPVersion2:
		return []string{"h2"}
	default:
		return []string{"h2", "http/1.1"}
	}
}

// ============================================================================
//                              TLSMode - 证书校验模式
// ============================================================================

// TLSMode 证书校验模式
type TLSMode int

const (
	// TLSModeDefault 未设置，沿用默认；仍未设置时按 Verify 处理
	TLSModeDefault TLSMode = iota
	// TLSModeVerify 校验证书链与主机名
	TLSModeVerify
	// TLSModeInsecure 接受任意证书，仅用于测试或自签名环境
	TLSModeInsecure
)

// String 返回模式的字符串表示
func (m TLSMode) String() string {
	if m == TLSModeInsecure {
		return "insecure"
	}
	return "verify"
}
