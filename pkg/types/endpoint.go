package types

import (
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"
)

// ============================================================================
//                              Endpoint - 目标端点
// ============================================================================

// Endpoint 调用方希望到达的逻辑目标
//
// 构造后不可变。字段全部未导出，只能通过 NewEndpoint 或 ParseURL 创建，
// 因此任何 Endpoint 值都已通过校验（零值除外，见 IsZero）。
type Endpoint struct {
	host     string
	port     uint16
	protocol Protocol
	secure   bool
	path     string
}

// EndpointOption 端点构造选项
type EndpointOption func(*Endpoint)

// WithSecure 为 HTTP/GRPC/WebSocket 端点启用 TLS 包装
func WithSecure(secure bool) EndpointOption {
	return func(e *Endpoint) {
		e.secure = secure
	}
}

// WithPath 设置 HTTP/WebSocket 请求路径
func WithPath(path string) EndpointOption {
	return func(e *Endpoint) {
		e.path = path
	}
}

// NewEndpoint 创建并校验端点
//
// host 可以是域名或 IP 字面量（IPv6 不带方括号）。
// 校验失败返回包装 ErrInvalidEndpoint 的错误，不做任何 I/O。
func NewEndpoint(host string, port int, protocol Protocol, opts ...EndpointOption) (Endpoint, error) {
	e := Endpoint{
		host:     strings.TrimSuffix(strings.TrimPrefix(host, "["), "]"),
		protocol: protocol,
	}
	for _, opt := range opts {
		opt(&e)
	}
	if port <= 0 || port > 65535 {
		return Endpoint{}, fmt.Errorf("%w: port %d out of range", ErrInvalidEndpoint, port)
	}
	e.port = uint16(port)
	if protocol == ProtocolTLS {
		e.secure = true
	}
	if err := e.Validate(); err != nil {
		return Endpoint{}, err
	}
	return e, nil
}

// MustEndpoint 与 NewEndpoint 相同，但校验失败时 panic
func MustEndpoint(host string, port int, protocol Protocol, opts ...EndpointOption) Endpoint {
	e, err := NewEndpoint(host, port, protocol, opts...)
	if err != nil {
		panic(err)
	}
	return e
}

// ParseURL 从 URL 解析端点
//
// 支持的 scheme:
//   - tcp, tls, tcp+tls
//   - http, https
//   - ws, wss
//   - grpc, grpcs
//
// 未指定端口时，明文 scheme 默认 80，加密 scheme 默认 443。
func ParseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}

	var (
		proto  Protocol
		secure bool
	)
	switch strings.ToLower(u.Scheme) {
	case "tcp":
		proto = ProtocolTCP
	case "tls", "tcp+tls":
		proto, secure = ProtocolTLS, true
	case "http":
		proto = ProtocolHTTP
	case "https":
		proto, secure = ProtocolHTTP, true
	case "ws":
		proto = ProtocolWebSocket
	case "wss":
		proto, secure = ProtocolWebSocket, true
	case "grpc":
		proto = ProtocolGRPC
	case "grpcs":
		proto, secure = ProtocolGRPC, true
	default:
		return Endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidEndpoint, u.Scheme)
	}

	port := 80
	if secure {
		port = 443
	}
	if p := u.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return Endpoint{}, fmt.Errorf("%w: invalid port %q", ErrInvalidEndpoint, p)
		}
	}

	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return NewEndpoint(u.Hostname(), port, proto, WithSecure(secure), WithPath(path))
}

// Validate 校验端点
func (e Endpoint) Validate() error {
	if e.host == "" {
		return fmt.Errorf("%w: empty host", ErrInvalidEndpoint)
	}
	if len(e.host) > 253 {
		return fmt.Errorf("%w: host too long", ErrInvalidEndpoint)
	}
	if strings.ContainsAny(e.host, " \t\r\n/\\@?#") {
		return fmt.Errorf("%w: malformed host %q", ErrInvalidEndpoint, e.host)
	}
	if net.ParseIP(e.host) == nil && strings.Contains(e.host, ":") {
		return fmt.Errorf("%w: malformed host %q", ErrInvalidEndpoint, e.host)
	}
	if e.port == 0 {
		return fmt.Errorf("%w: port 0", ErrInvalidEndpoint)
	}
	if !e.protocol.Valid() {
		return fmt.Errorf("%w: unknown protocol %d", ErrInvalidEndpoint, int(e.protocol))
	}
	if e.protocol == ProtocolTLS && !e.secure {
		return fmt.Errorf("%w: tls endpoint must be secure", ErrInvalidEndpoint)
	}
	if e.protocol == ProtocolTCP && e.secure {
		return fmt.Errorf("%w: tcp endpoint cannot be secure, use tls", ErrInvalidEndpoint)
	}
	return nil
}

// Host 返回主机名或 IP 字面量
func (e Endpoint) Host() string { return e.host }

// Port 返回端口
func (e Endpoint) Port() int { return int(e.port) }

// Protocol 返回协议标签
func (e Endpoint) Protocol() Protocol { return e.protocol }

// Secure 是否需要 TLS 包装
func (e Endpoint) Secure() bool { return e.secure }

// Path 返回请求路径，为空时返回 "/"
func (e Endpoint) Path() string {
	if e.path == "" {
		return "/"
	}
	return e.path
}

// Address 返回 host:port 形式的拨号地址
func (e Endpoint) Address() string {
	return net.JoinHostPort(e.host, strconv.Itoa(int(e.port)))
}

// IsZero 是否为零值
func (e Endpoint) IsZero() bool {
	return e == Endpoint{}
}

// Key 返回用于连接池索引的规范字符串
func (e Endpoint) Key() string {
	s := "0"
	if e.secure {
		s = "1"
	}
	return e.protocol.String() + "|" + strings.ToLower(e.host) + "|" + strconv.Itoa(int(e.port)) + "|" + s + "|" + e.path
}

// String 返回 URL 形式
func (e Endpoint) String() string {
	scheme := e.protocol.String()
	switch e.protocol {
	case ProtocolHTTP:
		if e.secure {
			scheme = "https"
		}
	case ProtocolWebSocket:
		scheme = "ws"
		if e.secure {
			scheme = "wss"
		}
	case ProtocolGRPC:
		if e.secure {
			scheme = "grpcs"
		}
	}
	return scheme + "://" + e.Address() + e.path
}
