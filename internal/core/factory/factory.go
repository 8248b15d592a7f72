package factory

import (
	"context"
	"errors"
	"fmt"
	"net"

	"golang.org/x/net/http2"

	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("factory")

// ============================================================================
//                              Connection
// ============================================================================

// Connection 已就绪的连接
//
// 嵌入的 net.Conn 是协议层之上的字节流：TLS 连接、WebSocket 消息流等。
type Connection struct {
	net.Conn

	// Protocol 端点协议
	Protocol types.Protocol

	// ALPN 协商到的应用协议，未使用 TLS 或未协商时为空
	ALPN string

	// Framing 帧格式
	Framing Framing
}

// ============================================================================
//                              Factory
// ============================================================================

// Option 工厂选项
type Option func(*Factory)

// WithHandshaker 替换 TLS 握手器
func WithHandshaker(h Handshaker) Option {
	return func(f *Factory) {
		f.handshaker = h
	}
}

// WithHTTPCodec 替换 HTTP 编解码器
func WithHTTPCodec(c Codec) Option {
	return func(f *Factory) {
		f.http = c
	}
}

// WithGRPCCodec 替换 gRPC 编解码器
func WithGRPCCodec(c Codec) Option {
	return func(f *Factory) {
		f.grpc = c
	}
}

// WithMaxMessageSize 设置 WebSocket 单条消息上限
func WithMaxMessageSize(n int) Option {
	return func(f *Factory) {
		f.maxMessage = n
	}
}

// Factory 连接工厂
//
// 无状态，可并发使用。
type Factory struct {
	handshaker Handshaker
	http       Codec
	grpc       Codec
	maxMessage int
}

// New 创建连接工厂
func New(opts ...Option) *Factory {
	f := &Factory{
		handshaker: &TLSHandshaker{},
		http:       HTTPCodec{},
		grpc:       GRPCCodec{},
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Establish 经 d 打开字节流并完成 ep 协议要求的全部握手
//
// 错误分类：打开字节流失败为 ErrDialFailed，TLS 失败为 ErrHandshakeFailed，
// 应用层协商失败为 ErrProtocolNegotiationFailed。失败时已打开的连接会被关闭。
func (f *Factory) Establish(ctx context.Context, d Dialer, ep types.Endpoint, cfg types.RouteConfig) (*Connection, error) {
	if !ep.Protocol().Valid() {
		return nil, types.FatalError(types.ErrInvalidEndpoint, fmt.Errorf("%w: %s", ErrUnsupportedProtocol, ep.Protocol()))
	}

	raw, err := d.DialContext(ctx, "tcp", ep.Address())
	if err != nil {
		return nil, types.NewError(types.ErrDialFailed, ctxErr(ctx, err))
	}

	conn, err := f.upgrade(ctx, raw, ep, cfg)
	if err != nil {
		_ = raw.Close()
		return nil, err
	}
	logger.Debug("连接已建立",
		"endpoint", ep.String(),
		"framing", conn.Framing.String(),
		"alpn", conn.ALPN)
	return conn, nil
}

// upgrade 在原始字节流上按协议完成握手
func (f *Factory) upgrade(ctx context.Context, raw net.Conn, ep types.Endpoint, cfg types.RouteConfig) (*Connection, error) {
	out := &Connection{Conn: raw, Protocol: ep.Protocol()}

	switch ep.Protocol() {
	case types.ProtocolTCP:
		out.Framing = FramingStream
		return out, nil

	case types.ProtocolTLS:
		conn, alpn, err := f.secure(ctx, raw, ep, nil, cfg)
		if err != nil {
			return nil, err
		}
		out.Conn, out.ALPN, out.Framing = conn, alpn, FramingStream
		return out, nil

	case types.ProtocolHTTP, types.ProtocolGRPC:
		selected := plaintextSelection(ep.Protocol(), cfg.HTTPVersion)
		if ep.Secure() {
			protos := cfg.HTTPVersion.ALPN()
			if ep.Protocol() == types.ProtocolGRPC {
				protos = []string{http2.NextProtoTLS}
			}
			conn, alpn, err := f.secure(ctx, raw, ep, protos, cfg)
			if err != nil {
				return nil, err
			}
			out.Conn, out.ALPN, selected = conn, alpn, alpn
		}

		codec := f.http
		if ep.Protocol() == types.ProtocolGRPC {
			codec = f.grpc
		}
		framing, err := codec.Negotiate(ctx, out.Conn, selected, cfg)
		if err != nil {
			closeUpgraded(out.Conn, raw)
			return nil, negotiationError(err)
		}
		out.Framing = framing
		return out, nil

	case types.ProtocolWebSocket:
		if ep.Secure() {
			conn, alpn, err := f.secure(ctx, raw, ep, []string{"http/1.1"}, cfg)
			if err != nil {
				return nil, err
			}
			out.Conn, out.ALPN = conn, alpn
		}
		ws, err := upgradeWebSocket(ctx, out.Conn, ep, f.maxMessage)
		if err != nil {
			closeUpgraded(out.Conn, raw)
			return nil, negotiationError(err)
		}
		out.Conn, out.Framing = ws, FramingWebSocket
		return out, nil
	}
	return nil, types.FatalError(types.ErrInvalidEndpoint, ErrUnsupportedProtocol)
}

// secure 执行 TLS 握手，错误归类为 ErrHandshakeFailed
func (f *Factory) secure(ctx context.Context, raw net.Conn, ep types.Endpoint, protos []string, cfg types.RouteConfig) (net.Conn, string, error) {
	conn, alpn, err := f.handshaker.Handshake(ctx, raw, TLSParams{
		ServerName: ep.Host(),
		NextProtos: protos,
		Mode:       cfg.TLSMode,
	})
	if err != nil {
		return nil, "", types.NewError(types.ErrHandshakeFailed, err)
	}
	return conn, alpn, nil
}

// plaintextSelection 明文连接上选定的应用协议
//
// gRPC 与显式 HTTP/2 使用 prior knowledge，其余按 HTTP/1.1。
func plaintextSelection(proto types.Protocol, v types.HTTPVersion) string {
	if proto == types.ProtocolGRPC || v == types.HTTPVersion2 {
		return http2.NextProtoTLS
	}
	return "http/1.1"
}

func negotiationError(err error) error {
	var typed *types.Error
	if errors.As(err, &typed) {
		return err
	}
	return types.NewError(types.ErrProtocolNegotiationFailed, err)
}

// closeUpgraded 关闭握手后的连接（TLS 会发送 close_notify），原始连接由 Establish 关闭
func closeUpgraded(conn, raw net.Conn) {
	if conn != raw {
		_ = conn.Close()
	}
}
