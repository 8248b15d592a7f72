package factory

import (
	"context"
	"fmt"
	"io"
	"net"

	"golang.org/x/net/http2"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// ============================================================================
//                              Framing - 帧格式
// ============================================================================

// Framing 连接就绪后的帧格式
type Framing int

const (
	// FramingStream 原始字节流
	FramingStream Framing = iota
	// FramingHTTP1 HTTP/1.1 文本报文
	FramingHTTP1
	// FramingHTTP2 HTTP/2 帧（连接前言已完成）
	FramingHTTP2
	// FramingWebSocket WebSocket 二进制消息
	FramingWebSocket
)

// String 返回帧格式名称
func (f Framing) String() string {
	switch f {
	case FramingHTTP1:
		return "http/1.1"
	case FramingHTTP2:
		return "h2"
	case FramingWebSocket:
		return "websocket"
	default:
		return "stream"
	}
}

// ============================================================================
//                              Codec - 应用层协商
// ============================================================================

// Codec 在已建立的字节流上完成应用层的连接级协商
//
// selected 为选定的应用协议：TLS 上来自 ALPN，明文上由策略决定
// （"h2" 表示 prior knowledge）。
type Codec interface {
	Negotiate(ctx context.Context, conn net.Conn, selected string, cfg types.RouteConfig) (Framing, error)
}

// HTTPCodec HTTP 编解码器
//
// 选定 h2 时执行 HTTP/2 连接前言，否则按 HTTP/1.1 就绪。
// 显式要求 HTTP/2 而对端未选择 h2 时失败。
type HTTPCodec struct{}

// Negotiate 实现 Codec
func (HTTPCodec) Negotiate(ctx context.Context, conn net.Conn, selected string, cfg types.RouteConfig) (Framing, error) {
	if selected == http2.NextProtoTLS {
		if err := clientPreface(ctx, conn); err != nil {
			return 0, err
		}
		return FramingHTTP2, nil
	}
	if cfg.HTTPVersion == types.HTTPVersion2 {
		return 0, fmt.Errorf("%w: selected %q", ErrH2NotNegotiated, selected)
	}
	return FramingHTTP1, nil
}

// GRPCCodec gRPC 编解码器，HTTP/2 是必需的
type GRPCCodec struct{}

// Negotiate 实现 Codec
func (GRPCCodec) Negotiate(ctx context.Context, conn net.Conn, selected string, _ types.RouteConfig) (Framing, error) {
	if selected != http2.NextProtoTLS {
		return 0, fmt.Errorf("%w: selected %q", ErrH2NotNegotiated, selected)
	}
	if err := clientPreface(ctx, conn); err != nil {
		return 0, err
	}
	return FramingHTTP2, nil
}

// clientPreface 发送客户端连接前言与 SETTINGS，等待服务端 SETTINGS 并确认
//
// 服务端的连接前言必须以 SETTINGS 帧开始（RFC 9113 §3.4）。
func clientPreface(ctx context.Context, conn net.Conn) error {
	release := bindDeadline(ctx, conn)
	defer release()

	if _, err := io.WriteString(conn, http2.ClientPreface); err != nil {
		return ctxErr(ctx, err)
	}
	fr := http2.NewFramer(conn, conn)
	if err := fr.WriteSettings(
		http2.Setting{ID: http2.SettingEnablePush, Val: 0},
		http2.Setting{ID: http2.SettingInitialWindowSize, Val: 1 << 20},
	); err != nil {
		return ctxErr(ctx, err)
	}

	f, err := fr.ReadFrame()
	if err != nil {
		return ctxErr(ctx, err)
	}
	sf, ok := f.(*http2.SettingsFrame)
	if !ok || sf.IsAck() {
		_ = fr.WriteGoAway(0, http2.ErrCodeProtocol, nil)
		return fmt.Errorf("%w: got %s", ErrBadServerPreface, f.Header().Type)
	}
	if err := fr.WriteSettingsAck(); err != nil {
		return ctxErr(ctx, err)
	}
	return nil
}
