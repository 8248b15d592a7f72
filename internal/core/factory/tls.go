package factory

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"net"
	"os"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// TLSParams 单次握手参数
type TLSParams struct {
	// ServerName SNI 与证书校验使用的主机名
	ServerName string

	// NextProtos ALPN 候选，按偏好排序
	NextProtos []string

	// Mode 证书校验模式
	Mode types.TLSMode
}

// Handshaker 在字节流上执行 TLS 客户端握手
//
// 返回加密后的连接与协商到的 ALPN（未协商时为空）。
// 失败时不负责关闭 conn。
type Handshaker interface {
	Handshake(ctx context.Context, conn net.Conn, params TLSParams) (net.Conn, string, error)
}

// TLSHandshaker 基于 crypto/tls 的默认实现
type TLSHandshaker struct {
	// RootCAs 信任的根证书，nil 使用系统证书池
	RootCAs *x509.CertPool

	// MinVersion 最低 TLS 版本，0 为 TLS 1.2
	MinVersion uint16
}

// NewTLSHandshaker 创建握手器，caFile 非空时追加信任该 PEM 文件中的证书
func NewTLSHandshaker(caFile string) (*TLSHandshaker, error) {
	h := &TLSHandshaker{}
	if caFile == "" {
		return h, nil
	}
	pem, err := os.ReadFile(caFile) //nolint:gosec // G304: 配置指定的 CA 路径
	if err != nil {
		return nil, fmt.Errorf("读取 CA 文件失败: %w", err)
	}
	pool, err := x509.SystemCertPool()
	if err != nil || pool == nil {
		pool = x509.NewCertPool()
	}
	if !pool.AppendCertsFromPEM(pem) {
		return nil, fmt.Errorf("CA 文件 %s 中没有可用证书", caFile)
	}
	h.RootCAs = pool
	return h, nil
}

// Handshake 实现 Handshaker
func (h *TLSHandshaker) Handshake(ctx context.Context, conn net.Conn, params TLSParams) (net.Conn, string, error) {
	minVersion := h.MinVersion
	if minVersion == 0 {
		minVersion = tls.VersionTLS12
	}
	cfg := &tls.Config{
		ServerName:         params.ServerName,
		NextProtos:         params.NextProtos,
		RootCAs:            h.RootCAs,
		MinVersion:         minVersion,
		InsecureSkipVerify: params.Mode == types.TLSModeInsecure, //nolint:gosec // G402: TLSModeInsecure 由调用方显式选择
	}

	tlsConn := tls.Client(conn, cfg)
	release := bindDeadline(ctx, conn)
	err := tlsConn.HandshakeContext(ctx)
	release()
	if err != nil {
		return nil, "", fmt.Errorf("TLS 握手失败: %w", ctxErr(ctx, err))
	}
	return tlsConn, tlsConn.ConnectionState().NegotiatedProtocol, nil
}
