package overlay

import (
	"context"
	"fmt"
	"io"
	"net"
	"time"

	"golang.org/x/net/proxy"
)

// ProxyDialer 通过覆盖网络本地代理打开字节流
type ProxyDialer interface {
	// Probe 检查代理是否可达并能完成握手
	Probe(ctx context.Context, proxyAddr string) error

	// DialContext 使用认证信息 auth 经代理连接 address
	//
	// address 中的主机名交给代理远端解析，不在本地解析。
	DialContext(ctx context.Context, proxyAddr string, auth *proxy.Auth, network, address string) (net.Conn, error)
}

// socksDialer 基于 golang.org/x/net/proxy 的 SOCKS5 实现
type socksDialer struct {
	keepAlive time.Duration
}

// NewSOCKSDialer 创建 SOCKS5 代理拨号器
func NewSOCKSDialer(keepAlive time.Duration) ProxyDialer {
	return &socksDialer{keepAlive: keepAlive}
}

// DialContext 经 SOCKS5 代理连接目标
func (d *socksDialer) DialContext(ctx context.Context, proxyAddr string, auth *proxy.Auth, network, address string) (net.Conn, error) {
	forward := &net.Dialer{KeepAlive: d.keepAlive}
	pd, err := proxy.SOCKS5("tcp", proxyAddr, auth, forward)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s: %w", proxyAddr, err)
	}
	cd, ok := pd.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("socks5 %s: dialer does not support context", proxyAddr)
	}
	conn, err := cd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("socks5 %s -> %s: %w", proxyAddr, address, err)
	}
	return conn, nil
}

// Probe 发送 SOCKS5 问候并检查代理选择的认证方式
func (d *socksDialer) Probe(ctx context.Context, proxyAddr string) error {
	var nd net.Dialer
	conn, err := nd.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return fmt.Errorf("proxy %s unreachable: %w", proxyAddr, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	// VER=5, NMETHODS=2, NO AUTH / USERNAME-PASSWORD
	if _, err := conn.Write([]byte{0x05, 0x02, 0x00, 0x02}); err != nil {
		return fmt.Errorf("proxy %s greeting: %w", proxyAddr, err)
	}
	var reply [2]byte
	if _, err := io.ReadFull(conn, reply[:]); err != nil {
		return fmt.Errorf("proxy %s greeting: %w", proxyAddr, err)
	}
	if reply[0] != 0x05 || reply[1] == 0xff {
		return fmt.Errorf("%w: %s replied %x", ErrProxyRejected, proxyAddr, reply)
	}
	return nil
}
