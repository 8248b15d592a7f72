package factory

import (
	"context"
	"fmt"
	"net"
	"time"

	"go.uber.org/multierr"

	"github.com/dep2p/go-netbridge/internal/core/resolver"
)

// Dialer 打开原始字节流
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// DialerFunc 函数形式的 Dialer
type DialerFunc func(ctx context.Context, network, address string) (net.Conn, error)

// DialContext 实现 Dialer
func (f DialerFunc) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	return f(ctx, network, address)
}

// ============================================================================
//                              Direct - 直连
// ============================================================================

// Direct 直连拨号器
//
// 主机名先经 resolver 解析，再按顺序逐个地址拨号，首个成功即返回。
type Direct struct {
	resolver resolver.Resolver
	dialer   net.Dialer
}

// NewDirect 创建直连拨号器
func NewDirect(r resolver.Resolver, keepAlive time.Duration) *Direct {
	if r == nil {
		r = resolver.System()
	}
	return &Direct{
		resolver: r,
		dialer:   net.Dialer{KeepAlive: keepAlive},
	}
}

// DialContext 实现 Dialer
func (d *Direct) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}
	addrs, err := d.resolver.LookupHost(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", host, err)
	}

	var errs error
	for _, addr := range addrs {
		conn, err := d.dialer.DialContext(ctx, network, net.JoinHostPort(addr, port))
		if err == nil {
			return conn, nil
		}
		errs = multierr.Append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errs
}
