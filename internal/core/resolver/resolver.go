package resolver

import (
	"context"
	"fmt"
	"net"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/pkg/lib/log"
)

var logger = log.Logger("resolver")

// Resolver 名称解析能力
type Resolver interface {
	// LookupHost 返回 host 的地址列表（不含端口）
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Option 解析器选项
type Option func(*options)

type options struct {
	clock clock.Clock
	base  Resolver
}

// WithClock 设置缓存使用的时钟
func WithClock(c clock.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithBase 替换底层解析器（默认按配置选择 DNS 客户端或系统解析器）
func WithBase(r Resolver) Option {
	return func(o *options) {
		o.base = r
	}
}

// New 按配置组装解析器
func New(cfg config.ResolverConfig, opts ...Option) Resolver {
	o := options{clock: clock.New()}
	for _, opt := range opts {
		opt(&o)
	}

	base := o.base
	if base == nil {
		if len(cfg.Nameservers) > 0 {
			base = NewDNS(cfg.Nameservers, cfg.Timeout.Duration())
		} else {
			base = System()
		}
	}
	if cfg.CacheSize > 0 {
		// DNS 客户端对每个服务器分别查询 A 与 AAAA
		timeout := 2 * cfg.Timeout.Duration() * time.Duration(max(1, len(cfg.Nameservers)))
		base = NewCache(base, cfg.CacheSize, cfg.CacheTTL.Duration(), timeout, o.clock)
	}
	return &literal{next: base, preferIPv4: cfg.PreferIPv4}
}

// ============================================================================
//                              IP 字面量短路
// ============================================================================

// literal IP 字面量直接返回，其余交给 next，结果按族排序
type literal struct {
	next       Resolver
	preferIPv4 bool
}

func (l *literal) LookupHost(ctx context.Context, host string) ([]string, error) {
	host = strings.TrimSuffix(strings.Trim(host, "[]"), ".")
	if host == "" {
		return nil, fmt.Errorf("%w: empty host", ErrNotFound)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return []string{addr.Unmap().String()}, nil
	}
	addrs, err := l.next.LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	addrs = slices.Clone(addrs)
	if l.preferIPv4 {
		sortIPv4First(addrs)
	}
	logger.Debug("解析完成", "host", host, "addrs", len(addrs))
	return addrs, nil
}

// sortIPv4First 稳定排序，IPv4 在前
func sortIPv4First(addrs []string) {
	rank := func(s string) int {
		if a, err := netip.ParseAddr(s); err == nil && a.Unmap().Is4() {
			return 0
		}
		return 1
	}
	slices.SortStableFunc(addrs, func(a, b string) int {
		return rank(a) - rank(b)
	})
}

// ============================================================================
//                              系统解析器
// ============================================================================

type system struct {
	r *net.Resolver
}

// System 返回基于 net.DefaultResolver 的解析器
func System() Resolver {
	return &system{r: net.DefaultResolver}
}

func (s *system) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, err := s.r.LookupHost(ctx, host)
	if err != nil {
		if dnsErr, ok := err.(*net.DNSError); ok && dnsErr.IsNotFound {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
		}
		return nil, err
	}
	return addrs, nil
}

// ============================================================================
//                              静态表
// ============================================================================

// Static 固定映射表，键为小写主机名
type Static map[string][]string

// LookupHost 实现 Resolver
func (s Static) LookupHost(_ context.Context, host string) ([]string, error) {
	if addrs, ok := s[strings.ToLower(host)]; ok && len(addrs) > 0 {
		return slices.Clone(addrs), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, host)
}
