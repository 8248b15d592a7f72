package config

import (
	"errors"
	"fmt"
	"net"
	"time"
)

// ResolverConfig 名称解析配置
//
// 仅用于直连路由；覆盖网络路由把主机名交给代理远端解析。
type ResolverConfig struct {
	// Nameservers 自定义 DNS 服务器（host:port），为空使用系统解析器
	Nameservers []string `json:"nameservers,omitempty"`

	// Timeout 单次查询超时
	Timeout Duration `json:"timeout"`

	// CacheSize 缓存条目上限，0 禁用缓存
	CacheSize int `json:"cache_size"`

	// CacheTTL 缓存最长保留时间（实际取 min(记录 TTL, CacheTTL)）
	CacheTTL Duration `json:"cache_ttl"`

	// PreferIPv4 结果中 IPv4 优先
	PreferIPv4 bool `json:"prefer_ipv4"`
}

// DefaultResolverConfig 返回默认解析配置
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		Timeout:    Duration(5 * time.Second),
		CacheSize:  256,
		CacheTTL:   Duration(5 * time.Minute),
		PreferIPv4: true,
	}
}

// Validate 验证解析配置
func (c ResolverConfig) Validate() error {
	if c.Timeout <= 0 {
		return errors.New("timeout must be positive")
	}
	if c.CacheSize < 0 {
		return errors.New("cache size must not be negative")
	}
	if c.CacheSize > 0 && c.CacheTTL <= 0 {
		return errors.New("cache ttl must be positive when cache is enabled")
	}
	for _, ns := range c.Nameservers {
		if _, _, err := net.SplitHostPort(ns); err != nil {
			return fmt.Errorf("invalid nameserver %q: %w", ns, err)
		}
	}
	return nil
}
