package pool

import (
	"time"

	"github.com/dep2p/go-netbridge/config"
)

// Config 连接池配置
type Config struct {
	// IdleTimeout 空闲超时
	IdleTimeout time.Duration

	// MaxIdlePerKey 每个键的空闲上限
	MaxIdlePerKey int

	// CleanupInterval janitor 周期
	CleanupInterval time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return FromUnified(config.DefaultPoolConfig())
}

// FromUnified 从统一配置转换
func FromUnified(c config.PoolConfig) Config {
	return Config{
		IdleTimeout:     c.IdleTimeout.Duration(),
		MaxIdlePerKey:   c.MaxIdlePerKey,
		CleanupInterval: c.CleanupInterval.Duration(),
	}
}

func (c *Config) validate() {
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 90 * time.Second
	}
	if c.MaxIdlePerKey <= 0 {
		c.MaxIdlePerKey = 4
	}
	if c.CleanupInterval <= 0 {
		c.CleanupInterval = 30 * time.Second
	}
}
