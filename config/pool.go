package config

import (
	"errors"
	"time"
)

// PoolConfig 会话连接池配置
type PoolConfig struct {
	// Enabled 是否启用连接池
	Enabled bool `json:"enabled"`

	// IdleTimeout 空闲超时，超过后关闭并驱逐
	IdleTimeout Duration `json:"idle_timeout"`

	// MaxIdlePerKey 每个键保留的最大空闲会话数
	MaxIdlePerKey int `json:"max_idle_per_key"`

	// CleanupInterval 后台清理周期
	CleanupInterval Duration `json:"cleanup_interval"`
}

// DefaultPoolConfig 返回默认连接池配置
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		Enabled:         true,
		IdleTimeout:     Duration(90 * time.Second),
		MaxIdlePerKey:   4,
		CleanupInterval: Duration(30 * time.Second),
	}
}

// Validate 验证连接池配置
func (c PoolConfig) Validate() error {
	if !c.Enabled {
		return nil
	}
	if c.IdleTimeout <= 0 {
		return errors.New("idle timeout must be positive")
	}
	if c.MaxIdlePerKey <= 0 {
		return errors.New("max idle per key must be positive")
	}
	if c.CleanupInterval <= 0 {
		return errors.New("cleanup interval must be positive")
	}
	return nil
}
