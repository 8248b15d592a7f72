package overlay

import (
	"time"

	"github.com/dep2p/go-netbridge/config"
)

// Config 控制器配置
type Config struct {
	// ProxyAddress 本地 SOCKS5 代理地址
	ProxyAddress string

	// ControlAddress 控制通道地址，为空时不使用控制通道
	ControlAddress string

	// ControlPassword 控制通道认证口令
	ControlPassword string

	// BootstrapMaxAttempts 引导最大尝试次数
	BootstrapMaxAttempts int

	// BootstrapInitialBackoff 引导首次退避
	BootstrapInitialBackoff time.Duration

	// BootstrapMaxBackoff 引导退避上限
	BootstrapMaxBackoff time.Duration

	// BootstrapTimeout 单次引导尝试超时
	BootstrapTimeout time.Duration

	// CircuitCreateAttempts 电路创建最大尝试次数
	CircuitCreateAttempts int

	// CircuitCreateBackoff 电路创建重试间隔
	CircuitCreateBackoff time.Duration

	// MaxCircuitAge 电路最长使用时间，0 表示不限制
	MaxCircuitAge time.Duration

	// KeepAlive 经代理的 TCP keep-alive
	KeepAlive time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return FromUnified(config.DefaultOverlayConfig())
}

// FromUnified 从统一配置转换
func FromUnified(c config.OverlayConfig) Config {
	return Config{
		ProxyAddress:            c.ProxyAddress,
		ControlAddress:          c.ControlAddress,
		ControlPassword:         c.ControlPassword,
		BootstrapMaxAttempts:    c.BootstrapMaxAttempts,
		BootstrapInitialBackoff: c.BootstrapInitialBackoff.Duration(),
		BootstrapMaxBackoff:     c.BootstrapMaxBackoff.Duration(),
		BootstrapTimeout:        c.BootstrapTimeout.Duration(),
		CircuitCreateAttempts:   c.CircuitCreateAttempts,
		CircuitCreateBackoff:    c.CircuitCreateBackoff.Duration(),
		MaxCircuitAge:           c.MaxCircuitAge.Duration(),
		KeepAlive:               30 * time.Second,
	}
}

// Validate 修正非法值
func (c *Config) Validate() {
	if c.BootstrapMaxAttempts <= 0 {
		c.BootstrapMaxAttempts = 5
	}
	if c.BootstrapInitialBackoff <= 0 {
		c.BootstrapInitialBackoff = 500 * time.Millisecond
	}
	if c.BootstrapMaxBackoff < c.BootstrapInitialBackoff {
		c.BootstrapMaxBackoff = c.BootstrapInitialBackoff
	}
	if c.BootstrapTimeout <= 0 {
		c.BootstrapTimeout = 30 * time.Second
	}
	if c.CircuitCreateAttempts <= 0 {
		c.CircuitCreateAttempts = 3
	}
	if c.CircuitCreateBackoff < 0 {
		c.CircuitCreateBackoff = 0
	}
}
