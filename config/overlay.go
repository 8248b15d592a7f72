package config

import (
	"errors"
	"time"
)

// OverlayConfig 覆盖网络配置
//
// 覆盖网络由两个入口组成：
//   - 本地 SOCKS5 代理（ProxyAddress），承载数据流
//   - 控制通道（ControlAddress），用于认证、查询引导状态、创建与关闭电路
//
// 控制通道为空时，电路退化为仅靠 SOCKS5 认证隔离的逻辑电路。
type OverlayConfig struct {
	// Enabled 进程默认是否经由覆盖网络
	Enabled bool `json:"enabled"`

	// ProxyAddress 本地代理地址
	ProxyAddress string `json:"proxy_address"`

	// ControlAddress 控制通道地址
	ControlAddress string `json:"control_address,omitempty"`

	// ControlPassword 控制通道认证口令，为空时使用空认证
	ControlPassword string `json:"control_password,omitempty"`

	// BootstrapMaxAttempts 引导最大尝试次数
	BootstrapMaxAttempts int `json:"bootstrap_max_attempts"`

	// BootstrapInitialBackoff 引导首次退避
	BootstrapInitialBackoff Duration `json:"bootstrap_initial_backoff"`

	// BootstrapMaxBackoff 引导退避上限
	BootstrapMaxBackoff Duration `json:"bootstrap_max_backoff"`

	// BootstrapTimeout 单次引导尝试超时
	BootstrapTimeout Duration `json:"bootstrap_timeout"`

	// CircuitCreateAttempts 电路创建最大尝试次数（独立于调用方的重试预算）
	CircuitCreateAttempts int `json:"circuit_create_attempts"`

	// CircuitCreateBackoff 电路创建重试间隔
	CircuitCreateBackoff Duration `json:"circuit_create_backoff"`

	// RotationThreshold 默认电路轮换阈值
	RotationThreshold int `json:"rotation_threshold"`

	// MaxCircuitAge 电路最长使用时间，0 表示不限制
	MaxCircuitAge Duration `json:"max_circuit_age,omitempty"`
}

// DefaultOverlayConfig 返回默认覆盖网络配置
func DefaultOverlayConfig() OverlayConfig {
	return OverlayConfig{
		Enabled:                 false,
		ProxyAddress:            "127.0.0.1:9050",
		ControlAddress:          "127.0.0.1:9051",
		BootstrapMaxAttempts:    5,
		BootstrapInitialBackoff: Duration(500 * time.Millisecond),
		BootstrapMaxBackoff:     Duration(10 * time.Second),
		BootstrapTimeout:        Duration(30 * time.Second),
		CircuitCreateAttempts:   3,
		CircuitCreateBackoff:    Duration(200 * time.Millisecond),
		RotationThreshold:       3,
	}
}

// Validate 验证覆盖网络配置
func (c OverlayConfig) Validate() error {
	if c.Enabled && c.ProxyAddress == "" {
		return errors.New("proxy address required when overlay is enabled")
	}
	if c.BootstrapMaxAttempts <= 0 {
		return errors.New("bootstrap max attempts must be positive")
	}
	if c.CircuitCreateAttempts <= 0 {
		return errors.New("circuit create attempts must be positive")
	}
	if c.RotationThreshold <= 0 {
		return errors.New("rotation threshold must be positive")
	}
	if c.BootstrapInitialBackoff < 0 || c.BootstrapMaxBackoff < 0 || c.CircuitCreateBackoff < 0 {
		return errors.New("backoff must not be negative")
	}
	if c.BootstrapTimeout <= 0 {
		return errors.New("bootstrap timeout must be positive")
	}
	return nil
}
