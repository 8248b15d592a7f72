// Package config 提供统一的配置管理
//
// 本包采用混合配置模式：
//   - 主 Config 结构体嵌入所有子配置
//   - 每个子配置在独立文件中定义
//   - 支持从 JSON 加载和保存配置
//
// 使用示例：
//
//	cfg := config.NewConfig()
//	cfg.Overlay.ProxyAddress = "127.0.0.1:9150"
//	cfg.Retry.MaxRetries = 5
//
//	// 从 JSON 加载
//	cfg, err := config.FromJSON(data)
//
//	// 请求级路由策略的进程默认值
//	defaults := cfg.DefaultRouteConfig()
package config

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// Config 是 netbridge 的完整配置结构
//
// 配置按照功能模块组织：
//   - Overlay: 覆盖网络代理与控制通道、电路策略
//   - Dial: 拨号、TLS 与 HTTP 版本偏好
//   - Retry: 重试与退避
//   - Pool: 会话连接池
//   - Resolver: 名称解析
//   - Metrics: 监控指标
type Config struct {
	// Overlay 覆盖网络配置
	Overlay OverlayConfig `json:"overlay"`

	// Dial 拨号配置
	Dial DialConfig `json:"dial"`

	// Retry 重试配置
	Retry RetryConfig `json:"retry"`

	// Pool 连接池配置
	Pool PoolConfig `json:"pool"`

	// Resolver 名称解析配置
	Resolver ResolverConfig `json:"resolver"`

	// Metrics 监控指标配置
	Metrics MetricsConfig `json:"metrics"`
}

// NewConfig 创建默认配置
func NewConfig() *Config {
	return &Config{
		Overlay:  DefaultOverlayConfig(),
		Dial:     DefaultDialConfig(),
		Retry:    DefaultRetryConfig(),
		Pool:     DefaultPoolConfig(),
		Resolver: DefaultResolverConfig(),
		Metrics:  DefaultMetricsConfig(),
	}
}

// Validate 验证配置的有效性
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	if err := c.Overlay.Validate(); err != nil {
		return fmt.Errorf("overlay: %w", err)
	}
	if err := c.Dial.Validate(); err != nil {
		return fmt.Errorf("dial: %w", err)
	}
	if err := c.Retry.Validate(); err != nil {
		return fmt.Errorf("retry: %w", err)
	}
	if err := c.Pool.Validate(); err != nil {
		return fmt.Errorf("pool: %w", err)
	}
	if err := c.Resolver.Validate(); err != nil {
		return fmt.Errorf("resolver: %w", err)
	}
	return nil
}

// DefaultRouteConfig 返回进程级默认路由策略
//
// 请求级 RouteConfig 通过 WithDefaults 用它填充未设置的字段，
// 返回值的每个字段都已确定。
func (c *Config) DefaultRouteConfig() types.RouteConfig {
	return types.RouteConfig{
		UseOverlay:               types.Bool(c.Overlay.Enabled),
		OverlayProxyAddress:      c.Overlay.ProxyAddress,
		OverlayControlAddress:    c.Overlay.ControlAddress,
		ConnectTimeout:           c.Dial.ConnectTimeout.Duration(),
		MaxRetries:               types.Int(c.Retry.MaxRetries),
		CircuitRotationThreshold: c.Overlay.RotationThreshold,
		HTTPVersion:              c.Dial.httpVersion(),
		TLSMode:                  c.Dial.tlsMode(),
	}
}

// FromJSON 从 JSON 加载配置，未出现的字段保留默认值
func FromJSON(data []byte) (*Config, error) {
	cfg := NewConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ToJSON 序列化配置
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}
