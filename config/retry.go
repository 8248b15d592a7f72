package config

import (
	"errors"
	"time"
)

// RetryConfig 重试与退避配置
//
// 第 n 次重试前等待 min(InitialDelay * Multiplier^(n-1), MaxDelay)，
// 启用 Jitter 时在 [0, 该值] 内均匀取随机数。
type RetryConfig struct {
	// MaxRetries 默认最大重试次数，总尝试次数为 MaxRetries+1
	MaxRetries int `json:"max_retries"`

	// InitialDelay 首次重试延迟
	InitialDelay Duration `json:"initial_delay"`

	// MaxDelay 延迟上限
	MaxDelay Duration `json:"max_delay"`

	// Multiplier 退避乘数
	Multiplier float64 `json:"multiplier"`

	// Jitter 是否加入随机抖动
	Jitter bool `json:"jitter"`
}

// DefaultRetryConfig 返回默认重试配置
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   2,
		InitialDelay: Duration(200 * time.Millisecond),
		MaxDelay:     Duration(5 * time.Second),
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Validate 验证重试配置
func (c RetryConfig) Validate() error {
	if c.MaxRetries < 0 {
		return errors.New("max retries must not be negative")
	}
	if c.InitialDelay < 0 || c.MaxDelay < 0 {
		return errors.New("delay must not be negative")
	}
	if c.MaxDelay > 0 && c.InitialDelay > c.MaxDelay {
		return errors.New("initial delay exceeds max delay")
	}
	if c.Multiplier < 1 {
		return errors.New("multiplier must be >= 1")
	}
	return nil
}
