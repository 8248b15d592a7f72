package retry

import (
	"math"
	"math/rand"
	"time"

	"github.com/dep2p/go-netbridge/config"
)

// Policy 退避策略
type Policy struct {
	// MaxRetries 默认最大重试次数
	MaxRetries int

	// InitialDelay 首次重试前的延迟
	InitialDelay time.Duration

	// MaxDelay 延迟上限，0 表示不限制
	MaxDelay time.Duration

	// Multiplier 退避乘数
	Multiplier float64

	// Jitter 在 [0, delay) 内均匀取值（full jitter）
	Jitter bool
}

// DefaultPolicy 返回默认策略
func DefaultPolicy() Policy {
	return FromUnified(config.DefaultRetryConfig())
}

// FromUnified 从统一配置转换
func FromUnified(c config.RetryConfig) Policy {
	return Policy{
		MaxRetries:   c.MaxRetries,
		InitialDelay: c.InitialDelay.Duration(),
		MaxDelay:     c.MaxDelay.Duration(),
		Multiplier:   c.Multiplier,
		Jitter:       c.Jitter,
	}
}

// ceiling 第 retry 次重试（从 1 开始）前的最大延迟
func (p Policy) ceiling(retry int) time.Duration {
	if retry <= 0 || p.InitialDelay <= 0 {
		return 0
	}
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	backoff := float64(p.InitialDelay) * math.Pow(mult, float64(retry-1))
	if p.MaxDelay > 0 && backoff > float64(p.MaxDelay) {
		backoff = float64(p.MaxDelay)
	}
	if backoff > math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(backoff)
}

// Backoff 第 retry 次重试前的延迟
func (p Policy) Backoff(retry int) time.Duration {
	d := p.ceiling(retry)
	if !p.Jitter || d <= 0 {
		return d
	}
	return time.Duration(rand.Int63n(int64(d)))
}
