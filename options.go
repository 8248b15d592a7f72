package netbridge

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/internal/core/overlay"
	"github.com/dep2p/go-netbridge/internal/core/resolver"
)

// Option 用户配置选项函数
type Option func(*options) error

// options 内部选项结构
type options struct {
	config *config.Config

	resolver      resolver.Resolver
	handshaker    factory.Handshaker
	controlDialer overlay.ControlDialer
	proxyDialer   overlay.ProxyDialer
	clock         clock.Clock
	registerer    prometheus.Registerer

	userFxOptions []fx.Option
}

// newOptions 创建默认选项
func newOptions() *options {
	return &options{
		config: config.NewConfig(),
	}
}

// WithConfig 使用完整配置
func WithConfig(cfg *config.Config) Option {
	return func(o *options) error {
		if cfg == nil {
			return errors.New("config is nil")
		}
		o.config = cfg
		return nil
	}
}

// WithConfigJSON 从 JSON 加载配置
func WithConfigJSON(data []byte) Option {
	return func(o *options) error {
		cfg, err := config.FromJSON(data)
		if err != nil {
			return err
		}
		o.config = cfg
		return nil
	}
}

// WithResolver 替换底层名称解析器
//
// IP 字面量短路与缓存仍按配置生效。
func WithResolver(r resolver.Resolver) Option {
	return func(o *options) error {
		if r == nil {
			return errors.New("resolver is nil")
		}
		o.resolver = r
		return nil
	}
}

// WithHandshaker 替换 TLS 握手实现
func WithHandshaker(h factory.Handshaker) Option {
	return func(o *options) error {
		if h == nil {
			return errors.New("handshaker is nil")
		}
		o.handshaker = h
		return nil
	}
}

// WithControlChannel 替换覆盖网络控制通道拨号器
func WithControlChannel(d overlay.ControlDialer) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("control dialer is nil")
		}
		o.controlDialer = d
		return nil
	}
}

// WithProxyDialer 替换覆盖网络代理拨号器
func WithProxyDialer(d overlay.ProxyDialer) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("proxy dialer is nil")
		}
		o.proxyDialer = d
		return nil
	}
}

// WithClock 设置时钟（测试用 mock）
//
// 作用于重试退避、覆盖网络引导退避、连接池空闲计时与速率统计。
func WithClock(c clock.Clock) Option {
	return func(o *options) error {
		if c == nil {
			return errors.New("clock is nil")
		}
		o.clock = c
		return nil
	}
}

// WithRegistry 设置 Prometheus 注册器，默认使用 prometheus.DefaultRegisterer
func WithRegistry(reg prometheus.Registerer) Option {
	return func(o *options) error {
		if reg == nil {
			return errors.New("registerer is nil")
		}
		o.registerer = reg
		return nil
	}
}

// WithFxOptions 追加自定义 Fx 选项
func WithFxOptions(opts ...fx.Option) Option {
	return func(o *options) error {
		o.userFxOptions = append(o.userFxOptions, opts...)
		return nil
	}
}
