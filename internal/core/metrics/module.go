package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/internal/core/overlay"
	"github.com/dep2p/go-netbridge/internal/core/pool"
	"github.com/dep2p/go-netbridge/internal/core/retry"
	"github.com/dep2p/go-netbridge/internal/core/session"
)

// Module 是 metrics 的 Fx 模块
//
// 指标关闭时 *Collector 为 nil，各 Observer 也不提供实际实现。
func Module() fx.Option {
	return fx.Module("metrics",
		fx.Provide(
			ProvideCollector,
			func(c *Collector) overlay.Observer { return observer[overlay.Observer](c) },
			func(c *Collector) retry.Observer { return observer[retry.Observer](c) },
			func(c *Collector) session.Observer { return observer[session.Observer](c) },
			func(c *Collector) pool.Observer { return observer[pool.Observer](c) },
		),
	)
}

// observer 指标关闭时返回零值接口，避免注入带 nil 指针的接口
func observer[T any](c *Collector) T {
	var zero T
	if c == nil {
		return zero
	}
	if o, ok := any(c).(T); ok {
		return o
	}
	return zero
}

// Params Metrics 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config        `optional:"true"`
	Registerer prometheus.Registerer `optional:"true"`
	Options    []CollectorOption     `group:"metrics_options"`
}

// ProvideCollector 按统一配置提供收集器，未指定注册器时使用默认注册器
func ProvideCollector(p Params) (*Collector, error) {
	cfg := config.DefaultMetricsConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Metrics
	}
	if !cfg.Enabled {
		return nil, nil
	}
	reg := p.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return NewCollector(cfg.Namespace, reg, p.Options...)
}
