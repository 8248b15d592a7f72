package netbridge

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/internal/core/metrics"
	"github.com/dep2p/go-netbridge/internal/core/overlay"
	"github.com/dep2p/go-netbridge/internal/core/pool"
	"github.com/dep2p/go-netbridge/internal/core/resolver"
	"github.com/dep2p/go-netbridge/internal/core/retry"
	"github.com/dep2p/go-netbridge/internal/core/route"
	"github.com/dep2p/go-netbridge/internal/core/session"
)

// buildFxApp 构建 Fx 应用
//
// 加载顺序（按依赖）：
//  1. Resolver → Factory（直连拨号与协议升级）
//  2. Overlay → Route（路由决策依赖覆盖网络管理器）
//  3. Retry → Pool → Metrics
//  4. 用户扩展与组件注入
func buildFxApp(o *options, b *Bridge) (*fx.App, error) {
	// ════════════════════════════════════════════════════════════════════════
	// 1. 配置验证（前置）
	// ════════════════════════════════════════════════════════════════════════
	if err := o.config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	// ════════════════════════════════════════════════════════════════════════
	// 2. 核心模块
	// ════════════════════════════════════════════════════════════════════════
	modules := []fx.Option{
		fx.Supply(o.config),

		resolver.Module(),
		factory.Module(),
		overlay.Module(),
		route.Module(),
		retry.Module(),
		metrics.Module(),
	}

	// ════════════════════════════════════════════════════════════════════════
	// 3. 连接池（条件加载）
	// ════════════════════════════════════════════════════════════════════════
	if o.config.Pool.Enabled {
		modules = append(modules, pool.Module())
	}

	// ════════════════════════════════════════════════════════════════════════
	// 4. 协作者替换
	// ════════════════════════════════════════════════════════════════════════
	if o.resolver != nil {
		modules = append(modules, groupOption("resolver_options", resolver.WithBase(o.resolver)))
	}
	if o.handshaker != nil {
		h := o.handshaker
		modules = append(modules, fx.Provide(func() factory.Handshaker { return h }))
	}
	if o.controlDialer != nil {
		modules = append(modules, groupOption("overlay_options", overlay.WithControlDialer(o.controlDialer)))
	}
	if o.proxyDialer != nil {
		modules = append(modules, groupOption("overlay_options", overlay.WithProxyDialer(o.proxyDialer)))
	}
	if o.clock != nil {
		modules = append(modules,
			groupOption("overlay_options", overlay.WithClock(o.clock)),
			groupOption("retry_options", retry.WithClock(o.clock)),
			groupOption("resolver_options", resolver.WithClock(o.clock)),
			groupOption("metrics_options", metrics.WithClock(o.clock)),
		)
		if o.config.Pool.Enabled {
			modules = append(modules, groupOption("pool_options", pool.WithClock(o.clock)))
		}
	}
	if o.registerer != nil {
		reg := o.registerer
		modules = append(modules, fx.Provide(func() prometheus.Registerer { return reg }))
	}

	// ════════════════════════════════════════════════════════════════════════
	// 5. 用户扩展（Fx Options）
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules, o.userFxOptions...)

	// ════════════════════════════════════════════════════════════════════════
	// 6. 组件注入
	// ════════════════════════════════════════════════════════════════════════
	modules = append(modules,
		fx.Invoke(injectBridgeComponents(b)),
		fx.NopLogger,
	)

	app := fx.New(modules...)
	if err := app.Err(); err != nil {
		return nil, fmt.Errorf("build fx app: %w", err)
	}
	return app, nil
}

// groupOption 把单个选项提供到值组
func groupOption[T any](group string, v T) fx.Option {
	return fx.Provide(fx.Annotate(
		func() T { return v },
		fx.ResultTags(`group:"`+group+`"`),
	))
}

// bridgeInjectParams Bridge 组件注入参数
type bridgeInjectParams struct {
	fx.In

	Factory    *factory.Factory
	Direct     *factory.Direct
	Overlay    *overlay.Manager
	Routes     *route.Resolver
	Supervisor *retry.Supervisor

	Pool     *pool.Pool         `optional:"true"`
	Metrics  *metrics.Collector `optional:"true"`
	Observer session.Observer   `optional:"true"`
}

// injectBridgeComponents 创建 Bridge 组件注入函数
func injectBridgeComponents(b *Bridge) interface{} {
	return func(p bridgeInjectParams) {
		b.factory = p.Factory
		b.direct = p.Direct
		b.overlay = p.Overlay
		b.routes = p.Routes
		b.supervisor = p.Supervisor
		b.pool = p.Pool
		b.metrics = p.Metrics
		b.observer = p.Observer
	}
}
