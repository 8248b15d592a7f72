package overlay

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
)

// Module 提供覆盖网络管理器的 Fx 模块
func Module() fx.Option {
	return fx.Module("overlay",
		fx.Provide(ProvideManager),
		fx.Invoke(registerLifecycle),
	)
}

// Params 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Observer   Observer       `optional:"true"`
	Options    []Option       `group:"overlay_options"`
}

// ProvideManager 提供覆盖网络管理器
func ProvideManager(p Params) *Manager {
	cfg := DefaultConfig()
	if p.UnifiedCfg != nil {
		cfg = FromUnified(p.UnifiedCfg.Overlay)
		cfg.KeepAlive = p.UnifiedCfg.Dial.KeepAlive.Duration()
	}
	opts := append([]Option(nil), p.Options...)
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	return NewManager(cfg, opts...)
}

// lifecycleInput 生命周期输入参数
type lifecycleInput struct {
	fx.In
	LC      fx.Lifecycle
	Manager *Manager
}

// registerLifecycle 注册生命周期钩子
//
// 引导是懒加载的（首个覆盖网络请求触发），这里只负责关闭。
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			return input.Manager.Shutdown(ctx)
		},
	})
}
