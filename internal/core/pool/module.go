package pool

import (
	"context"

	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
)

// Module 提供连接池的 Fx 模块
func Module() fx.Option {
	return fx.Module("pool",
		fx.Provide(ProvidePool),
		fx.Invoke(registerLifecycle),
	)
}

// Params 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Observer   Observer       `optional:"true"`
	Options    []Option       `group:"pool_options"`
}

// ProvidePool 按统一配置提供连接池
func ProvidePool(p Params) *Pool {
	cfg := DefaultConfig()
	if p.UnifiedCfg != nil {
		cfg = FromUnified(p.UnifiedCfg.Pool)
	}
	opts := append([]Option(nil), p.Options...)
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	return New(cfg, opts...)
}

type lifecycleInput struct {
	fx.In
	LC   fx.Lifecycle
	Pool *Pool
}

// registerLifecycle janitor 随应用启动，停止时关闭空闲会话
func registerLifecycle(input lifecycleInput) {
	input.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			input.Pool.Start()
			return nil
		},
		OnStop: func(context.Context) error {
			return input.Pool.Close()
		},
	})
}
