package resolver

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
)

// Module 提供解析器的 Fx 模块
func Module() fx.Option {
	return fx.Module("resolver",
		fx.Provide(ProvideResolver),
	)
}

// Params 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Options    []Option       `group:"resolver_options"`
}

// ProvideResolver 按统一配置提供解析器
func ProvideResolver(p Params) Resolver {
	cfg := config.DefaultResolverConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Resolver
	}
	return New(cfg, p.Options...)
}
