package retry

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
)

// Module 提供重试监督器的 Fx 模块
func Module() fx.Option {
	return fx.Module("retry",
		fx.Provide(ProvideSupervisor),
	)
}

// Params 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Observer   Observer       `optional:"true"`
	Options    []Option       `group:"retry_options"`
}

// ProvideSupervisor 按统一配置提供监督器
func ProvideSupervisor(p Params) *Supervisor {
	policy := DefaultPolicy()
	if p.UnifiedCfg != nil {
		policy = FromUnified(p.UnifiedCfg.Retry)
	}
	opts := append([]Option(nil), p.Options...)
	if p.Observer != nil {
		opts = append(opts, WithObserver(p.Observer))
	}
	return New(policy, opts...)
}
