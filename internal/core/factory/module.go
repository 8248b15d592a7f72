package factory

import (
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/internal/core/resolver"
)

// Module 提供连接工厂与直连拨号器的 Fx 模块
func Module() fx.Option {
	return fx.Module("factory",
		fx.Provide(
			ProvideFactory,
			ProvideDirect,
		),
	)
}

// Params 依赖参数
type Params struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Handshaker Handshaker     `optional:"true"`
}

// ProvideFactory 按统一配置提供连接工厂
func ProvideFactory(p Params) (*Factory, error) {
	cfg := config.DefaultDialConfig()
	if p.UnifiedCfg != nil {
		cfg = p.UnifiedCfg.Dial
	}

	h := p.Handshaker
	if h == nil {
		th, err := NewTLSHandshaker(cfg.RootCAFile)
		if err != nil {
			return nil, err
		}
		h = th
	}
	return New(
		WithHandshaker(h),
		WithMaxMessageSize(cfg.MaxMessageSize),
	), nil
}

// DirectParams 直连拨号器依赖参数
type DirectParams struct {
	fx.In

	UnifiedCfg *config.Config `optional:"true"`
	Resolver   resolver.Resolver
}

// ProvideDirect 提供直连拨号器
func ProvideDirect(p DirectParams) *Direct {
	keepAlive := 30 * time.Second
	if p.UnifiedCfg != nil {
		keepAlive = p.UnifiedCfg.Dial.KeepAlive.Duration()
	}
	return NewDirect(p.Resolver, keepAlive)
}
