package route

import (
	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/internal/core/overlay"
)

// Module 提供路由解析器的 Fx 模块
func Module() fx.Option {
	return fx.Module("route",
		fx.Provide(ProvideResolver),
	)
}

// ProvideResolver 以覆盖网络管理器为电路来源
func ProvideResolver(m *overlay.Manager) *Resolver {
	return NewResolver(m)
}
