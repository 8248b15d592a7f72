package route

import (
	"context"
	"errors"
	"fmt"

	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("route")

// CircuitSource 电路来源（覆盖网络管理器）
type CircuitSource interface {
	AcquireCircuit(ctx context.Context, cfg types.RouteConfig, isolationKey string) (types.CircuitHandle, error)
}

// Resolver 路由解析器
//
// 除控制器引用外无状态，可并发使用。
type Resolver struct {
	circuits CircuitSource
}

// NewResolver 创建路由解析器，circuits 可以为 nil（此时覆盖网络路由不可用）
func NewResolver(circuits CircuitSource) *Resolver {
	return &Resolver{circuits: circuits}
}

// Resolve 为一次尝试决定路由
//
// 电路获取超时返回可重试的 ErrOverlayUnavailable；
// 控制器返回的错误原样传递（引导耗尽仍是致命的）。
func (r *Resolver) Resolve(ctx context.Context, ep types.Endpoint, cfg types.RouteConfig) (types.Route, error) {
	if !cfg.OverlayEnabled() {
		return types.Direct(), nil
	}
	if r.circuits == nil {
		return types.Route{}, types.FatalError(types.ErrOverlayUnavailable, errors.New("no overlay controller configured"))
	}

	actx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		actx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	var isolation string
	if cfg.IsolateCircuit {
		isolation = ep.Key()
	}

	h, err := r.circuits.AcquireCircuit(actx, cfg, isolation)
	if err != nil {
		if ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) && !types.IsFatal(err) {
			return types.Route{}, types.NewError(types.ErrOverlayUnavailable,
				fmt.Errorf("circuit acquisition timed out after %s: %w", cfg.ConnectTimeout, err))
		}
		return types.Route{}, err
	}

	logger.Debug("选择覆盖网络路由", "endpoint", ep.String(), "circuit", log.TruncateID(string(h), 8))
	return types.Overlay(h), nil
}
