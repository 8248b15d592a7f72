package netbridge

import (
	"context"
	"errors"
	"net"

	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/internal/core/pool"
	"github.com/dep2p/go-netbridge/internal/core/session"
	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

// ════════════════════════════════════════════════════════════════════════════
//                              建立会话
// ════════════════════════════════════════════════════════════════════════════

// Connect 建立到端点的会话
//
// cfg 中未设置的字段由进程默认值填充（见 Config.DefaultRouteConfig）。
// 每次尝试依次执行路由决策、拨号（直连或经电路）与协议升级，
// 整个尝试受 ConnectTimeout 约束。瞬时错误在预算内重试，
// 致命错误立即返回。返回的要么是可用会话，要么是单个终止错误。
func (b *Bridge) Connect(ctx context.Context, ep Endpoint, cfg RouteConfig) (*Session, error) {
	if err := b.running(); err != nil {
		return nil, err
	}
	rc, err := b.prepare(ep, cfg)
	if err != nil {
		return nil, err
	}
	return b.connect(ctx, ep, rc)
}

// Close 关闭会话，可重复调用
func (b *Bridge) Close(s *Session) error {
	if s == nil {
		return nil
	}
	return s.Close()
}

// Acquire 从连接池借出会话，没有可复用的空闲会话时新建
//
// 用完调用 Lease.Release 归还；会话出错时调用 Lease.Discard。
func (b *Bridge) Acquire(ctx context.Context, ep Endpoint, cfg RouteConfig) (*Lease, error) {
	if err := b.running(); err != nil {
		return nil, err
	}
	if b.pool == nil {
		return nil, ErrPoolDisabled
	}
	rc, err := b.prepare(ep, cfg)
	if err != nil {
		return nil, err
	}
	return b.pool.Acquire(ctx, pool.KeyOf(ep, rc), func(ctx context.Context) (*session.Session, error) {
		return b.connect(ctx, ep, rc)
	})
}

// prepare 在任何 I/O 之前校验端点并填充策略默认值
func (b *Bridge) prepare(ep Endpoint, cfg RouteConfig) (RouteConfig, error) {
	if err := ep.Validate(); err != nil {
		return RouteConfig{}, &types.Error{Kind: types.ErrInvalidEndpoint, Endpoint: ep.String(), Fatal: true, Err: err}
	}
	rc := cfg.WithDefaults(b.defaults)
	if err := rc.Validate(); err != nil {
		return RouteConfig{}, &types.Error{Kind: types.ErrInvalidEndpoint, Endpoint: ep.String(), Fatal: true, Err: err}
	}
	return rc, nil
}

// connect 在重试监督下建立连接并包装为会话
func (b *Bridge) connect(ctx context.Context, ep Endpoint, rc RouteConfig) (*Session, error) {
	var (
		conn *factory.Connection
		rt   types.Route
	)
	err := b.supervisor.Do(ctx, ep.String(), rc.Retries(), func(ctx context.Context, _ int) error {
		c, r, err := b.attempt(ctx, ep, rc)
		if err != nil {
			return err
		}
		conn, rt = c, r
		return nil
	})
	if err != nil {
		return nil, err
	}

	opts := make([]session.Option, 0, 3)
	if n := b.config.Dial.MaxMessageSize; n > 0 {
		opts = append(opts, session.WithMaxMessageSize(n))
	}
	if rt.IsOverlay() {
		opts = append(opts, session.WithReporter(b.overlay))
	}
	if b.observer != nil {
		opts = append(opts, session.WithObserver(b.observer))
	}
	s := session.New(ep, rt, conn, opts...)
	logger.Debug("会话已建立",
		"session", log.TruncateID(s.ID(), 8),
		"endpoint", ep.String(),
		"route", rt.String(),
		"alpn", conn.ALPN)
	return s, nil
}

// attempt 一次完整的建连尝试
//
// 经覆盖网络的尝试失败时向控制器报告，调用方取消除外。
func (b *Bridge) attempt(ctx context.Context, ep Endpoint, rc RouteConfig) (*factory.Connection, types.Route, error) {
	actx, cancel := context.WithTimeout(ctx, rc.ConnectTimeout)
	defer cancel()

	rt, err := b.routes.Resolve(actx, ep, rc)
	if err != nil {
		stage := "direct"
		if rc.OverlayEnabled() {
			stage = "overlay"
		}
		return nil, rt, withRoute(err, stage, types.ErrOverlayUnavailable)
	}

	conn, err := b.factory.Establish(actx, b.dialer(rt), ep, rc)
	if err != nil {
		if h, ok := rt.Circuit(); ok && ctx.Err() == nil {
			b.overlay.ReportFailure(h, err)
		}
		return nil, rt, withRoute(err, rt.String(), types.ErrDialFailed)
	}
	return conn, rt, nil
}

// dialer 按路由选择拨号器
func (b *Bridge) dialer(rt types.Route) factory.Dialer {
	h, ok := rt.Circuit()
	if !ok {
		return b.direct
	}
	return factory.DialerFunc(func(ctx context.Context, network, address string) (net.Conn, error) {
		return b.overlay.DialContext(ctx, h, network, address)
	})
}

// withRoute 给错误补上尝试的路由；未分类的错误归入 fallback
func withRoute(err error, route string, fallback error) error {
	var e *types.Error
	if errors.As(err, &e) {
		out := *e
		if out.Route == "" {
			out.Route = route
		}
		return &out
	}
	kind := types.KindOf(err)
	if kind == nil {
		kind = fallback
	}
	return &types.Error{Kind: kind, Route: route, Err: err}
}
