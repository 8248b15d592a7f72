package netbridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/internal/core/metrics"
	"github.com/dep2p/go-netbridge/internal/core/overlay"
	"github.com/dep2p/go-netbridge/internal/core/pool"
	"github.com/dep2p/go-netbridge/internal/core/retry"
	"github.com/dep2p/go-netbridge/internal/core/route"
	"github.com/dep2p/go-netbridge/internal/core/session"
	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("netbridge")

// startTimeout Fx App 启动超时
const startTimeout = 30 * time.Second

// Bridge 传输桥接器
//
// 组装名称解析、连接工厂、覆盖网络管理器、路由决策、重试监督器与连接池。
// 所有方法并发安全。
type Bridge struct {
	config   *config.Config
	defaults types.RouteConfig
	app      *fx.App

	mu    sync.RWMutex
	state State

	// 由 Fx 注入
	factory    *factory.Factory
	direct     *factory.Direct
	overlay    *overlay.Manager
	routes     *route.Resolver
	supervisor *retry.Supervisor
	pool       *pool.Pool
	metrics    *metrics.Collector
	observer   session.Observer
}

// New 创建桥接器，需调用 Start 后使用
func New(opts ...Option) (*Bridge, error) {
	o := newOptions()
	for _, opt := range opts {
		if err := opt(o); err != nil {
			return nil, fmt.Errorf("apply option: %w", err)
		}
	}

	b := &Bridge{
		config:   o.config,
		defaults: o.config.DefaultRouteConfig(),
	}
	app, err := buildFxApp(o, b)
	if err != nil {
		return nil, err
	}
	b.app = app
	return b, nil
}

// Start 启动桥接器
//
// 覆盖网络引导是懒加载的，这里不触发任何网络 I/O。
func (b *Bridge) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateRunning:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrBridgeClosed
	}

	startCtx, cancel := context.WithTimeout(ctx, startTimeout)
	defer cancel()
	if err := b.app.Start(startCtx); err != nil {
		logger.Error("桥接器启动失败", "error", err)
		return fmt.Errorf("start: %w", err)
	}
	b.state = StateRunning
	logger.Info("桥接器已启动", "pool", b.pool != nil, "metrics", b.metrics != nil)
	return nil
}

// Stop 停止桥接器
//
// 退役全部覆盖网络电路并关闭连接池中的空闲会话。
// 已交给调用方的会话不受影响，仍需调用方关闭。
func (b *Bridge) Stop(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateIdle:
		return ErrNotStarted
	case StateStopped:
		return nil
	}

	b.state = StateStopped
	if err := b.app.Stop(ctx); err != nil {
		logger.Error("桥接器停止失败", "error", err)
		return fmt.Errorf("stop fx app: %w", err)
	}
	logger.Info("桥接器已停止")
	return nil
}

// State 返回当前状态
func (b *Bridge) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// running 检查桥接器是否可用
func (b *Bridge) running() error {
	switch b.State() {
	case StateIdle:
		return ErrNotStarted
	case StateStopped:
		return ErrBridgeClosed
	default:
		return nil
	}
}

// Config 返回配置
func (b *Bridge) Config() *config.Config { return b.config }

// DefaultRouteConfig 返回请求级策略的默认值
func (b *Bridge) DefaultRouteConfig() RouteConfig { return b.defaults }

// Metrics 返回指标收集器，关闭指标时为 nil
func (b *Bridge) Metrics() *metrics.Collector { return b.metrics }

// CircuitCount 返回所有覆盖网络控制器持有的电路数
func (b *Bridge) CircuitCount() int { return b.overlay.CircuitCount() }
