package overlay

import (
	"context"
	"net"
	"sync"

	"go.uber.org/multierr"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// controllerKey 一个覆盖网络实例由代理地址与控制地址共同确定
type controllerKey struct {
	proxy   string
	control string
}

// Manager 按地址管理多个覆盖网络控制器
//
// RouteConfig 按请求携带覆盖网络地址，Manager 为每组地址懒创建一个
// Controller。锁只保护查找表，不跨越任何 I/O。
type Manager struct {
	base Config
	opts []Option

	mu          sync.Mutex
	closed      bool
	controllers map[controllerKey]*Controller
}

// NewManager 创建管理器，base 提供地址以外的参数
func NewManager(base Config, opts ...Option) *Manager {
	return &Manager{
		base:        base,
		opts:        opts,
		controllers: make(map[controllerKey]*Controller),
	}
}

// Controller 返回地址对应的控制器，不存在时创建
func (m *Manager) Controller(proxyAddr, controlAddr string) (*Controller, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, types.FatalError(types.ErrOverlayUnavailable, ErrControllerClosed)
	}
	key := controllerKey{proxy: proxyAddr, control: controlAddr}
	if c, ok := m.controllers[key]; ok {
		return c, nil
	}
	cfg := m.base
	cfg.ProxyAddress = proxyAddr
	cfg.ControlAddress = controlAddr
	c := NewController(cfg, m.opts...)
	m.controllers[key] = c
	return c, nil
}

// owner 查找持有句柄的控制器
func (m *Manager) owner(h types.CircuitHandle) *Controller {
	m.mu.Lock()
	ctls := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		ctls = append(ctls, c)
	}
	m.mu.Unlock()

	for _, c := range ctls {
		if c.Has(h) {
			return c
		}
	}
	return nil
}

// AcquireCircuit 为路由策略分配电路
func (m *Manager) AcquireCircuit(ctx context.Context, cfg types.RouteConfig, isolationKey string) (types.CircuitHandle, error) {
	c, err := m.Controller(cfg.OverlayProxyAddress, cfg.OverlayControlAddress)
	if err != nil {
		return "", err
	}
	return c.AcquireCircuit(ctx, Policy{
		RotationThreshold: cfg.CircuitRotationThreshold,
		IsolationKey:      isolationKey,
	})
}

// ReportFailure 转发给持有句柄的控制器
func (m *Manager) ReportFailure(h types.CircuitHandle, cause error) {
	if c := m.owner(h); c != nil {
		c.ReportFailure(h, cause)
	}
}

// ReportSuccess 转发给持有句柄的控制器
func (m *Manager) ReportSuccess(h types.CircuitHandle) {
	if c := m.owner(h); c != nil {
		c.ReportSuccess(h)
	}
}

// DialContext 通过电路连接 address
func (m *Manager) DialContext(ctx context.Context, h types.CircuitHandle, network, address string) (net.Conn, error) {
	c := m.owner(h)
	if c == nil {
		return nil, ErrUnknownCircuit
	}
	return c.DialContext(ctx, h, network, address)
}

// CircuitCount 返回所有控制器的活跃电路总数
func (m *Manager) CircuitCount() int {
	m.mu.Lock()
	ctls := make([]*Controller, 0, len(m.controllers))
	for _, c := range m.controllers {
		ctls = append(ctls, c)
	}
	m.mu.Unlock()

	n := 0
	for _, c := range ctls {
		n += c.CircuitCount()
	}
	return n
}

// Shutdown 关闭全部控制器
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	ctls := m.controllers
	m.controllers = make(map[controllerKey]*Controller)
	m.mu.Unlock()

	var errs error
	for _, c := range ctls {
		errs = multierr.Append(errs, c.Shutdown(ctx))
	}
	return errs
}
