package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"
	"golang.org/x/sync/singleflight"

	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("overlay")

// Policy 电路分配策略
type Policy struct {
	// RotationThreshold 连续失败多少次后轮换
	RotationThreshold int

	// IsolationKey 非空时只与相同 key 的请求共享电路
	IsolationKey string
}

// Observer 电路生命周期观察者
type Observer interface {
	CircuitOpened()
	CircuitRetired()
	BootstrapFailed()
}

// Option 控制器选项
type Option func(*Controller)

// WithClock 设置时钟（测试用 mock）
func WithClock(c clock.Clock) Option {
	return func(ctl *Controller) {
		ctl.clock = c
	}
}

// WithControlDialer 设置控制通道拨号器
func WithControlDialer(d ControlDialer) Option {
	return func(ctl *Controller) {
		ctl.dialControl = d
	}
}

// WithProxyDialer 设置代理拨号器
func WithProxyDialer(d ProxyDialer) Option {
	return func(ctl *Controller) {
		ctl.proxy = d
	}
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(ctl *Controller) {
		ctl.observer = o
	}
}

// ============================================================================
//                              Controller
// ============================================================================

// Controller 单个覆盖网络实例的控制器
//
// 引导状态的生命周期限定在实例内，Shutdown 后不可再用。
type Controller struct {
	cfg         Config
	clock       clock.Clock
	dialControl ControlDialer
	proxy       ProxyDialer
	observer    Observer

	group singleflight.Group

	// 后台任务（替换电路、关闭远端电路）的生命周期
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu           sync.Mutex
	control      ControlChannel
	bootstrapped bool
	closed       bool
	circuits     map[types.CircuitHandle]*circuit
}

// NewController 创建控制器，不做任何 I/O
func NewController(cfg Config, opts ...Option) *Controller {
	cfg.Validate()
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		cfg:         cfg,
		clock:       clock.New(),
		dialControl: DialControl,
		circuits:    make(map[types.CircuitHandle]*circuit),
		ctx:         ctx,
		cancel:      cancel,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.proxy == nil {
		c.proxy = NewSOCKSDialer(cfg.KeepAlive)
	}
	return c
}

// ProxyAddress 返回代理地址
func (c *Controller) ProxyAddress() string {
	return c.cfg.ProxyAddress
}

// ============================================================================
//                              引导
// ============================================================================

// Bootstrap 建立代理与控制通道
//
// 幂等：已引导时直接返回。并发调用共享同一次引导；
// 调用方 ctx 取消只影响自身等待，不中断共享的引导过程。
// 退避耗尽后返回致命的 ErrOverlayUnavailable。
func (c *Controller) Bootstrap(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return types.FatalError(types.ErrOverlayUnavailable, ErrControllerClosed)
	}
	if c.bootstrapped {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	ch := c.group.DoChan("bootstrap", func() (any, error) {
		return nil, c.bootstrap(c.ctx)
	})
	select {
	case res := <-ch:
		return res.Err
	case <-ctx.Done():
		return types.NewError(types.ErrOverlayUnavailable, ctx.Err())
	}
}

// Bootstrapped 是否已完成引导
func (c *Controller) Bootstrapped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootstrapped
}

func (c *Controller) bootstrap(ctx context.Context) error {
	if c.Bootstrapped() {
		return nil
	}

	delay := c.cfg.BootstrapInitialBackoff
	var (
		lastErr  error
		attempts int
	)
	for attempts < c.cfg.BootstrapMaxAttempts {
		attempts++
		err := c.bootstrapOnce(ctx)
		if err == nil {
			logger.Info("覆盖网络引导完成", "proxy", c.cfg.ProxyAddress, "attempts", attempts)
			return nil
		}
		lastErr = err
		logger.Debug("覆盖网络引导失败", "proxy", c.cfg.ProxyAddress, "attempt", attempts, "err", err)

		if errors.Is(err, ErrControllerClosed) || ctx.Err() != nil {
			break
		}
		if attempts >= c.cfg.BootstrapMaxAttempts {
			break
		}
		if err := c.sleep(ctx, delay); err != nil {
			lastErr = err
			break
		}
		delay *= 2
		if delay > c.cfg.BootstrapMaxBackoff {
			delay = c.cfg.BootstrapMaxBackoff
		}
	}

	if c.observer != nil {
		c.observer.BootstrapFailed()
	}
	logger.Warn("覆盖网络不可用", "proxy", c.cfg.ProxyAddress, "attempts", attempts, "err", lastErr)
	return types.FatalError(types.ErrOverlayUnavailable,
		fmt.Errorf("bootstrap %s failed after %d attempts: %w", c.cfg.ProxyAddress, attempts, lastErr))
}

func (c *Controller) bootstrapOnce(parent context.Context) error {
	ctx, cancel := context.WithTimeout(parent, c.cfg.BootstrapTimeout)
	defer cancel()

	if err := c.proxy.Probe(ctx, c.cfg.ProxyAddress); err != nil {
		return err
	}

	var ctl ControlChannel
	if c.cfg.ControlAddress != "" {
		var err error
		ctl, err = c.dialControl(ctx, c.cfg.ControlAddress)
		if err != nil {
			return err
		}
		if err := ctl.Authenticate(ctx, c.cfg.ControlPassword); err != nil {
			_ = ctl.Close()
			return err
		}
		progress, err := ctl.BootstrapProgress(ctx)
		if err != nil {
			_ = ctl.Close()
			return err
		}
		if progress < 100 {
			_ = ctl.Close()
			return fmt.Errorf("%w: %d%%", ErrBootstrapIncomplete, progress)
		}
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if ctl != nil {
			_ = ctl.Close()
		}
		return ErrControllerClosed
	}
	old := c.control
	c.control = ctl
	c.bootstrapped = true
	c.mu.Unlock()

	if old != nil {
		_ = old.Close()
	}
	return nil
}

// dropControl 控制通道损坏时丢弃，下次使用前重新引导
func (c *Controller) dropControl(ctl ControlChannel) {
	c.mu.Lock()
	if c.control != ctl {
		c.mu.Unlock()
		return
	}
	c.control = nil
	c.bootstrapped = false
	c.mu.Unlock()

	logger.Debug("控制通道已断开", "control", c.cfg.ControlAddress)
	_ = ctl.Close()
}

func (c *Controller) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := c.clock.Timer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ============================================================================
//                              电路分配
// ============================================================================

// AcquireCircuit 返回可用电路的句柄
//
// 优先复用失败次数低于阈值的 Ready/Degraded 电路，否则经控制通道新建。
// 新建失败在控制器内部重试，耗尽后返回 ErrCircuitCreationFailed。
func (c *Controller) AcquireCircuit(ctx context.Context, policy Policy) (types.CircuitHandle, error) {
	if policy.RotationThreshold <= 0 {
		policy.RotationThreshold = 1
	}
	if err := c.Bootstrap(ctx); err != nil {
		return "", err
	}
	if h, ok := c.pick(policy); ok {
		return h, nil
	}
	h, err := c.createShared(ctx, policy)
	if err != nil {
		return "", err
	}
	c.adopt(h, policy.RotationThreshold)
	return h, nil
}

func (c *Controller) pick(policy Policy) (types.CircuitHandle, bool) {
	now := c.clock.Now()

	c.mu.Lock()
	var (
		best    *circuit
		expired []*circuit
	)
	for _, circ := range c.circuits {
		if c.cfg.MaxCircuitAge > 0 && now.Sub(circ.createdAt) >= c.cfg.MaxCircuitAge {
			expired = append(expired, circ)
			continue
		}
		if circ.usable(policy.RotationThreshold, policy.IsolationKey, c.cfg.MaxCircuitAge, now) && circ.better(best) {
			best = circ
		}
	}
	for _, circ := range expired {
		c.retireLocked(circ)
	}
	if best != nil && policy.RotationThreshold < best.threshold {
		best.threshold = policy.RotationThreshold
	}
	c.mu.Unlock()

	for _, circ := range expired {
		logger.Debug("电路超龄退役", "circuit", log.TruncateID(string(circ.handle), 8))
	}
	if best == nil {
		return "", false
	}
	return best.handle, true
}

// adopt 收紧电路阈值为所有持有者中的最小值
func (c *Controller) adopt(h types.CircuitHandle, threshold int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if circ, ok := c.circuits[h]; ok && threshold < circ.threshold {
		circ.threshold = threshold
	}
}

// createShared 合并同一隔离键上的并发创建
func (c *Controller) createShared(ctx context.Context, policy Policy) (types.CircuitHandle, error) {
	ch := c.group.DoChan("circuit/"+policy.IsolationKey, func() (any, error) {
		return c.createCircuit(c.ctx, policy)
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(types.CircuitHandle), nil
	case <-ctx.Done():
		return "", types.NewError(types.ErrCircuitCreationFailed, ctx.Err())
	}
}

func (c *Controller) createCircuit(ctx context.Context, policy Policy) (types.CircuitHandle, error) {
	var (
		lastErr  error
		attempts int
	)
	for attempts < c.cfg.CircuitCreateAttempts {
		attempts++
		h, err := c.openCircuit(ctx, policy)
		if err == nil {
			return h, nil
		}
		lastErr = err
		logger.Debug("电路创建失败", "attempt", attempts, "err", err)

		if types.IsFatal(err) || errors.Is(err, ErrControllerClosed) || ctx.Err() != nil {
			break
		}
		if attempts < c.cfg.CircuitCreateAttempts {
			if err := c.sleep(ctx, c.cfg.CircuitCreateBackoff); err != nil {
				lastErr = err
				break
			}
		}
	}
	if types.IsFatal(lastErr) {
		return "", lastErr
	}
	return "", types.NewError(types.ErrCircuitCreationFailed,
		fmt.Errorf("after %d attempts: %w", attempts, lastErr))
}

// openCircuit 经控制通道创建一条电路并在确认后登记
func (c *Controller) openCircuit(ctx context.Context, policy Policy) (types.CircuitHandle, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return "", ErrControllerClosed
	}
	ctl := c.control
	needControl := c.cfg.ControlAddress != ""
	c.mu.Unlock()

	if needControl && ctl == nil {
		if err := c.Bootstrap(ctx); err != nil {
			return "", err
		}
		c.mu.Lock()
		ctl = c.control
		c.mu.Unlock()
		if ctl == nil {
			return "", ErrBootstrapIncomplete
		}
	}

	var remoteID string
	if ctl != nil {
		cctx, cancel := context.WithTimeout(ctx, c.cfg.BootstrapTimeout)
		id, err := ctl.CreateCircuit(cctx)
		cancel()
		if err != nil {
			if isChannelBroken(err) {
				c.dropControl(ctl)
			}
			return "", err
		}
		remoteID = id
	}

	circ := newCircuit(remoteID, policy.IsolationKey, policy.RotationThreshold, c.clock.Now())

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		if ctl != nil && remoteID != "" {
			cctx, cancel := context.WithTimeout(context.Background(), time.Second)
			_ = ctl.CloseCircuit(cctx, remoteID)
			cancel()
		}
		return "", ErrControllerClosed
	}
	circ.state = StateReady
	c.circuits[circ.handle] = circ
	c.mu.Unlock()

	if c.observer != nil {
		c.observer.CircuitOpened()
	}
	logger.Debug("电路已创建", "circuit", log.TruncateID(string(circ.handle), 8), "remote", remoteID)
	return circ.handle, nil
}

// ============================================================================
//                              健康反馈
// ============================================================================

// ReportFailure 记录一次电路失败
//
// 连续失败达到阈值时电路退役，并在后台创建替换电路。
// 未知或已退役的句柄被忽略。
func (c *Controller) ReportFailure(h types.CircuitHandle, cause error) {
	c.mu.Lock()
	circ, ok := c.circuits[h]
	if !ok || circ.state == StateRetiring {
		c.mu.Unlock()
		return
	}
	circ.failures++
	if circ.state == StateReady {
		circ.state = StateDegraded
	}
	failures := circ.failures
	retired := circ.failures >= circ.threshold
	policy := Policy{RotationThreshold: circ.threshold, IsolationKey: circ.isolationKey}
	replace := false
	if retired {
		c.retireLocked(circ)
		if !c.closed {
			replace = true
			c.wg.Add(1)
		}
	}
	c.mu.Unlock()

	logger.Debug("电路失败", "circuit", log.TruncateID(string(h), 8), "failures", failures, "err", cause)
	if !replace {
		return
	}

	logger.Debug("电路达到轮换阈值", "circuit", log.TruncateID(string(h), 8), "threshold", policy.RotationThreshold)
	go func() {
		defer c.wg.Done()
		if _, err := c.createShared(c.ctx, policy); err != nil {
			logger.Debug("替换电路创建失败", "err", err)
		}
	}()
}

// ReportSuccess 清零连续失败计数，Degraded 恢复为 Ready
func (c *Controller) ReportSuccess(h types.CircuitHandle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	circ, ok := c.circuits[h]
	if !ok || circ.state == StateRetiring {
		return
	}
	circ.failures = 0
	if circ.state == StateDegraded {
		circ.state = StateReady
	}
}

// retireLocked 将电路移出电路表并异步关闭远端电路，调用方持有 c.mu
func (c *Controller) retireLocked(circ *circuit) {
	circ.state = StateRetiring
	delete(c.circuits, circ.handle)
	if c.observer != nil {
		c.observer.CircuitRetired()
	}

	ctl := c.control
	if ctl == nil || circ.remoteID == "" || c.closed {
		return
	}
	c.wg.Add(1)
	go func(id string) {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.BootstrapTimeout)
		defer cancel()
		if err := ctl.CloseCircuit(ctx, id); err != nil {
			logger.Debug("关闭远端电路失败", "remote", id, "err", err)
		}
	}(circ.remoteID)
}

// Rotate 退役全部电路并请求覆盖网络切换新身份
func (c *Controller) Rotate(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrControllerClosed
	}
	for _, circ := range c.circuits {
		c.retireLocked(circ)
	}
	ctl := c.control
	c.mu.Unlock()

	if ctl == nil {
		return nil
	}
	err := ctl.NewIdentity(ctx)
	if isChannelBroken(err) {
		c.dropControl(ctl)
	}
	return err
}

// ============================================================================
//                              数据通路
// ============================================================================

// DialContext 通过电路连接 address
func (c *Controller) DialContext(ctx context.Context, h types.CircuitHandle, network, address string) (net.Conn, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrControllerClosed
	}
	circ, ok := c.circuits[h]
	if !ok || circ.state == StateRetiring {
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownCircuit, h)
	}
	auth := circ.auth
	c.mu.Unlock()

	return c.proxy.DialContext(ctx, c.cfg.ProxyAddress, &auth, network, address)
}

// Has 句柄是否属于本控制器且未退役
func (c *Controller) Has(h types.CircuitHandle) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.circuits[h]
	return ok
}

// Circuit 返回电路快照
func (c *Controller) Circuit(h types.CircuitHandle) (CircuitInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	circ, ok := c.circuits[h]
	if !ok {
		return CircuitInfo{}, false
	}
	return circ.info(), true
}

// Circuits 返回全部电路快照
func (c *Controller) Circuits() []CircuitInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CircuitInfo, 0, len(c.circuits))
	for _, circ := range c.circuits {
		out = append(out, circ.info())
	}
	return out
}

// CircuitCount 返回活跃电路数
func (c *Controller) CircuitCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.circuits)
}

// ============================================================================
//                              关闭
// ============================================================================

// Shutdown 关闭全部电路与控制通道
//
// 重复调用返回 nil。
func (c *Controller) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	circuits := make([]*circuit, 0, len(c.circuits))
	for _, circ := range c.circuits {
		circ.state = StateRetiring
		circuits = append(circuits, circ)
	}
	c.circuits = make(map[types.CircuitHandle]*circuit)
	ctl := c.control
	c.control = nil
	c.bootstrapped = false
	c.mu.Unlock()

	c.cancel()

	var errs error
	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		errs = multierr.Append(errs, fmt.Errorf("wait background tasks: %w", ctx.Err()))
	}

	for _, circ := range circuits {
		if c.observer != nil {
			c.observer.CircuitRetired()
		}
		if ctl != nil && circ.remoteID != "" {
			errs = multierr.Append(errs, ctl.CloseCircuit(ctx, circ.remoteID))
		}
	}
	if ctl != nil {
		errs = multierr.Append(errs, ctl.Close())
	}

	logger.Info("覆盖网络控制器已关闭", "proxy", c.cfg.ProxyAddress, "circuits", len(circuits))
	return errs
}
