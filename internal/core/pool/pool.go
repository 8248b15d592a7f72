package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/go-netbridge/internal/core/session"
	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("pool")

// Key 池键
type Key struct {
	// Endpoint 端点的规范键
	Endpoint string

	// Fingerprint 路由策略指纹
	Fingerprint string
}

// KeyOf 计算端点与路由策略对应的键
func KeyOf(ep types.Endpoint, cfg types.RouteConfig) Key {
	return Key{Endpoint: ep.Key(), Fingerprint: cfg.Fingerprint()}
}

// String 返回键的字符串表示
func (k Key) String() string {
	return k.Endpoint + "#" + k.Fingerprint
}

// Connector 在池中没有可复用会话时建立新会话
type Connector func(ctx context.Context) (*session.Session, error)

// Observer 池事件观察者
type Observer interface {
	PoolHit()
	PoolMiss()
	PoolEvicted(n int)
}

// Option 连接池选项
type Option func(*Pool)

// WithClock 设置时钟（测试用 mock）
func WithClock(c clock.Clock) Option {
	return func(p *Pool) {
		p.clock = c
	}
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(p *Pool) {
		p.observer = o
	}
}

// ============================================================================
//                              条目
// ============================================================================

type idleSession struct {
	s     *session.Session
	since time.Time
}

// entry 单个键的会话集合
type entry struct {
	mu      sync.Mutex
	idle    []idleSession
	leased  int
	removed bool
}

// ============================================================================
//                              Pool
// ============================================================================

// Pool 会话连接池
type Pool struct {
	cfg      Config
	clock    clock.Clock
	observer Observer

	mu      sync.Mutex
	entries map[Key]*entry

	closed    atomic.Bool
	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

// New 创建连接池，janitor 需调用 Start 启动
func New(cfg Config, opts ...Option) *Pool {
	cfg.validate()
	p := &Pool{
		cfg:     cfg,
		clock:   clock.New(),
		entries: make(map[Key]*entry),
		stopCh:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// lookup 返回键对应的条目并加锁
func (p *Pool) lookup(key Key) *entry {
	for {
		p.mu.Lock()
		e, ok := p.entries[key]
		if !ok {
			e = &entry{}
			p.entries[key] = e
		}
		p.mu.Unlock()

		e.mu.Lock()
		if !e.removed {
			return e
		}
		e.mu.Unlock()
	}
}

// Acquire 返回独占的 Lease
//
// 优先复用最近归还的健康空闲会话；过期或不再存活的会话被关闭。
// 没有可复用会话时调用 connect 建立新会话（不持有任何锁）。
func (p *Pool) Acquire(ctx context.Context, key Key, connect Connector) (*Lease, error) {
	if p.closed.Load() {
		return nil, ErrPoolClosed
	}

	e := p.lookup(key)
	now := p.clock.Now()
	var (
		reuse *session.Session
		stale []*session.Session
	)
	for len(e.idle) > 0 {
		last := e.idle[len(e.idle)-1]
		e.idle = e.idle[:len(e.idle)-1]
		if p.expired(last, now) || !last.s.Alive() {
			stale = append(stale, last.s)
			continue
		}
		reuse = last.s
		break
	}
	e.leased++
	e.mu.Unlock()

	p.closeAll(stale, "stale")

	if reuse != nil {
		if p.observer != nil {
			p.observer.PoolHit()
		}
		logger.Debug("复用空闲会话", "key", key.String(), "session", log.TruncateID(reuse.ID(), 8))
		return &Lease{pool: p, key: key, entry: e, s: reuse, reused: true}, nil
	}

	if p.observer != nil {
		p.observer.PoolMiss()
	}
	s, err := connect(ctx)
	if err != nil {
		p.unlease(e)
		return nil, err
	}
	if p.closed.Load() {
		p.unlease(e)
		_ = s.Close()
		return nil, ErrPoolClosed
	}
	return &Lease{pool: p, key: key, entry: e, s: s}, nil
}

func (p *Pool) expired(is idleSession, now time.Time) bool {
	return now.Sub(is.since) >= p.cfg.IdleTimeout
}

func (p *Pool) unlease(e *entry) {
	e.mu.Lock()
	e.leased--
	e.mu.Unlock()
}

// release 归还会话，无法保留时关闭
func (p *Pool) release(e *entry, s *session.Session) {
	keep := !p.closed.Load() && s.State() == session.StateOpen && s.Failure() == nil

	e.mu.Lock()
	e.leased--
	if keep && len(e.idle) < p.cfg.MaxIdlePerKey {
		e.idle = append(e.idle, idleSession{s: s, since: p.clock.Now()})
		e.mu.Unlock()
		return
	}
	e.mu.Unlock()
	_ = s.Close()
}

func (p *Pool) closeAll(sessions []*session.Session, reason string) {
	if len(sessions) == 0 {
		return
	}
	for _, s := range sessions {
		_ = s.Close()
	}
	if p.observer != nil {
		p.observer.PoolEvicted(len(sessions))
	}
	logger.Debug("驱逐空闲会话", "count", len(sessions), "reason", reason)
}

// ============================================================================
//                              清理
// ============================================================================

// Start 启动后台 janitor
func (p *Pool) Start() {
	p.startOnce.Do(func() {
		ticker := p.clock.Ticker(p.cfg.CleanupInterval)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			defer ticker.Stop()
			for {
				select {
				case <-ticker.C:
					p.Cleanup()
				case <-p.stopCh:
					return
				}
			}
		}()
	})
}

// Cleanup 关闭所有过期的空闲会话，移除空条目，返回关闭的数量
func (p *Pool) Cleanup() int {
	now := p.clock.Now()
	var stale []*session.Session

	p.mu.Lock()
	for key, e := range p.entries {
		e.mu.Lock()
		kept := e.idle[:0]
		for _, is := range e.idle {
			if p.expired(is, now) {
				stale = append(stale, is.s)
			} else {
				kept = append(kept, is)
			}
		}
		clear(e.idle[len(kept):])
		e.idle = kept
		if len(e.idle) == 0 && e.leased == 0 {
			e.removed = true
			delete(p.entries, key)
		}
		e.mu.Unlock()
	}
	p.mu.Unlock()

	p.closeAll(stale, "idle timeout")
	return len(stale)
}

// Close 停止 janitor 并关闭全部空闲会话
//
// 之后 Acquire 返回 ErrPoolClosed，已借出的会话在归还时关闭。
func (p *Pool) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	p.stopOnce.Do(func() { close(p.stopCh) })
	p.wg.Wait()

	var idle []*session.Session
	p.mu.Lock()
	for _, e := range p.entries {
		e.mu.Lock()
		for _, is := range e.idle {
			idle = append(idle, is.s)
		}
		e.idle = nil
		e.mu.Unlock()
	}
	p.mu.Unlock()

	var errs error
	for _, s := range idle {
		errs = multierr.Append(errs, s.Close())
	}
	logger.Debug("连接池已关闭", "closed", len(idle))
	return errs
}

// ============================================================================
//                              统计
// ============================================================================

// Idle 返回键下的空闲会话数
func (p *Pool) Idle(key Key) int {
	p.mu.Lock()
	e, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.idle)
}

// Leased 返回键下借出的会话数
func (p *Pool) Leased(key Key) int {
	p.mu.Lock()
	e, ok := p.entries[key]
	p.mu.Unlock()
	if !ok {
		return 0
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.leased
}

// Len 返回条目数
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}
