package session

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/pkg/lib/log"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var logger = log.Logger("session")

// State 会话状态
type State int

const (
	// StateOpen 可读写
	StateOpen State = iota
	// StateClosed 已关闭
	StateClosed
)

// String 返回状态名称
func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "open"
}

// Reporter 接收覆盖网络电路健康反馈
type Reporter interface {
	ReportSuccess(h types.CircuitHandle)
	ReportFailure(h types.CircuitHandle, cause error)
}

// Observer 会话生命周期与流量观察者
type Observer interface {
	SessionOpened(proto types.Protocol, route types.RouteKind)
	SessionClosed(proto types.Protocol, route types.RouteKind, failed bool)
	BytesTransferred(proto types.Protocol, in, out int64)
}

// Option 会话选项
type Option func(*Session)

// WithReporter 设置电路健康反馈接收方
func WithReporter(r Reporter) Option {
	return func(s *Session) {
		s.reporter = r
	}
}

// WithObserver 设置观察者
func WithObserver(o Observer) Option {
	return func(s *Session) {
		s.observer = o
	}
}

// WithMaxMessageSize 设置 MessageReader 单条消息上限
func WithMaxMessageSize(n int) Option {
	return func(s *Session) {
		s.maxMessage = n
	}
}

// ============================================================================
//                              Session
// ============================================================================

// Session 已建立的会话
type Session struct {
	id        string
	endpoint  types.Endpoint
	route     types.Route
	conn      *factory.Connection
	createdAt time.Time

	reporter   Reporter
	observer   Observer
	maxMessage int

	readMu  sync.Mutex
	br      *bufio.Reader
	writeMu sync.Mutex

	// 调用方设置的读 deadline，Alive 窥探后恢复
	deadlineMu   sync.Mutex
	readDeadline time.Time

	bytesIn  atomic.Int64
	bytesOut atomic.Int64

	// 第一次观察到的非 EOF I/O 错误
	failMu  sync.Mutex
	failure error

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New 包装已就绪的连接
func New(ep types.Endpoint, route types.Route, conn *factory.Connection, opts ...Option) *Session {
	s := &Session{
		id:         uuid.NewString(),
		endpoint:   ep,
		route:      route,
		conn:       conn,
		createdAt:  time.Now(),
		br:         bufio.NewReader(conn),
		maxMessage: 4 << 20,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.observer != nil {
		s.observer.SessionOpened(conn.Protocol, route.Kind())
	}
	logger.Debug("会话已打开",
		"session", log.TruncateID(s.id, 8),
		"endpoint", ep.String(),
		"route", route.String(),
		"framing", conn.Framing.String())
	return s
}

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// Endpoint 返回目标端点
func (s *Session) Endpoint() types.Endpoint { return s.endpoint }

// Route 返回建立会话所用的路由
func (s *Session) Route() types.Route { return s.route }

// Protocol 返回协议
func (s *Session) Protocol() types.Protocol { return s.conn.Protocol }

// Framing 返回帧格式
func (s *Session) Framing() factory.Framing { return s.conn.Framing }

// ALPN 返回协商到的应用协议
func (s *Session) ALPN() string { return s.conn.ALPN }

// CreatedAt 返回创建时间
func (s *Session) CreatedAt() time.Time { return s.createdAt }

// LocalAddr 返回本地地址
func (s *Session) LocalAddr() net.Addr { return s.conn.LocalAddr() }

// RemoteAddr 返回对端地址（覆盖网络路由时为代理地址）
func (s *Session) RemoteAddr() net.Addr { return s.conn.RemoteAddr() }

// State 返回当前状态
func (s *Session) State() State {
	if s.closed.Load() {
		return StateClosed
	}
	return StateOpen
}

// Stats 返回累计读写字节数
func (s *Session) Stats() (in, out int64) {
	return s.bytesIn.Load(), s.bytesOut.Load()
}

// Read 按对端发送顺序读取字节
func (s *Session) Read(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, types.ErrSessionClosed
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()

	n, err := s.br.Read(p)
	if n > 0 {
		s.bytesIn.Add(int64(n))
		s.transferred(int64(n), 0)
	}
	return n, s.ioErr(err)
}

// Write 写入全部字节，并发写按获得锁的顺序串行
func (s *Session) Write(p []byte) (int, error) {
	if s.closed.Load() {
		return 0, types.ErrSessionClosed
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	n, err := s.conn.Write(p)
	if n > 0 {
		s.bytesOut.Add(int64(n))
		s.transferred(0, int64(n))
	}
	return n, s.ioErr(err)
}

// SetDeadline 设置读写截止时间
func (s *Session) SetDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	s.readDeadline = t
	return s.conn.SetDeadline(t)
}

// SetReadDeadline 设置读截止时间
func (s *Session) SetReadDeadline(t time.Time) error {
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	s.readDeadline = t
	return s.conn.SetReadDeadline(t)
}

// SetWriteDeadline 设置写截止时间
func (s *Session) SetWriteDeadline(t time.Time) error {
	return s.conn.SetWriteDeadline(t)
}

func (s *Session) transferred(in, out int64) {
	if s.observer != nil {
		s.observer.BytesTransferred(s.conn.Protocol, in, out)
	}
}

// ioErr 记录 I/O 失败；关闭引起的错误统一为 ErrSessionClosed
func (s *Session) ioErr(err error) error {
	if err == nil || errors.Is(err, io.EOF) {
		return err
	}
	if s.closed.Load() {
		return fmt.Errorf("%w: %v", types.ErrSessionClosed, err)
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		// 调用方设置的 deadline 到期不算路径故障
		return err
	}
	s.failMu.Lock()
	if s.failure == nil {
		s.failure = err
	}
	s.failMu.Unlock()
	return err
}

// Failure 返回第一次观察到的 I/O 错误
func (s *Session) Failure() error {
	s.failMu.Lock()
	defer s.failMu.Unlock()
	return s.failure
}

// Close 关闭会话
//
// 幂等：只有第一次调用释放连接并报告电路健康，之后的调用返回 nil。
func (s *Session) Close() error {
	first := false
	s.closeOnce.Do(func() {
		first = true
		s.closed.Store(true)
		s.closeErr = s.conn.Close()

		failure := s.Failure()
		if h, ok := s.route.Circuit(); ok && s.reporter != nil {
			if failure != nil {
				s.reporter.ReportFailure(h, failure)
			} else {
				s.reporter.ReportSuccess(h)
			}
		}
		if s.observer != nil {
			s.observer.SessionClosed(s.conn.Protocol, s.route.Kind(), failure != nil)
		}
		in, out := s.Stats()
		logger.Debug("会话已关闭",
			"session", log.TruncateID(s.id, 8),
			"in", in,
			"out", out,
			"failed", failure != nil)
	})
	if !first {
		return nil
	}
	return s.closeErr
}

// ============================================================================
//                              存活检查
// ============================================================================

// aliveChecker 能自行判断存活的连接（如 WebSocket）
type aliveChecker interface {
	Alive() bool
}

// Alive 轻量存活检查，供连接池复用前调用
//
// 用立即到期的读 deadline 窥探一个字节，不消费数据：
// 超时说明连接空闲可用，EOF 或其他错误说明对端已关闭。
// 有读操作进行中时视为存活。窥探后恢复调用方设置的读 deadline。
func (s *Session) Alive() bool {
	if s.closed.Load() {
		return false
	}
	if s.Failure() != nil {
		return false
	}
	if ac, ok := s.conn.Conn.(aliveChecker); ok {
		return ac.Alive()
	}
	if !s.readMu.TryLock() {
		return true
	}
	defer s.readMu.Unlock()

	if s.br.Buffered() > 0 {
		return true
	}
	s.deadlineMu.Lock()
	defer s.deadlineMu.Unlock()
	if err := s.conn.SetReadDeadline(time.Now()); err != nil {
		return false
	}
	_, err := s.br.Peek(1)
	_ = s.conn.SetReadDeadline(s.readDeadline)
	if err == nil {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
