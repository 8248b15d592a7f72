package netbridge

import (
	"context"
	"errors"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/internal/core/factory"
	"github.com/dep2p/go-netbridge/internal/core/resolver"
	"github.com/dep2p/go-netbridge/internal/core/session"
	"github.com/dep2p/go-netbridge/pkg/types"
	"github.com/dep2p/go-netbridge/tests/testutil"
)

// ============================================================================
//                              测试辅助
// ============================================================================

// testConfig 缩短退避，保证测试快速
func testConfig() *config.Config {
	cfg := config.NewConfig()
	cfg.Retry.InitialDelay = config.Duration(time.Millisecond)
	cfg.Retry.MaxDelay = config.Duration(5 * time.Millisecond)
	cfg.Overlay.ControlAddress = ""
	cfg.Overlay.BootstrapMaxAttempts = 2
	cfg.Overlay.BootstrapInitialBackoff = config.Duration(10 * time.Millisecond)
	cfg.Overlay.BootstrapMaxBackoff = config.Duration(20 * time.Millisecond)
	cfg.Overlay.BootstrapTimeout = config.Duration(2 * time.Second)
	cfg.Overlay.CircuitCreateBackoff = config.Duration(10 * time.Millisecond)
	return cfg
}

// newBridge 创建并启动桥接器，测试结束时停止
func newBridge(t *testing.T, cfg *config.Config, opts ...Option) *Bridge {
	t.Helper()
	opts = append([]Option{
		WithConfig(cfg),
		WithRegistry(prometheus.NewRegistry()),
		WithResolver(resolver.Static{testutil.FakeHost: {"127.0.0.1"}}),
	}, opts...)
	b, err := New(opts...)
	require.NoError(t, err)
	require.NoError(t, b.Start(testutil.Context(t, 5*time.Second)))
	t.Cleanup(func() { _ = b.Stop(context.Background()) })
	return b
}

// countingResolver 记录每次解析，用于统计建连尝试次数
type countingResolver struct {
	lookups atomic.Int32
}

func (r *countingResolver) LookupHost(_ context.Context, _ string) ([]string, error) {
	r.lookups.Add(1)
	return []string{"127.0.0.1"}, nil
}

// roundTrip 写入后按顺序读回
func roundTrip(t *testing.T, rw io.ReadWriter, msgs ...string) {
	t.Helper()
	for _, msg := range msgs {
		_, err := rw.Write([]byte(msg))
		require.NoError(t, err)
		buf := make([]byte, len(msg))
		_, err = io.ReadFull(rw, buf)
		require.NoError(t, err)
		assert.Equal(t, msg, string(buf))
	}
}

// ============================================================================
//                              生命周期
// ============================================================================

// TestBridge_Lifecycle 测试启动与停止
func TestBridge_Lifecycle(t *testing.T) {
	b, err := New(WithConfig(testConfig()), WithRegistry(prometheus.NewRegistry()))
	require.NoError(t, err)
	assert.Equal(t, StateIdle, b.State())

	ep := types.MustEndpoint(testutil.FakeHost, 443, types.ProtocolTLS)
	_, err = b.Connect(context.Background(), ep, RouteConfig{})
	assert.ErrorIs(t, err, ErrNotStarted)
	assert.ErrorIs(t, b.Stop(context.Background()), ErrNotStarted)

	ctx := testutil.Context(t, 5*time.Second)
	require.NoError(t, b.Start(ctx))
	assert.ErrorIs(t, b.Start(ctx), ErrAlreadyStarted)
	assert.Equal(t, StateRunning, b.State())
	assert.NotNil(t, b.Metrics())

	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
	assert.Equal(t, StateStopped, b.State())
	assert.ErrorIs(t, b.Start(ctx), ErrBridgeClosed)

	_, err = b.Connect(ctx, ep, RouteConfig{})
	assert.ErrorIs(t, err, ErrBridgeClosed)
	t.Log("✅ 生命周期测试通过")
}

// TestNew_InvalidConfig 测试非法配置
func TestNew_InvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Overlay.BootstrapMaxAttempts = 0
	_, err := New(WithConfig(cfg))
	assert.Error(t, err)

	_, err = New(WithConfig(nil))
	assert.Error(t, err)

	_, err = New(WithConfigJSON([]byte(`{"retry":{"max_retries":-1}}`)))
	assert.Error(t, err)
	t.Log("✅ 非法配置测试通过")
}

// ============================================================================
//                              端到端
// ============================================================================

// TestConnect_TLSEndToEnd 直连 TLS：拨号、握手、按序读写、重复关闭
func TestConnect_TLSEndToEnd(t *testing.T) {
	cert := testutil.NewCertificate(t, testutil.FakeHost)
	srv := testutil.NewEchoServer(t, testutil.WithTLS(cert.ServerConfig()))
	b := newBridge(t, testConfig(), WithHandshaker(&factory.TLSHandshaker{RootCAs: cert.Pool}))

	ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolTLS)
	s, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{
		ConnectTimeout: 5 * time.Second,
		MaxRetries:     Int(2),
	})
	require.NoError(t, err)
	assert.Equal(t, types.RouteDirect, s.Route().Kind())
	assert.Equal(t, types.ProtocolTLS, s.Protocol())
	assert.Equal(t, ep, s.Endpoint())

	roundTrip(t, s, "hello", "ordered", "bytes")

	require.NoError(t, b.Close(s))
	for i := 0; i < 3; i++ {
		assert.NoError(t, b.Close(s))
	}
	assert.Equal(t, session.StateClosed, s.State())
	_, err = s.Write([]byte("late"))
	assert.ErrorIs(t, err, ErrSessionClosed)

	testutil.Eventually(t, 2*time.Second, func() bool { return srv.Active() == 0 }, "服务端连接应被释放")
	assert.Equal(t, 1, srv.Accepted())

	stats := b.Metrics().Bandwidth().Totals()
	assert.Equal(t, int64(len("helloorderedbytes")), stats.TotalOut)
	t.Log("✅ TLS 端到端测试通过")
}

// TestConnect_Overlay 经覆盖网络建连得到 Overlay 路由
func TestConnect_Overlay(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	socks := testutil.NewSOCKSServer(t)
	socks.Map(testutil.FakeHost, echo.Addr())
	control := testutil.NewControlServer(t, "")
	b := newBridge(t, testConfig())

	ep := types.MustEndpoint(testutil.FakeHost, 80, types.ProtocolTCP)
	cfg := RouteConfig{
		UseOverlay:               Bool(true),
		OverlayProxyAddress:      socks.Addr(),
		OverlayControlAddress:    control.Addr(),
		ConnectTimeout:           5 * time.Second,
		CircuitRotationThreshold: 2,
	}
	s, err := b.Connect(testutil.Context(t, 10*time.Second), ep, cfg)
	require.NoError(t, err)
	require.True(t, s.Route().IsOverlay())
	assert.Equal(t, 1, b.CircuitCount())
	assert.Equal(t, 1, control.Created())

	roundTrip(t, s, "through", "the", "overlay")
	require.NoError(t, b.Close(s))

	// 目标主机名由代理远端解析
	assert.Equal(t, []string{testutil.FakeHost + ":80"}, socks.Targets())
	assert.Len(t, socks.Users(), 1)

	// 电路在端点之间共享
	s2, err := b.Connect(testutil.Context(t, 10*time.Second), types.MustEndpoint(testutil.FakeHost, 81, types.ProtocolTCP), cfg)
	require.NoError(t, err)
	h1, _ := s.Route().Circuit()
	h2, _ := s2.Route().Circuit()
	assert.Equal(t, h1, h2)
	require.NoError(t, b.Close(s2))

	require.NoError(t, b.Stop(context.Background()))
	assert.Zero(t, b.CircuitCount())
	assert.NotEmpty(t, control.ClosedCircuits())
	t.Log("✅ 覆盖网络建连测试通过")
}

// TestConnect_OverlayIsolated 隔离电路时每个端点独占电路
func TestConnect_OverlayIsolated(t *testing.T) {
	echo := testutil.NewEchoServer(t)
	socks := testutil.NewSOCKSServer(t)
	socks.Map(testutil.FakeHost, echo.Addr())
	b := newBridge(t, testConfig())

	cfg := RouteConfig{
		UseOverlay:          Bool(true),
		OverlayProxyAddress: socks.Addr(),
		ConnectTimeout:      5 * time.Second,
		IsolateCircuit:      true,
	}
	ctx := testutil.Context(t, 10*time.Second)
	a, err := b.Connect(ctx, types.MustEndpoint(testutil.FakeHost, 80, types.ProtocolTCP), cfg)
	require.NoError(t, err)
	defer b.Close(a)
	c, err := b.Connect(ctx, types.MustEndpoint(testutil.FakeHost, 81, types.ProtocolTCP), cfg)
	require.NoError(t, err)
	defer b.Close(c)

	ha, _ := a.Route().Circuit()
	hc, _ := c.Route().Circuit()
	assert.NotEqual(t, ha, hc)
	users := socks.Users()
	require.Len(t, users, 2)
	assert.NotEqual(t, users[0], users[1], "不同电路应使用不同的隔离凭据")
	t.Log("✅ 电路隔离测试通过")
}

// TestConnect_OverlayUnreachable 代理不可达：引导重试耗尽后致命失败，不留下资源
func TestConnect_OverlayUnreachable(t *testing.T) {
	res := &countingResolver{}
	b := newBridge(t, testConfig(), WithResolver(res))

	ep := types.MustEndpoint(testutil.FakeHost, 80, types.ProtocolHTTP)
	_, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{
		UseOverlay:          Bool(true),
		OverlayProxyAddress: testutil.ClosedAddr(t),
		ConnectTimeout:      5 * time.Second,
		MaxRetries:          Int(3),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrOverlayUnavailable)
	assert.NotErrorIs(t, err, ErrConnectionEstablishmentFailed)
	assert.True(t, IsFatal(err))

	var e *types.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 1, e.Attempts, "致命错误不消耗建连重试预算")
	assert.Equal(t, ep.String(), e.Endpoint)
	assert.Equal(t, "overlay", e.Route)

	assert.Zero(t, b.CircuitCount())
	assert.Zero(t, res.lookups.Load(), "覆盖网络路由不应在本地解析")
	t.Log("✅ 覆盖网络不可达测试通过")
}

// TestConnect_RetryBound 持续的瞬时失败恰好尝试 N+1 次
func TestConnect_RetryBound(t *testing.T) {
	cfg := testConfig()
	cfg.Resolver.CacheSize = 0
	closed := testutil.ClosedAddr(t)
	_, port := splitPort(t, closed)

	for _, n := range []int{0, 1, 3} {
		res := &countingResolver{}
		b := newBridge(t, cfg, WithResolver(res))

		ep := types.MustEndpoint(testutil.FakeHost, port, types.ProtocolTCP)
		_, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{
			ConnectTimeout: time.Second,
			MaxRetries:     Int(n),
		})
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrConnectionEstablishmentFailed)
		assert.ErrorIs(t, err, ErrDialFailed)
		assert.False(t, IsFatal(err))

		var e *types.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, n+1, e.Attempts)
		assert.Equal(t, "direct", e.Route)
		assert.Equal(t, int32(n+1), res.lookups.Load())
	}
	t.Log("✅ 重试上限测试通过")
}

// TestConnect_ConfigDefaults 未设置的请求字段取自进程配置
func TestConnect_ConfigDefaults(t *testing.T) {
	t.Run("Overlay", func(t *testing.T) {
		echo := testutil.NewEchoServer(t)
		socks := testutil.NewSOCKSServer(t)
		socks.Map(testutil.FakeHost, echo.Addr())
		cfg := testConfig()
		cfg.Overlay.Enabled = true
		cfg.Overlay.ProxyAddress = socks.Addr()
		b := newBridge(t, cfg)

		ep := types.MustEndpoint(testutil.FakeHost, 80, types.ProtocolTCP)
		s, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{})
		require.NoError(t, err)
		defer b.Close(s)
		assert.True(t, s.Route().IsOverlay(), "overlay.enabled 应作用于零值请求")
		assert.Equal(t, []string{testutil.FakeHost + ":80"}, socks.Targets())

		// 显式直连覆盖默认值
		d, err := b.Connect(testutil.Context(t, 10*time.Second),
			types.MustEndpoint(testutil.FakeHost, echo.Port(), types.ProtocolTCP),
			RouteConfig{UseOverlay: Bool(false)})
		require.NoError(t, err)
		defer b.Close(d)
		assert.Equal(t, types.RouteDirect, d.Route().Kind())
	})

	t.Run("Retries", func(t *testing.T) {
		cfg := testConfig()
		cfg.Resolver.CacheSize = 0
		cfg.Retry.MaxRetries = 2
		res := &countingResolver{}
		b := newBridge(t, cfg, WithResolver(res))

		_, port := splitPort(t, testutil.ClosedAddr(t))
		ep := types.MustEndpoint(testutil.FakeHost, port, types.ProtocolTCP)
		_, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{ConnectTimeout: time.Second})
		require.Error(t, err)
		var e *types.Error
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 3, e.Attempts)
		assert.Equal(t, int32(3), res.lookups.Load())

		// 显式 0 只尝试一次
		_, err = b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{ConnectTimeout: time.Second, MaxRetries: Int(0)})
		require.True(t, errors.As(err, &e))
		assert.Equal(t, 1, e.Attempts)
	})

	t.Run("InsecureTLS", func(t *testing.T) {
		cert := testutil.NewCertificate(t, testutil.FakeHost)
		srv := testutil.NewEchoServer(t, testutil.WithTLS(cert.ServerConfig()))
		cfg := testConfig()
		cfg.Dial.InsecureSkipVerify = true
		b := newBridge(t, cfg)

		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolTLS)
		s, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{})
		require.NoError(t, err, "自签名证书应在 insecure_skip_verify 下被接受")
		defer b.Close(s)
		roundTrip(t, s, "insecure")
	})

	t.Run("HTTPVersion", func(t *testing.T) {
		srv := testutil.NewH2Server(t)
		cfg := testConfig()
		cfg.Dial.HTTPVersion = "http2"
		b := newBridge(t, cfg)

		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolHTTP)
		s, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{})
		require.NoError(t, err)
		defer b.Close(s)
		assert.Equal(t, factory.FramingHTTP2, s.Framing())
	})

	t.Log("✅ 配置默认值测试通过")
}

// TestConnect_GRPCFraming gRPC 会话的帧归 HTTP/2 编解码器，不能直接按消息读写
func TestConnect_GRPCFraming(t *testing.T) {
	srv := testutil.NewH2Server(t)
	b := newBridge(t, testConfig())

	ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolGRPC)
	s, err := b.Connect(testutil.Context(t, 10*time.Second), ep, RouteConfig{})
	require.NoError(t, err)
	defer b.Close(s)
	require.Equal(t, factory.FramingHTTP2, s.Framing())

	_, err = s.MessageReader(session.EncodingGRPC)
	assert.ErrorIs(t, err, session.ErrFramingMismatch)
	testutil.Eventually(t, 2*time.Second, func() bool { return srv.Handshakes() == 1 }, "前言握手应完成")
	t.Log("✅ gRPC 分帧测试通过")
}

// TestConnect_InvalidEndpoint 非法端点在任何 I/O 之前被拒绝
func TestConnect_InvalidEndpoint(t *testing.T) {
	res := &countingResolver{}
	b := newBridge(t, testConfig(), WithResolver(res))

	_, err := b.Connect(context.Background(), Endpoint{}, RouteConfig{MaxRetries: Int(5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	assert.True(t, IsFatal(err))
	assert.Zero(t, res.lookups.Load())

	_, err = b.Acquire(context.Background(), Endpoint{}, RouteConfig{})
	assert.ErrorIs(t, err, ErrInvalidEndpoint)
	t.Log("✅ 非法端点测试通过")
}

// TestConnect_Cancel 调用方取消立即返回
func TestConnect_Cancel(t *testing.T) {
	b := newBridge(t, testConfig())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	ep := types.MustEndpoint(testutil.FakeHost, 443, types.ProtocolTLS)
	_, err := b.Connect(ctx, ep, RouteConfig{MaxRetries: Int(5)})
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)

	var e *types.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, 1, e.Attempts)
	t.Log("✅ 取消测试通过")
}

// ============================================================================
//                              连接池
// ============================================================================

// TestAcquire_PoolReuse 空闲窗口内复用同一连接，超时后新建
func TestAcquire_PoolReuse(t *testing.T) {
	mock := clock.NewMock()
	srv := testutil.NewEchoServer(t)
	cfg := testConfig()
	cfg.Pool.IdleTimeout = config.Duration(time.Minute)
	cfg.Pool.CleanupInterval = config.Duration(time.Hour)
	b := newBridge(t, cfg, WithClock(mock))

	ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolTCP)
	rc := RouteConfig{ConnectTimeout: 5 * time.Second}
	ctx := testutil.Context(t, 10*time.Second)

	l1, err := b.Acquire(ctx, ep, rc)
	require.NoError(t, err)
	roundTrip(t, l1, "first")
	first := l1.Session()
	l1.Release()

	mock.Add(30 * time.Second)
	l2, err := b.Acquire(ctx, ep, rc)
	require.NoError(t, err)
	assert.True(t, l2.Reused())
	assert.Same(t, first, l2.Session())
	roundTrip(t, l2, "second")
	l2.Release()
	assert.Equal(t, 1, srv.Accepted())

	// 不同策略不共享
	other, err := b.Acquire(ctx, ep, RouteConfig{ConnectTimeout: 4 * time.Second})
	require.NoError(t, err)
	assert.NotSame(t, first, other.Session())
	require.NoError(t, other.Discard())

	mock.Add(time.Minute)
	l3, err := b.Acquire(ctx, ep, rc)
	require.NoError(t, err)
	assert.False(t, l3.Reused())
	assert.NotSame(t, first, l3.Session())
	assert.Equal(t, session.StateClosed, first.State())
	l3.Release()
	assert.Equal(t, 3, srv.Accepted())
	t.Log("✅ 连接池复用测试通过")
}

// TestAcquire_PoolDisabled 关闭连接池
func TestAcquire_PoolDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.Pool.Enabled = false
	b := newBridge(t, cfg)

	ep := types.MustEndpoint(testutil.FakeHost, 80, types.ProtocolTCP)
	_, err := b.Acquire(context.Background(), ep, RouteConfig{})
	assert.ErrorIs(t, err, ErrPoolDisabled)
	t.Log("✅ 关闭连接池测试通过")
}
