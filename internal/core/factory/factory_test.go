package factory

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dep2p/go-netbridge/internal/core/resolver"
	"github.com/dep2p/go-netbridge/pkg/types"
	"github.com/dep2p/go-netbridge/tests/testutil"
)

func testDialer() *Direct {
	return NewDirect(resolver.Static{testutil.FakeHost: {"127.0.0.1"}}, 0)
}

func testFactory(cert *testutil.Certificate) *Factory {
	return New(WithHandshaker(&TLSHandshaker{RootCAs: cert.Pool}))
}

func defaultRoute() types.RouteConfig {
	return types.RouteConfig{ConnectTimeout: 5 * time.Second}
}

func roundTrip(t *testing.T, conn net.Conn, msg string) {
	t.Helper()
	_, err := conn.Write([]byte(msg))
	require.NoError(t, err)
	buf := make([]byte, len(msg))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, msg, string(buf))
}

// TestEstablish_TCP 测试原始 TCP
func TestEstablish_TCP(t *testing.T) {
	srv := testutil.NewEchoServer(t)
	ctx := testutil.Context(t, 5*time.Second)
	ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolTCP)

	conn, err := New().Establish(ctx, testDialer(), ep, defaultRoute())
	require.NoError(t, err)
	defer conn.Close()

	assert.Equal(t, FramingStream, conn.Framing)
	assert.Equal(t, types.ProtocolTCP, conn.Protocol)
	roundTrip(t, conn, "ping")

	t.Log("✅ TCP 建连测试通过")
}

// TestEstablish_TLS 测试 TLS 校验与不安全模式
func TestEstablish_TLS(t *testing.T) {
	cert := testutil.NewCertificate(t, testutil.FakeHost)
	srv := testutil.NewEchoServer(t, testutil.WithTLS(cert.ServerConfig()))
	ctx := testutil.Context(t, 5*time.Second)
	ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolTLS)

	t.Run("Verified", func(t *testing.T) {
		conn, err := testFactory(cert).Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err)
		defer conn.Close()
		roundTrip(t, conn, "secure")
	})

	t.Run("Untrusted", func(t *testing.T) {
		other := testutil.NewCertificate(t, testutil.FakeHost)
		_, err := testFactory(other).Establish(ctx, testDialer(), ep, defaultRoute())
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrHandshakeFailed)
		assert.False(t, types.IsFatal(err))
	})

	t.Run("Insecure", func(t *testing.T) {
		cfg := defaultRoute()
		cfg.TLSMode = types.TLSModeInsecure
		other := testutil.NewCertificate(t, "elsewhere.test")
		conn, err := testFactory(other).Establish(ctx, testDialer(), ep, cfg)
		require.NoError(t, err)
		defer conn.Close()
		roundTrip(t, conn, "dangerous")
	})

	t.Log("✅ TLS 建连测试通过")
}

// TestEstablish_HTTP 测试 HTTP 版本选择
func TestEstablish_HTTP(t *testing.T) {
	cert := testutil.NewCertificate(t, testutil.FakeHost)
	ctx := testutil.Context(t, 5*time.Second)

	t.Run("PlainHTTP1", func(t *testing.T) {
		srv := testutil.NewEchoServer(t)
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolHTTP)
		conn, err := New().Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, FramingHTTP1, conn.Framing)
		assert.Empty(t, conn.ALPN)
	})

	t.Run("PlainPriorKnowledge", func(t *testing.T) {
		srv := testutil.NewH2Server(t)
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolHTTP)
		cfg := defaultRoute()
		cfg.HTTPVersion = types.HTTPVersion2
		conn, err := New().Establish(ctx, testDialer(), ep, cfg)
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, FramingHTTP2, conn.Framing)
		testutil.Eventually(t, 2*time.Second, func() bool { return srv.Handshakes() == 1 }, "服务端应收到 SETTINGS ACK")
	})

	t.Run("TLSAutoH2", func(t *testing.T) {
		srv := testutil.NewH2Server(t, testutil.WithTLS(cert.ServerConfig("h2", "http/1.1")))
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolHTTP, types.WithSecure(true))
		conn, err := testFactory(cert).Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, "h2", conn.ALPN)
		assert.Equal(t, FramingHTTP2, conn.Framing)
	})

	t.Run("TLSAutoFallback", func(t *testing.T) {
		srv := testutil.NewEchoServer(t, testutil.WithTLS(cert.ServerConfig("http/1.1")))
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolHTTP, types.WithSecure(true))
		conn, err := testFactory(cert).Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, "http/1.1", conn.ALPN)
		assert.Equal(t, FramingHTTP1, conn.Framing)
		roundTrip(t, conn, "GET / HTTP/1.1\r\n\r\n")
	})

	t.Log("✅ HTTP 建连测试通过")
}

// TestEstablish_GRPC 测试 gRPC 必须协商 HTTP/2
func TestEstablish_GRPC(t *testing.T) {
	cert := testutil.NewCertificate(t, testutil.FakeHost)
	ctx := testutil.Context(t, 5*time.Second)

	t.Run("Plaintext", func(t *testing.T) {
		srv := testutil.NewH2Server(t)
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolGRPC)
		conn, err := New().Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, FramingHTTP2, conn.Framing)
	})

	t.Run("TLS", func(t *testing.T) {
		srv := testutil.NewH2Server(t, testutil.WithTLS(cert.ServerConfig("h2")))
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolGRPC, types.WithSecure(true))
		conn, err := testFactory(cert).Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err)
		defer conn.Close()
		assert.Equal(t, "h2", conn.ALPN)
	})

	t.Run("NotHTTP2", func(t *testing.T) {
		srv := testutil.NewEchoServer(t)
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolGRPC)
		_, err := New().Establish(ctx, testDialer(), ep, defaultRoute())
		require.Error(t, err)
		assert.ErrorIs(t, err, types.ErrProtocolNegotiationFailed)
		assert.False(t, types.IsFatal(err))
		testutil.Eventually(t, 2*time.Second, func() bool { return srv.Active() == 0 }, "部分打开的连接应被关闭")
	})

	t.Run("NoALPN", func(t *testing.T) {
		srv := testutil.NewEchoServer(t, testutil.WithTLS(cert.ServerConfig()))
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolGRPC, types.WithSecure(true))
		_, err := testFactory(cert).Establish(ctx, testDialer(), ep, defaultRoute())
		assert.ErrorIs(t, err, types.ErrProtocolNegotiationFailed)
		assert.ErrorIs(t, err, ErrH2NotNegotiated)
	})

	t.Log("✅ gRPC 建连测试通过")
}

// TestEstablish_WebSocket 测试 ws 与 wss
func TestEstablish_WebSocket(t *testing.T) {
	cert := testutil.NewCertificate(t, testutil.FakeHost)
	ctx := testutil.Context(t, 5*time.Second)

	for _, secure := range []bool{false, true} {
		var srv *testutil.WSServer
		if secure {
			srv = testutil.NewWSServer(t, cert)
		} else {
			srv = testutil.NewWSServer(t, nil)
		}
		ep := types.MustEndpoint(testutil.FakeHost, srv.Port(), types.ProtocolWebSocket,
			types.WithSecure(secure), types.WithPath("/stream?room=1"))

		conn, err := testFactory(cert).Establish(ctx, testDialer(), ep, defaultRoute())
		require.NoError(t, err, "secure=%v", secure)
		assert.Equal(t, FramingWebSocket, conn.Framing)
		roundTrip(t, conn, "hello")
		roundTrip(t, conn, "again")
		require.NoError(t, conn.Close())
		assert.Equal(t, 1, srv.Upgrades())
	}

	t.Log("✅ WebSocket 建连测试通过")
}

// TestEstablish_DialFailed 测试拨号失败分类
func TestEstablish_DialFailed(t *testing.T) {
	ctx := testutil.Context(t, 5*time.Second)

	_, port, _ := net.SplitHostPort(testutil.ClosedAddr(t))
	ep, err := types.ParseURL("tcp://127.0.0.1:" + port)
	require.NoError(t, err)
	_, err = New().Establish(ctx, testDialer(), ep, defaultRoute())
	assert.ErrorIs(t, err, types.ErrDialFailed)
	assert.False(t, types.IsFatal(err))

	ep = types.MustEndpoint("missing.test", 80, types.ProtocolTCP)
	_, err = New().Establish(ctx, testDialer(), ep, defaultRoute())
	assert.ErrorIs(t, err, types.ErrDialFailed)
	assert.ErrorIs(t, err, resolver.ErrNotFound)
}

// TestEstablish_Cancel 测试握手期间 context 超时
func TestEstablish_Cancel(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		c, err := ln.Accept()
		if err == nil {
			accepted <- c
		}
	}()

	_, port, _ := net.SplitHostPort(ln.Addr().String())
	ep, err := types.ParseURL("grpc://" + testutil.FakeHost + ":" + port)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = New().Establish(ctx, testDialer(), ep, defaultRoute())
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrProtocolNegotiationFailed)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 2*time.Second)

	// 服务端应观察到连接被关闭
	select {
	case c := <-accepted:
		defer c.Close()
		_ = c.SetReadDeadline(time.Now().Add(2 * time.Second))
		_, err := io.Copy(io.Discard, c)
		assert.NoError(t, err, "读到 EOF 说明客户端已关闭")
	case <-time.After(2 * time.Second):
		t.Fatal("服务端未接受连接")
	}
}
