package overlay

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/pkg/types"
	"github.com/dep2p/go-netbridge/tests/testutil"
)

// TestManager 测试按地址管理控制器
func TestManager(t *testing.T) {
	socks := testutil.NewSOCKSServer(t)
	control := testutil.NewControlServer(t, testutil.ControlPassword)
	m := NewManager(testConfig("", ""))
	defer m.Shutdown(context.Background())
	ctx := testutil.Context(t, 5*time.Second)

	a, err := m.Controller(socks.Addr(), control.Addr())
	require.NoError(t, err)
	b, err := m.Controller(socks.Addr(), control.Addr())
	require.NoError(t, err)
	c, err := m.Controller(socks.Addr(), "")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.NotSame(t, a, c)
	assert.Equal(t, socks.Addr(), a.ProxyAddress())

	rc := types.RouteConfig{
		UseOverlay:               types.Bool(true),
		OverlayProxyAddress:      socks.Addr(),
		OverlayControlAddress:    control.Addr(),
		CircuitRotationThreshold: 1,
	}
	h, err := m.AcquireCircuit(ctx, rc, "")
	require.NoError(t, err)
	assert.True(t, a.Has(h))
	assert.Equal(t, 1, m.CircuitCount())

	m.ReportSuccess(h)
	m.ReportFailure(h, io.EOF)
	assert.False(t, a.Has(h))

	m.ReportFailure("unknown", io.EOF)
	_, err = m.DialContext(ctx, "unknown", "tcp", "example.test:80")
	assert.ErrorIs(t, err, ErrUnknownCircuit)

	require.NoError(t, m.Shutdown(ctx))
	_, err = m.Controller(socks.Addr(), "")
	assert.ErrorIs(t, err, types.ErrOverlayUnavailable)
}

// TestProbe 测试代理探测
func TestProbe(t *testing.T) {
	ctx := testutil.Context(t, 5*time.Second)
	d := NewSOCKSDialer(0)

	socks := testutil.NewSOCKSServer(t)
	assert.NoError(t, d.Probe(ctx, socks.Addr()))

	assert.Error(t, d.Probe(ctx, testutil.ClosedAddr(t)))

	// 非 SOCKS 服务（回显）返回的不是合法问候应答
	echo := testutil.NewEchoServer(t, testutil.WithGreeting([]byte("HTTP")))
	assert.ErrorIs(t, d.Probe(ctx, echo.Addr()), ErrProxyRejected)
}

// TestModule 测试 Fx 模块
func TestModule(t *testing.T) {
	var m *Manager
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		Module(),
		fx.Populate(&m),
	)
	app.RequireStart()
	require.NotNil(t, m)

	ctl, err := m.Controller("127.0.0.1:9050", "")
	require.NoError(t, err)
	assert.False(t, ctl.Bootstrapped())

	app.RequireStop()
	_, err = m.Controller("127.0.0.1:9050", "")
	assert.Error(t, err, "停止后不可再创建控制器")
}
