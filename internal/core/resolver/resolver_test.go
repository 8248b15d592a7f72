package resolver

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/fx"
	"go.uber.org/fx/fxtest"

	"github.com/dep2p/go-netbridge/config"
	"github.com/dep2p/go-netbridge/tests/testutil"
)

// countingResolver 记录调用次数
type countingResolver struct {
	next  Resolver
	calls atomic.Int64
}

func (c *countingResolver) LookupHost(ctx context.Context, host string) ([]string, error) {
	c.calls.Add(1)
	return c.next.LookupHost(ctx, host)
}

func staticConfig() config.ResolverConfig {
	cfg := config.DefaultResolverConfig()
	cfg.CacheSize = 0
	return cfg
}

// TestLiteral 测试 IP 字面量不经过底层解析器
func TestLiteral(t *testing.T) {
	base := &countingResolver{next: Static{}}
	r := New(staticConfig(), WithBase(base))
	ctx := testutil.Context(t, time.Second)

	cases := map[string]string{
		"127.0.0.1":       "127.0.0.1",
		"[::1]":           "::1",
		"::ffff:10.0.0.1": "10.0.0.1",
		"2001:db8::1":     "2001:db8::1",
	}
	for in, want := range cases {
		got, err := r.LookupHost(ctx, in)
		require.NoError(t, err, in)
		assert.Equal(t, []string{want}, got, in)
	}
	assert.Zero(t, base.calls.Load())

	_, err := r.LookupHost(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ IP 字面量短路测试通过")
}

// TestStatic 测试静态表与 IPv4 优先排序
func TestStatic(t *testing.T) {
	ctx := testutil.Context(t, time.Second)
	table := Static{"dual.test": {"::1", "127.0.0.1"}}

	r := New(staticConfig(), WithBase(table))
	got, err := r.LookupHost(ctx, "Dual.Test.")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1", "::1"}, got)
	assert.Equal(t, []string{"::1", "127.0.0.1"}, table["dual.test"], "不修改底层结果")

	cfg := staticConfig()
	cfg.PreferIPv4 = false
	got, err = New(cfg, WithBase(table)).LookupHost(ctx, "dual.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"::1", "127.0.0.1"}, got)

	_, err = r.LookupHost(ctx, "missing.test")
	assert.ErrorIs(t, err, ErrNotFound)

	t.Log("✅ 静态表测试通过")
}

// TestDNS 测试自定义 DNS 服务器查询
func TestDNS(t *testing.T) {
	srv := testutil.NewDNSServer(t, 60, map[string][]string{
		"bridge.test": {"127.0.0.1", "::1"},
		"v6.test":     {"::1"},
	})
	ctx := testutil.Context(t, 5*time.Second)
	d := NewDNS([]string{srv.Addr()}, time.Second)

	addrs, ttl, err := d.lookupTTL(ctx, "bridge.test")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"127.0.0.1", "::1"}, addrs)
	assert.Equal(t, 60*time.Second, ttl)

	addrs, err = d.LookupHost(ctx, "v6.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"::1"}, addrs)

	_, err = d.LookupHost(ctx, "missing.test")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = NewDNS(nil, time.Second).LookupHost(ctx, "bridge.test")
	assert.ErrorIs(t, err, ErrNoNameserver)

	t.Log("✅ DNS 查询测试通过")
}

// TestDNS_Failover 测试首个服务器不可用时尝试下一个
func TestDNS_Failover(t *testing.T) {
	srv := testutil.NewDNSServer(t, 60, map[string][]string{"bridge.test": {"127.0.0.1"}})
	ctx := testutil.Context(t, 5*time.Second)

	d := NewDNS([]string{testutil.ClosedAddr(t), srv.Addr()}, 300*time.Millisecond)
	addrs, err := d.LookupHost(ctx, "bridge.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, addrs)

	t.Log("✅ DNS 故障转移测试通过")
}

// TestCache 测试缓存按记录 TTL 过期
func TestCache(t *testing.T) {
	srv := testutil.NewDNSServer(t, 30, map[string][]string{"bridge.test": {"127.0.0.1"}})
	ctx := testutil.Context(t, 5*time.Second)
	clk := clock.NewMock()

	cfg := config.DefaultResolverConfig()
	cfg.Nameservers = []string{srv.Addr()}
	r := New(cfg, WithClock(clk))

	_, err := r.LookupHost(ctx, "bridge.test")
	require.NoError(t, err)
	queries := srv.Queries()
	assert.Equal(t, 2, queries, "A 与 AAAA 各一次")

	addrs, err := r.LookupHost(ctx, "BRIDGE.test")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, addrs)
	assert.Equal(t, queries, srv.Queries(), "命中缓存")

	// 记录 TTL(30s) 短于 CacheTTL(5m)
	clk.Add(31 * time.Second)
	_, err = r.LookupHost(ctx, "bridge.test")
	require.NoError(t, err)
	assert.Equal(t, 2*queries, srv.Queries(), "记录过期后重新查询")

	t.Log("✅ 解析缓存测试通过")
}

// TestCache_NoNegative 测试失败结果不缓存
func TestCache_NoNegative(t *testing.T) {
	base := &countingResolver{next: Static{}}
	c := NewCache(base, 8, time.Minute, time.Second, clock.NewMock())
	ctx := testutil.Context(t, time.Second)

	for i := 0; i < 2; i++ {
		_, err := c.LookupHost(ctx, "missing.test")
		assert.ErrorIs(t, err, ErrNotFound)
	}
	assert.Equal(t, int64(2), base.calls.Load())
	assert.Zero(t, c.Len())
}

// blockingResolver 阻塞到 release 关闭或 ctx 结束
type blockingResolver struct {
	calls   atomic.Int64
	release chan struct{}
}

func (b *blockingResolver) LookupHost(ctx context.Context, _ string) ([]string, error) {
	b.calls.Add(1)
	select {
	case <-b.release:
		return []string{"10.0.0.1"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TestCache_SharedLookup 测试发起查询的调用方取消不影响其他等待者
func TestCache_SharedLookup(t *testing.T) {
	base := &blockingResolver{release: make(chan struct{})}
	c := NewCache(base, 8, time.Minute, 5*time.Second, clock.NewMock())

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.LookupHost(first, "shared.test")
		firstErr <- err
	}()
	require.Eventually(t, func() bool { return base.calls.Load() == 1 }, time.Second, 5*time.Millisecond)

	type result struct {
		addrs []string
		err   error
	}
	second := make(chan result, 1)
	go func() {
		addrs, err := c.LookupHost(testutil.Context(t, 5*time.Second), "shared.test")
		second <- result{addrs, err}
	}()

	cancel()
	select {
	case err := <-firstErr:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("取消的调用方应立即返回")
	}

	close(base.release)
	select {
	case res := <-second:
		require.NoError(t, res.err)
		assert.Equal(t, []string{"10.0.0.1"}, res.addrs)
	case <-time.After(2 * time.Second):
		t.Fatal("等待者未收到共享结果")
	}
	assert.Equal(t, int64(1), base.calls.Load(), "查询只执行一次")
	assert.Equal(t, 1, c.Len())

	t.Log("✅ 共享查询测试通过")
}

// TestCache_LookupTimeout 测试共享查询受 timeout 约束
func TestCache_LookupTimeout(t *testing.T) {
	base := &blockingResolver{release: make(chan struct{})}
	c := NewCache(base, 8, time.Minute, 50*time.Millisecond, clock.NewMock())

	_, err := c.LookupHost(context.Background(), "slow.test")
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, c.Len())
}

// TestModule 测试 Fx 模块
func TestModule(t *testing.T) {
	var r Resolver
	app := fxtest.New(t,
		fx.Supply(config.NewConfig()),
		Module(),
		fx.Populate(&r),
	)
	app.RequireStart()
	defer app.RequireStop()

	require.NotNil(t, r)
	addrs, err := r.LookupHost(context.Background(), "127.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, []string{"127.0.0.1"}, addrs)
}
