package resolver

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"
)

// ttlResolver 能给出记录 TTL 的解析器
type ttlResolver interface {
	lookupTTL(ctx context.Context, host string) ([]string, time.Duration, error)
}

type cacheEntry struct {
	addrs   []string
	expires time.Time
}

// Cache 带过期的解析缓存
//
// 条目的寿命取 min(记录 TTL, ttl)；底层解析器不提供 TTL 时使用 ttl。
// LRU 自身也按 ttl 淘汰，clock 只用于判断记录 TTL 是否到期。
// 失败结果不缓存。并发的同名查询合并为一次：共享查询不继承任何
// 调用方的取消，只受 timeout 约束；每个调用方按自己的 ctx 放弃等待。
type Cache struct {
	next    Resolver
	ttl     time.Duration
	timeout time.Duration
	clock   clock.Clock
	lru     *expirable.LRU[string, cacheEntry]
	group   singleflight.Group
}

// NewCache 包装 next，size 为条目上限，timeout 为单次共享查询的上限
func NewCache(next Resolver, size int, ttl, timeout time.Duration, clk clock.Clock) *Cache {
	if clk == nil {
		clk = clock.New()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Cache{
		next:    next,
		ttl:     ttl,
		timeout: timeout,
		clock:   clk,
		lru:     expirable.NewLRU[string, cacheEntry](size, nil, ttl),
	}
}

// LookupHost 实现 Resolver
func (c *Cache) LookupHost(ctx context.Context, host string) ([]string, error) {
	key := strings.ToLower(host)
	if e, ok := c.lru.Get(key); ok {
		if c.clock.Now().Before(e.expires) {
			return slices.Clone(e.addrs), nil
		}
		c.lru.Remove(key)
	}

	ch := c.group.DoChan(key, func() (any, error) {
		lctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
		defer cancel()
		addrs, ttl, err := c.lookup(lctx, host)
		if err != nil {
			return nil, err
		}
		if ttl <= 0 || ttl > c.ttl {
			ttl = c.ttl
		}
		c.lru.Add(key, cacheEntry{addrs: addrs, expires: c.clock.Now().Add(ttl)})
		return addrs, nil
	})
	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return slices.Clone(res.Val.([]string)), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (c *Cache) lookup(ctx context.Context, host string) ([]string, time.Duration, error) {
	if tr, ok := c.next.(ttlResolver); ok {
		return tr.lookupTTL(ctx, host)
	}
	addrs, err := c.next.LookupHost(ctx, host)
	return addrs, c.ttl, err
}

// Len 返回缓存条目数
func (c *Cache) Len() int {
	return c.lru.Len()
}

// Purge 清空缓存
func (c *Cache) Purge() {
	c.lru.Purge()
}
