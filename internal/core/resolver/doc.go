// Package resolver 提供直连路由的名称解析
//
// 解析只发生在直连路径上：覆盖网络路由把主机名原样交给代理，
// 由远端解析，避免本地 DNS 泄露。
//
// 解析器按以下顺序组合：
//
//	IP 字面量短路 → 缓存（expirable LRU）→ 自定义 DNS 服务器 或 系统解析器
//
// 使用示例：
//
//	r := resolver.New(cfg.Resolver)
//	addrs, err := r.LookupHost(ctx, "example.com")
package resolver
