// Package pool 按 (端点, 路由策略指纹) 复用会话
//
// 每个键一个条目，条目内有自己的互斥锁；全局锁只用于查找条目。
// 会话要么空闲在池中，要么被恰好一个 Lease 独占。
//
//	lease, err := p.Acquire(ctx, key, connect)
//	...使用 lease.Session()...
//	lease.Release() // 归还；出错时用 lease.Discard()
//
// 空闲超过 IdleTimeout 的会话在 Acquire 时惰性驱逐，
// 并由后台 janitor 按 CleanupInterval 周期清理。
package pool
