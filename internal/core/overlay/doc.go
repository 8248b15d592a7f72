// Package overlay 管理匿名覆盖网络的引导、电路与轮换
//
// 覆盖网络由本地 SOCKS5 代理和独立的控制通道组成。Controller 负责：
//   - Bootstrap: 探测代理、连接并认证控制通道、等待引导进度达到 100%
//   - AcquireCircuit: 复用健康电路或经控制通道新建电路
//   - ReportFailure / ReportSuccess: 电路健康计数与轮换
//   - DialContext: 通过电路打开到目标的字节流
//   - Shutdown: 关闭全部电路与控制通道
//
// # 电路状态机
//
//	Bootstrapping → Ready ⇄ Degraded → Retiring → (移除)
//
// Retiring 是终态，不会再分配给新的请求。
//
// # 流隔离
//
// 每个电路持有唯一的 SOCKS5 用户名/口令，代理按认证信息隔离流，
// 因此不同电路上的连接不会共用同一条覆盖路径。
//
// # 并发
//
// 电路表由 Controller 的一把互斥锁保护，锁内不做 I/O。
// 并发的引导与电路创建通过 singleflight 合并为一次。
package overlay
