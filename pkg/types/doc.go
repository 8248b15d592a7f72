// Package types 定义 netbridge 的公共数据结构
//
// 这是整个系统的最底层包，不依赖任何其他内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
//
// # 文件组织
//
//   - protocol.go - Protocol 协议标签、HTTPVersion、TLSMode
//   - endpoint.go - Endpoint 目标端点（不可变）
//   - route.go    - RouteConfig 路由策略、Route 路由决策
//   - errors.go   - 错误分类与 *Error 上下文错误
//
// # 不可变性
//
// Endpoint 与 RouteConfig 构造后不再修改，可在 goroutine 间自由传递，
// 无需加锁。RouteConfig.WithDefaults 总是返回新值。
package types
