// Package route 为每次建连尝试做路由决策
//
// 不使用覆盖网络时直接返回 Direct，不触碰覆盖网络控制器；
// 否则在 ConnectTimeout 内向控制器获取电路，返回 Overlay(handle)。
package route
