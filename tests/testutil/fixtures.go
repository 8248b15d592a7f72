// Package testutil 提供测试辅助工具
//
// 包含进程内的假服务：TCP/TLS 回显服务、HTTP/2 SETTINGS 应答服务、
// WebSocket 回显服务、SOCKS5 代理与覆盖网络控制通道。
package testutil

import (
	"net"
	"testing"
)

// 测试数据固件
const (
	// FakeHost 不可解析的测试主机名，只能经由假代理的主机映射到达
	FakeHost = "example.test"

	// ControlPassword 假控制通道的默认口令
	ControlPassword = "bridge-secret"
)

// ClosedAddr 返回一个刚刚释放的本地地址，连接会被拒绝
func ClosedAddr(t testing.TB) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}
