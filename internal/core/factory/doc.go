// Package factory 建立到端点的连接
//
// Establish 按协议分派（没有继承层次）：
//
//	TCP        原始字节流
//	TLS        字节流 + TLS 握手
//	HTTP       字节流 (+TLS) + HTTP 编解码器就绪；协商到 h2 时完成连接前言
//	GRPC       同 HTTP，但 HTTP/2 是必需的
//	WebSocket  字节流 (+TLS) + RFC 6455 升级握手
//
// 字节流来自调用方提供的 Dialer：直连路由使用 Direct（本地解析），
// 覆盖网络路由使用电路拨号器（主机名交给代理远端解析）。
// 任何一步失败都会关闭已打开的部分连接。
package factory
