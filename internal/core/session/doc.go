// Package session 提供统一的会话抽象
//
// 无论协议（TCP/TLS/HTTP/gRPC/WebSocket）或路由（直连/覆盖网络），
// 调用方拿到的都是同一个 Session：Read、Write、Close。
//
// 并发约定：
//   - 读与读之间串行，写与写之间串行（保持调用顺序），读写可以并发
//   - Close 幂等，只释放一次底层连接
//   - 关闭后的读写返回 types.ErrSessionClosed
//
// 覆盖网络路由的会话在关闭时把健康结果报告给控制器：
// 观察到非 EOF 的 I/O 错误时报告失败，否则报告成功。
package session
