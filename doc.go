// Package netbridge 提供统一的传输桥接层
//
// 调用方声明端点（主机、端口、协议）与路由策略，得到统一的可读写会话。
// 协议覆盖原始 TCP、TLS、HTTP（HTTP/1.1 与 h2）、gRPC 与 WebSocket；
// 路由可以直连，也可以经由匿名覆盖网络（本地 SOCKS5 代理 + 控制通道）。
//
// # 快速开始
//
//	bridge, err := netbridge.New()
//	if err != nil {
//	    return err
//	}
//	if err := bridge.Start(ctx); err != nil {
//	    return err
//	}
//	defer bridge.Stop(context.Background())
//
//	ep, _ := netbridge.ParseURL("tls://example.com:443")
//	s, err := bridge.Connect(ctx, ep, netbridge.RouteConfig{
//	    ConnectTimeout: 5 * time.Second,
//	    MaxRetries:     netbridge.Int(2),
//	})
//	if err != nil {
//	    return err
//	}
//	defer bridge.Close(s)
//
// # 经由覆盖网络
//
//	s, err := bridge.Connect(ctx, ep, netbridge.RouteConfig{
//	    UseOverlay:            netbridge.Bool(true),
//	    OverlayProxyAddress:   "127.0.0.1:9050",
//	    OverlayControlAddress: "127.0.0.1:9051",
//	})
//
// 覆盖网络控制器在第一次经由覆盖网络的请求时引导，
// 引导重试耗尽后返回致命的 ErrOverlayUnavailable，不再消耗建连重试预算。
//
// # 连接池
//
//	lease, err := bridge.Acquire(ctx, ep, cfg)
//	...
//	lease.Release()
//
// 端点与路由策略指纹都相同的请求复用空闲会话。
//
// # 错误
//
// 建连失败返回 *types.Error，Kind 为分类哨兵之一，可用 errors.Is 判断：
//
//	if errors.Is(err, netbridge.ErrOverlayUnavailable) { ... }
package netbridge
