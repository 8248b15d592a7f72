// Package lib 包含基础设施工具库
//
// 本目录包含与桥接组件无关的通用工具：
//
//   - log: 基于 log/slog 的日志封装
//
// # 与 pkg/ 其他目录的关系
//
//   - types/: 公共类型定义（端点、路由、错误分类）
//   - lib/: 基础设施工具库（本目录）
//
// # 使用示例
//
//	import "github.com/dep2p/go-netbridge/pkg/lib/log"
//
//	var logger = log.Logger("core/pool")
package lib
