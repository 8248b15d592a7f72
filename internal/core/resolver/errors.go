package resolver

import "errors"

var (
	// ErrNotFound 名称不存在或没有可用地址
	ErrNotFound = errors.New("host not found")

	// ErrNoNameserver 未配置可用的 DNS 服务器
	ErrNoNameserver = errors.New("no nameserver configured")
)
