package factory

import "errors"

var (
	// ErrUnsupportedProtocol 协议没有对应的建立流程
	ErrUnsupportedProtocol = errors.New("unsupported protocol")

	// ErrH2NotNegotiated 需要 HTTP/2 但对端未通过 ALPN 选择 h2
	ErrH2NotNegotiated = errors.New("h2 not negotiated")

	// ErrBadServerPreface 服务端首帧不是 SETTINGS
	ErrBadServerPreface = errors.New("server preface is not a SETTINGS frame")
)
