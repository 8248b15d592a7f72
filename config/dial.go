package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// DialConfig 拨号与协议层配置
type DialConfig struct {
	// ConnectTimeout 单次建连尝试超时（拨号 + 握手 + 协议协商）
	ConnectTimeout Duration `json:"connect_timeout"`

	// KeepAlive TCP keep-alive 周期，负值禁用
	KeepAlive Duration `json:"keep_alive"`

	// HTTPVersion HTTP 版本偏好: auto | http1 | http2
	HTTPVersion string `json:"http_version"`

	// InsecureSkipVerify 跳过证书校验
	InsecureSkipVerify bool `json:"insecure_skip_verify,omitempty"`

	// RootCAFile 额外信任的 CA 证书（PEM）
	RootCAFile string `json:"root_ca_file,omitempty"`

	// MaxMessageSize gRPC/WebSocket 单条消息上限（字节）
	MaxMessageSize int `json:"max_message_size"`
}

// DefaultDialConfig 返回默认拨号配置
func DefaultDialConfig() DialConfig {
	return DialConfig{
		ConnectTimeout: Duration(10 * time.Second),
		KeepAlive:      Duration(30 * time.Second),
		HTTPVersion:    "auto",
		MaxMessageSize: 4 << 20,
	}
}

// Validate 验证拨号配置
func (c DialConfig) Validate() error {
	if c.ConnectTimeout <= 0 {
		return errors.New("connect timeout must be positive")
	}
	switch strings.ToLower(c.HTTPVersion) {
	case "", "auto", "http1", "http2":
	default:
		return fmt.Errorf("unknown http version %q", c.HTTPVersion)
	}
	if c.MaxMessageSize < 0 {
		return errors.New("max message size must not be negative")
	}
	return nil
}

func (c DialConfig) httpVersion() types.HTTPVersion {
	switch strings.ToLower(c.HTTPVersion) {
	case "http1":
		return types.HTTPVersion1
	case "http2":
		return types.HTTPVersion2
	default:
		return types.HTTPVersionAuto
	}
}

func (c DialConfig) tlsMode() types.TLSMode {
	if c.InsecureSkipVerify {
		return types.TLSModeInsecure
	}
	return types.TLSModeVerify
}
