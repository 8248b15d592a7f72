package types

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"time"

	"lukechampine.com/blake3"
)

// ============================================================================
//                              RouteConfig - 路由策略
// ============================================================================

// RouteConfig 单次请求的路由策略
//
// 值类型，按值传递。解析阶段读取后不再修改；
// 需要填充默认值时使用 WithDefaults 得到新值。
//
// 零值字段表示"未设置"，由进程默认值填充。UseOverlay 与 MaxRetries
// 的零值本身有意义（直连、只尝试一次），因此用指针区分未设置：
//
//	types.RouteConfig{UseOverlay: types.Bool(false), MaxRetries: types.Int(0)}
type RouteConfig struct {
	// UseOverlay 是否经由匿名覆盖网络，nil 表示沿用默认
	UseOverlay *bool `json:"use_overlay,omitempty"`

	// OverlayProxyAddress 覆盖网络本地代理入口（SOCKS5）
	OverlayProxyAddress string `json:"overlay_proxy_address,omitempty"`

	// OverlayControlAddress 覆盖网络控制通道地址
	OverlayControlAddress string `json:"overlay_control_address,omitempty"`

	// ConnectTimeout 单次建连尝试的超时
	ConnectTimeout time.Duration `json:"connect_timeout"`

	// MaxRetries 最大重试次数，总尝试次数为 MaxRetries+1，nil 表示沿用默认
	MaxRetries *int `json:"max_retries,omitempty"`

	// CircuitRotationThreshold 电路连续失败多少次后轮换
	CircuitRotationThreshold int `json:"circuit_rotation_threshold"`

	// HTTPVersion HTTP 版本偏好（HTTP/WebSocket 使用），零值沿用默认
	HTTPVersion HTTPVersion `json:"http_version,omitempty"`

	// TLSMode 证书校验模式，零值沿用默认
	TLSMode TLSMode `json:"tls_mode,omitempty"`

	// IsolateCircuit 为每个端点使用独立电路，不与其他端点共享
	IsolateCircuit bool `json:"isolate_circuit,omitempty"`
}

// WithDefaults 用 defaults 填充未设置的字段，返回新值
func (c RouteConfig) WithDefaults(defaults RouteConfig) RouteConfig {
	out := c
	if out.UseOverlay == nil && defaults.UseOverlay != nil {
		out.UseOverlay = Bool(*defaults.UseOverlay)
	}
	if out.OverlayProxyAddress == "" {
		out.OverlayProxyAddress = defaults.OverlayProxyAddress
	}
	if out.OverlayControlAddress == "" {
		out.OverlayControlAddress = defaults.OverlayControlAddress
	}
	if out.ConnectTimeout <= 0 {
		out.ConnectTimeout = defaults.ConnectTimeout
	}
	if out.MaxRetries == nil && defaults.MaxRetries != nil {
		out.MaxRetries = Int(*defaults.MaxRetries)
	}
	if out.CircuitRotationThreshold <= 0 {
		out.CircuitRotationThreshold = defaults.CircuitRotationThreshold
	}
	if out.HTTPVersion == HTTPVersionDefault {
		out.HTTPVersion = defaults.HTTPVersion
	}
	if out.TLSMode == TLSModeDefault {
		out.TLSMode = defaults.TLSMode
	}
	return out
}

// OverlayEnabled 是否经由覆盖网络，未设置视为直连
func (c RouteConfig) OverlayEnabled() bool {
	return c.UseOverlay != nil && *c.UseOverlay
}

// Retries 返回最大重试次数，未设置返回 -1
func (c RouteConfig) Retries() int {
	if c.MaxRetries == nil {
		return -1
	}
	return *c.MaxRetries
}

// Bool 返回 v 的指针
func Bool(v bool) *bool { return &v }

// Int 返回 v 的指针
func Int(v int) *int { return &v }

// Validate 校验策略
func (c RouteConfig) Validate() error {
	if c.ConnectTimeout <= 0 {
		return fmt.Errorf("connect timeout must be positive, got %s", c.ConnectTimeout)
	}
	if c.MaxRetries != nil && *c.MaxRetries < 0 {
		return fmt.Errorf("max retries must not be negative, got %d", *c.MaxRetries)
	}
	if c.OverlayEnabled() {
		if c.OverlayProxyAddress == "" {
			return fmt.Errorf("overlay proxy address required when overlay is enabled")
		}
		if c.CircuitRotationThreshold <= 0 {
			return fmt.Errorf("circuit rotation threshold must be positive, got %d", c.CircuitRotationThreshold)
		}
	}
	return nil
}

// Fingerprint 返回策略的稳定摘要
//
// 所有字段都参与计算，两个逐字段相等的 RouteConfig 得到相同指纹。
func (c RouteConfig) Fingerprint() string {
	var buf []byte
	appendBool := func(b bool) {
		if b {
			buf = append(buf, 1)
		} else {
			buf = append(buf, 0)
		}
	}
	appendString := func(s string) {
		buf = binary.BigEndian.AppendUint32(buf, uint32(len(s)))
		buf = append(buf, s...)
	}
	appendInt := func(v int64) {
		buf = binary.BigEndian.AppendUint64(buf, uint64(v))
	}

	appendBool(c.UseOverlay != nil)
	appendBool(c.OverlayEnabled())
	appendString(c.OverlayProxyAddress)
	appendString(c.OverlayControlAddress)
	appendInt(int64(c.ConnectTimeout))
	appendBool(c.MaxRetries != nil)
	appendInt(int64(c.Retries()))
	appendInt(int64(c.CircuitRotationThreshold))
	appendInt(int64(c.HTTPVersion))
	appendInt(int64(c.TLSMode))
	appendBool(c.IsolateCircuit)

	sum := blake3.Sum256(buf)
	return hex.EncodeToString(sum[:16])
}

// ============================================================================
//                              Route - 路由决策
// ============================================================================

// RouteKind 路由类型
type RouteKind int

const (
	// RouteDirect 直连
	RouteDirect RouteKind = iota
	// RouteOverlay 经由覆盖网络电路
	RouteOverlay
)

// String 返回路由类型的字符串表示
func (k RouteKind) String() string {
	if k == RouteOverlay {
		return "overlay"
	}
	return "direct"
}

// CircuitHandle 覆盖网络电路的不透明句柄
//
// 电路本身由覆盖网络控制器独占，调用方只持有句柄。
type CircuitHandle string

// Route 一次建连尝试的路由决策
//
// 标签变体：Direct 不携带数据，Overlay 只携带电路句柄。
type Route struct {
	kind    RouteKind
	circuit CircuitHandle
}

// Direct 返回直连路由
func Direct() Route {
	return Route{kind: RouteDirect}
}

// Overlay 返回经由指定电路的路由
func Overlay(circuit CircuitHandle) Route {
	return Route{kind: RouteOverlay, circuit: circuit}
}

// Kind 返回路由类型
func (r Route) Kind() RouteKind { return r.kind }

// IsOverlay 是否经由覆盖网络
func (r Route) IsOverlay() bool { return r.kind == RouteOverlay }

// Circuit 返回电路句柄，直连路由返回 false
func (r Route) Circuit() (CircuitHandle, bool) {
	if r.kind != RouteOverlay {
		return "", false
	}
	return r.circuit, true
}

// String 返回路由的字符串表示
func (r Route) String() string {
	if r.kind == RouteOverlay {
		return "overlay(" + string(r.circuit) + ")"
	}
	return "direct"
}
