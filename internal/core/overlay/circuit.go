package overlay

import (
	"time"

	"github.com/google/uuid"
	"golang.org/x/net/proxy"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// CircuitState 电路状态
type CircuitState int

const (
	// StateBootstrapping 正在经控制通道创建
	StateBootstrapping CircuitState = iota
	// StateReady 可用
	StateReady
	// StateDegraded 有连续失败但未达阈值，成功一次即恢复
	StateDegraded
	// StateRetiring 已退役，不再分配
	StateRetiring
)

// String 返回状态字符串
func (s CircuitState) String() string {
	switch s {
	case StateBootstrapping:
		return "bootstrapping"
	case StateReady:
		return "ready"
	case StateDegraded:
		return "degraded"
	case StateRetiring:
		return "retiring"
	default:
		return "unknown"
	}
}

// circuit 一条覆盖网络路径
//
// 只由 Controller 持有，字段受 Controller.mu 保护。
type circuit struct {
	handle    types.CircuitHandle
	remoteID  string
	createdAt time.Time
	failures  int
	threshold int
	state     CircuitState

	// 为空表示可跨端点共享
	isolationKey string

	auth proxy.Auth
}

func newCircuit(remoteID, isolationKey string, threshold int, now time.Time) *circuit {
	id := uuid.NewString()
	return &circuit{
		handle:       types.CircuitHandle(id),
		remoteID:     remoteID,
		createdAt:    now,
		threshold:    threshold,
		state:        StateBootstrapping,
		isolationKey: isolationKey,
		auth: proxy.Auth{
			User:     id,
			Password: uuid.NewString(),
		},
	}
}

// usable 是否可以分配给阈值为 threshold 的请求
func (c *circuit) usable(threshold int, isolationKey string, maxAge time.Duration, now time.Time) bool {
	if c.state != StateReady && c.state != StateDegraded {
		return false
	}
	if c.failures >= threshold {
		return false
	}
	if c.isolationKey != isolationKey {
		return false
	}
	if maxAge > 0 && now.Sub(c.createdAt) >= maxAge {
		return false
	}
	return true
}

// better 在可用电路间选择：Ready 优先，其次失败次数少，最后较新的
func (c *circuit) better(other *circuit) bool {
	if other == nil {
		return true
	}
	if (c.state == StateReady) != (other.state == StateReady) {
		return c.state == StateReady
	}
	if c.failures != other.failures {
		return c.failures < other.failures
	}
	return c.createdAt.After(other.createdAt)
}

// CircuitInfo 电路快照
type CircuitInfo struct {
	Handle       types.CircuitHandle
	RemoteID     string
	State        CircuitState
	Failures     int
	Threshold    int
	CreatedAt    time.Time
	IsolationKey string
}

func (c *circuit) info() CircuitInfo {
	return CircuitInfo{
		Handle:       c.handle,
		RemoteID:     c.remoteID,
		State:        c.state,
		Failures:     c.failures,
		Threshold:    c.threshold,
		CreatedAt:    c.createdAt,
		IsolationKey: c.isolationKey,
	}
}
