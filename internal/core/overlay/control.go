package overlay

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ControlChannel 覆盖网络的电路管理通道
type ControlChannel interface {
	// Authenticate 认证，password 为空时发送空认证
	Authenticate(ctx context.Context, password string) error

	// BootstrapProgress 返回引导进度（0-100）
	BootstrapProgress(ctx context.Context) (int, error)

	// CreateCircuit 新建电路，返回远端电路 ID
	CreateCircuit(ctx context.Context) (string, error)

	// CloseCircuit 关闭远端电路
	CloseCircuit(ctx context.Context, id string) error

	// NewIdentity 请求覆盖网络切换新身份
	NewIdentity(ctx context.Context) error

	// Close 关闭通道
	Close() error
}

// ControlDialer 打开控制通道
type ControlDialer func(ctx context.Context, addr string) (ControlChannel, error)

// ============================================================================
//                              文本控制协议
// ============================================================================

// textControl 基于行的控制协议客户端
//
// 请求为单行命令，回复为 "250 OK" 或多行 "250-key=value ... 250 OK"。
// 同一时刻只有一个命令在途。
type textControl struct {
	mu   sync.Mutex
	raw  net.Conn
	conn *textproto.Conn
}

// DialControl 连接控制通道
func DialControl(ctx context.Context, addr string) (ControlChannel, error) {
	var d net.Dialer
	raw, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial control %s: %w", addr, err)
	}
	return newTextControl(raw), nil
}

func newTextControl(raw net.Conn) *textControl {
	return &textControl{
		raw:  raw,
		conn: textproto.NewConn(raw),
	}
}

// do 发送命令并读取期望 2xx 的回复
func (t *textControl) do(ctx context.Context, name, format string, args ...any) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if deadline, ok := ctx.Deadline(); ok {
		_ = t.raw.SetDeadline(deadline)
	} else {
		_ = t.raw.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = t.raw.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	id, err := t.conn.Cmd(format, args...)
	if err != nil {
		return "", t.ctxErr(ctx, err)
	}
	t.conn.StartResponse(id)
	defer t.conn.EndResponse(id)

	code, msg, err := t.conn.ReadResponse(2)
	if err != nil {
		var tpErr *textproto.Error
		if errors.As(err, &tpErr) {
			return "", &ControlError{Command: name, Code: tpErr.Code, Msg: tpErr.Msg}
		}
		return "", t.ctxErr(ctx, err)
	}
	if code/100 != 2 {
		return "", &ControlError{Command: name, Code: code, Msg: msg}
	}
	return msg, nil
}

func (t *textControl) ctxErr(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

// Authenticate 认证
func (t *textControl) Authenticate(ctx context.Context, password string) error {
	var err error
	if password == "" {
		_, err = t.do(ctx, "AUTHENTICATE", "AUTHENTICATE")
	} else {
		_, err = t.do(ctx, "AUTHENTICATE", "AUTHENTICATE %s", strconv.Quote(password))
	}
	var ce *ControlError
	if errors.As(err, &ce) {
		return fmt.Errorf("%w: %v", ErrAuthFailed, err)
	}
	return err
}

// BootstrapProgress 查询引导进度
func (t *textControl) BootstrapProgress(ctx context.Context) (int, error) {
	msg, err := t.do(ctx, "GETINFO", "GETINFO status/bootstrap-phase")
	if err != nil {
		return 0, err
	}
	return parseBootstrapProgress(msg)
}

// parseBootstrapProgress 从 "status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=100 ..." 中取进度
func parseBootstrapProgress(msg string) (int, error) {
	for _, line := range strings.Split(msg, "\n") {
		if !strings.HasPrefix(line, "status/bootstrap-phase=") {
			continue
		}
		for _, field := range strings.Fields(line) {
			v, ok := strings.CutPrefix(field, "PROGRESS=")
			if !ok {
				continue
			}
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 || n > 100 {
				return 0, fmt.Errorf("%w: progress %q", ErrMalformedReply, v)
			}
			return n, nil
		}
	}
	return 0, fmt.Errorf("%w: no bootstrap progress in %q", ErrMalformedReply, msg)
}

// CreateCircuit 新建电路，回复形如 "EXTENDED 42"
func (t *textControl) CreateCircuit(ctx context.Context) (string, error) {
	msg, err := t.do(ctx, "EXTENDCIRCUIT", "EXTENDCIRCUIT 0")
	if err != nil {
		return "", err
	}
	fields := strings.Fields(msg)
	if len(fields) != 2 || fields[0] != "EXTENDED" {
		return "", fmt.Errorf("%w: %q", ErrMalformedReply, msg)
	}
	return fields[1], nil
}

// CloseCircuit 关闭远端电路
func (t *textControl) CloseCircuit(ctx context.Context, id string) error {
	_, err := t.do(ctx, "CLOSECIRCUIT", "CLOSECIRCUIT %s", id)
	return err
}

// NewIdentity 切换新身份
func (t *textControl) NewIdentity(ctx context.Context) error {
	_, err := t.do(ctx, "SIGNAL", "SIGNAL NEWNYM")
	return err
}

// Close 发送 QUIT 并关闭连接
func (t *textControl) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, _ = t.do(ctx, "QUIT", "QUIT")
	return t.conn.Close()
}

// isChannelBroken 判断错误是否意味着控制通道本身已不可用
func isChannelBroken(err error) bool {
	if err == nil {
		return false
	}
	var ce *ControlError
	if errors.As(err, &ce) {
		return false
	}
	return !errors.Is(err, ErrMalformedReply)
}
