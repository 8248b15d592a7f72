package factory

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"
)

// bindDeadline 让 conn 上的阻塞 I/O 服从 ctx
//
// 有截止时间时设置为连接 deadline；ctx 取消时立即使 I/O 超时。
// 返回的函数解除绑定并清除 deadline。
func bindDeadline(ctx context.Context, conn net.Conn) func() {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	return func() {
		stop()
		_ = conn.SetDeadline(time.Time{})
	}
}

// ctxErr ctx 已结束时优先返回 ctx 的错误
//
// 连接 deadline 与 ctx 的计时器可能先后触发，
// 超过 ctx 截止时间的 I/O 超时同样视为 ctx 超时。
func ctxErr(ctx context.Context, err error) error {
	if cerr := ctx.Err(); cerr != nil {
		return cerr
	}
	if deadline, ok := ctx.Deadline(); ok && errors.Is(err, os.ErrDeadlineExceeded) && !time.Now().Before(deadline) {
		return fmt.Errorf("%w: %v", context.DeadlineExceeded, err)
	}
	return err
}
