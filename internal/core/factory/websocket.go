package factory

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// upgradeWebSocket 在已建立（必要时已加密）的字节流上执行 WebSocket 客户端握手
//
// gorilla 的 Dialer 通过 NetDialContext 拿到现成的 conn，URL 总是用 ws://，
// TLS 已由 Handshaker 完成，不会被再包装一次。
func upgradeWebSocket(ctx context.Context, conn net.Conn, ep types.Endpoint, maxMessage int) (net.Conn, error) {
	path, query, _ := strings.Cut(ep.Path(), "?")
	u := url.URL{Scheme: "ws", Host: ep.Address(), Path: path, RawQuery: query}

	used := false
	d := websocket.Dialer{
		NetDialContext: func(context.Context, string, string) (net.Conn, error) {
			if used {
				return nil, errors.New("websocket dialer reused")
			}
			used = true
			return conn, nil
		},
	}
	release := bindDeadline(ctx, conn)
	ws, resp, err := d.DialContext(ctx, u.String(), nil)
	release()
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket upgrade: status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("websocket upgrade: %w", ctxErr(ctx, err))
	}
	if maxMessage > 0 {
		ws.SetReadLimit(int64(maxMessage))
	}
	return &wsConn{ws: ws}, nil
}

// ============================================================================
//                              wsConn - 消息转字节流
// ============================================================================

// wsConn 把 WebSocket 二进制消息暴露为 net.Conn
//
// 每次 Write 发送一条二进制消息；Read 依次读完每条入站消息。
// gorilla 的读错误是粘滞的，不能用超时探测存活，改为记录是否出错。
type wsConn struct {
	ws     *websocket.Conn
	broken atomic.Bool

	readMu sync.Mutex
	reader io.Reader

	closeOnce sync.Once
	closeErr  error
}

func (c *wsConn) Read(p []byte) (int, error) {
	c.readMu.Lock()
	defer c.readMu.Unlock()
	for {
		if c.reader == nil {
			_, r, err := c.ws.NextReader()
			if err != nil {
				c.broken.Store(true)
				if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					return 0, io.EOF
				}
				return 0, err
			}
			c.reader = r
		}
		n, err := c.reader.Read(p)
		if errors.Is(err, io.EOF) {
			c.reader = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (c *wsConn) Write(p []byte) (int, error) {
	if err := c.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
		c.broken.Store(true)
		return 0, err
	}
	return len(p), nil
}

func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.broken.Store(true)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second))
		c.closeErr = c.ws.Close()
	})
	return c.closeErr
}

// Alive 未观察到读写错误且未关闭
func (c *wsConn) Alive() bool {
	return !c.broken.Load()
}

func (c *wsConn) LocalAddr() net.Addr  { return c.ws.LocalAddr() }
func (c *wsConn) RemoteAddr() net.Addr { return c.ws.RemoteAddr() }

func (c *wsConn) SetDeadline(t time.Time) error {
	return c.ws.NetConn().SetDeadline(t)
}

func (c *wsConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
