package testutil

import (
	"bytes"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"

	"github.com/gorilla/websocket"
	"golang.org/x/net/http2"
)

// ============================================================================
//                              HTTP/2 前言应答
// ============================================================================

// H2Server 只完成 HTTP/2 连接前言的服务
//
// 读取客户端前言后发送 SETTINGS，确认客户端 SETTINGS，
// 收到客户端对服务端 SETTINGS 的 ACK 时计一次握手。之后丢弃所有帧。
type H2Server struct {
	*tcpServer
	handshakes atomic.Int64
}

// NewH2Server 启动 h2 服务，传入 WithTLS 时以 TLS 提供（ALPN 由 tls.Config 决定）
func NewH2Server(t testing.TB, opts ...EchoOption) *H2Server {
	t.Helper()
	var o echoOptions
	for _, opt := range opts {
		opt(&o)
	}
	s := &H2Server{}
	s.tcpServer = startServer(t, o.tlsCfg, s.handle)
	return s
}

// Handshakes 返回完成的握手数
func (s *H2Server) Handshakes() int {
	return int(s.handshakes.Load())
}

func (s *H2Server) handle(conn net.Conn) {
	preface := make([]byte, len(http2.ClientPreface))
	if _, err := io.ReadFull(conn, preface); err != nil {
		return
	}
	if !bytes.Equal(preface, []byte(http2.ClientPreface)) {
		return
	}
	fr := http2.NewFramer(conn, conn)
	if err := fr.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: 100}); err != nil {
		return
	}
	for {
		f, err := fr.ReadFrame()
		if err != nil {
			return
		}
		sf, ok := f.(*http2.SettingsFrame)
		if !ok {
			continue
		}
		if sf.IsAck() {
			s.handshakes.Add(1)
			continue
		}
		if err := fr.WriteSettingsAck(); err != nil {
			return
		}
	}
}

// ============================================================================
//                              WebSocket 回显
// ============================================================================

// WSServer WebSocket 回显服务，原样回送每条消息
type WSServer struct {
	srv      *httptest.Server
	upgrades atomic.Int64
}

// NewWSServer 启动 WebSocket 服务，cert 非空时以 TLS 提供
func NewWSServer(t testing.TB, cert *Certificate) *WSServer {
	t.Helper()
	s := &WSServer{}
	s.srv = httptest.NewUnstartedServer(http.HandlerFunc(s.handle))
	if cert != nil {
		s.srv.TLS = cert.ServerConfig("http/1.1")
		s.srv.StartTLS()
	} else {
		s.srv.Start()
	}
	t.Cleanup(s.srv.Close)
	return s
}

// Port 返回监听端口
func (s *WSServer) Port() int {
	_, p, _ := net.SplitHostPort(s.srv.Listener.Addr().String())
	n, _ := strconv.Atoi(p)
	return n
}

// Upgrades 返回成功升级的连接数
func (s *WSServer) Upgrades() int {
	return int(s.upgrades.Load())
}

func (s *WSServer) handle(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	s.upgrades.Add(1)
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if err := conn.WriteMessage(mt, data); err != nil {
			return
		}
	}
}
