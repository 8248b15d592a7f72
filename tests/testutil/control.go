package testutil

import (
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// ControlServer 假的覆盖网络控制通道
//
// 支持 AUTHENTICATE、GETINFO status/bootstrap-phase、EXTENDCIRCUIT、
// CLOSECIRCUIT、SIGNAL NEWNYM 与 QUIT。
type ControlServer struct {
	ln       net.Listener
	password string

	progress   atomic.Int32
	failCreate atomic.Int32
	nextID     atomic.Int64
	created    atomic.Int64
	newnym     atomic.Int64
	sessions   atomic.Int64

	mu     sync.Mutex
	closed []string
	conns  map[net.Conn]struct{}
	wg     sync.WaitGroup
}

// NewControlServer 启动假控制通道，password 为空时接受任意认证
func NewControlServer(t testing.TB, password string) *ControlServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &ControlServer{
		ln:       ln,
		password: password,
		conns:    make(map[net.Conn]struct{}),
	}
	s.progress.Store(100)
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Addr 返回监听地址
func (s *ControlServer) Addr() string {
	return s.ln.Addr().String()
}

// SetProgress 设置引导进度
func (s *ControlServer) SetProgress(p int) {
	s.progress.Store(int32(p))
}

// FailNextCreates 让接下来 n 次 EXTENDCIRCUIT 失败
func (s *ControlServer) FailNextCreates(n int) {
	s.failCreate.Store(int32(n))
}

// Created 返回成功创建的电路数
func (s *ControlServer) Created() int {
	return int(s.created.Load())
}

// Sessions 返回累计控制连接数
func (s *ControlServer) Sessions() int {
	return int(s.sessions.Load())
}

// NewNym 返回收到的 SIGNAL NEWNYM 次数
func (s *ControlServer) NewNym() int {
	return int(s.newnym.Load())
}

// ClosedCircuits 返回收到 CLOSECIRCUIT 的电路 ID
func (s *ControlServer) ClosedCircuits() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.closed...)
}

// Close 关闭监听与全部连接
func (s *ControlServer) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *ControlServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.sessions.Add(1)
		s.mu.Lock()
		s.conns[conn] = struct{}{}
		s.mu.Unlock()

		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer func() {
				s.mu.Lock()
				delete(s.conns, conn)
				s.mu.Unlock()
				_ = conn.Close()
			}()
			s.handle(textproto.NewConn(conn))
		}()
	}
}

func (s *ControlServer) handle(tc *textproto.Conn) {
	authed := false
	for {
		line, err := tc.ReadLine()
		if err != nil {
			return
		}
		cmd, arg, _ := strings.Cut(line, " ")
		cmd = strings.ToUpper(cmd)

		if cmd == "QUIT" {
			_ = tc.PrintfLine("250 closing connection")
			return
		}
		if cmd == "AUTHENTICATE" {
			if s.password != "" && arg != strconv.Quote(s.password) {
				_ = tc.PrintfLine("515 Authentication failed: Password did not match")
				continue
			}
			authed = true
			_ = tc.PrintfLine("250 OK")
			continue
		}
		if !authed {
			_ = tc.PrintfLine("514 Authentication required.")
			continue
		}

		switch cmd {
		case "GETINFO":
			if arg != "status/bootstrap-phase" {
				_ = tc.PrintfLine("552 Unrecognized key %q", arg)
				continue
			}
			_ = tc.PrintfLine("250-status/bootstrap-phase=NOTICE BOOTSTRAP PROGRESS=%d TAG=done SUMMARY=\"Done\"", s.progress.Load())
			_ = tc.PrintfLine("250 OK")
		case "EXTENDCIRCUIT":
			if s.failCreate.Load() > 0 {
				s.failCreate.Add(-1)
				_ = tc.PrintfLine("551 Couldn't extend circuit")
				continue
			}
			id := s.nextID.Add(1)
			s.created.Add(1)
			_ = tc.PrintfLine("250 EXTENDED %d", id)
		case "CLOSECIRCUIT":
			s.mu.Lock()
			s.closed = append(s.closed, arg)
			s.mu.Unlock()
			_ = tc.PrintfLine("250 OK")
		case "SIGNAL":
			if arg == "NEWNYM" {
				s.newnym.Add(1)
			}
			_ = tc.PrintfLine("250 OK")
		default:
			_ = tc.PrintfLine("510 Unrecognized command %q", cmd)
		}
	}
}
