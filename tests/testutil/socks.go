package testutil

import (
	"encoding/binary"
	"io"
	"net"
	"strconv"
	"sync"
	"testing"
)

// SOCKSServer 最小的 SOCKS5 代理（仅 CONNECT）
//
// 要求用户名/口令认证，并记录每个连接使用的用户名，
// 用于断言流隔离。Hosts 把不可解析的主机名映射到本地地址。
type SOCKSServer struct {
	ln net.Listener

	mu      sync.Mutex
	hosts   map[string]string
	users   []string
	targets []string
	conns   map[net.Conn]struct{}
	wg      sync.WaitGroup
}

// NewSOCKSServer 启动假代理，测试结束时关闭
func NewSOCKSServer(t testing.TB) *SOCKSServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &SOCKSServer{
		ln:    ln,
		hosts: make(map[string]string),
		conns: make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve()
	t.Cleanup(s.Close)
	return s
}

// Map 将 host 映射到本地地址 addr（host:port）
func (s *SOCKSServer) Map(host, addr string) {
	s.mu.Lock()
	s.hosts[host] = addr
	s.mu.Unlock()
}

// Addr 返回代理地址
func (s *SOCKSServer) Addr() string {
	return s.ln.Addr().String()
}

// Users 返回 CONNECT 成功前认证过的用户名（按顺序）
func (s *SOCKSServer) Users() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.users...)
}

// Targets 返回 CONNECT 的原始目标（主机名未在本地解析）
func (s *SOCKSServer) Targets() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.targets...)
}

// Close 关闭代理与全部连接
func (s *SOCKSServer) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *SOCKSServer) track(c net.Conn) {
	s.mu.Lock()
	s.conns[c] = struct{}{}
	s.mu.Unlock()
}

func (s *SOCKSServer) untrack(c net.Conn) {
	s.mu.Lock()
	delete(s.conns, c)
	s.mu.Unlock()
	_ = c.Close()
}

func (s *SOCKSServer) serve() {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.track(conn)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.handle(conn)
		}()
	}
}

func (s *SOCKSServer) handle(conn net.Conn) {
	// 问候: VER NMETHODS METHODS...
	var hdr [2]byte
	if _, err := io.ReadFull(conn, hdr[:]); err != nil || hdr[0] != 0x05 {
		return
	}
	methods := make([]byte, hdr[1])
	if _, err := io.ReadFull(conn, methods); err != nil {
		return
	}
	hasUserPass := false
	for _, m := range methods {
		if m == 0x02 {
			hasUserPass = true
		}
	}
	if !hasUserPass {
		_, _ = conn.Write([]byte{0x05, 0xff})
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x02}); err != nil {
		return
	}

	// 用户名/口令子协商: VER ULEN UNAME PLEN PASSWD
	user, ok := readAuth(conn)
	if !ok {
		return
	}
	if _, err := conn.Write([]byte{0x01, 0x00}); err != nil {
		return
	}

	// 请求: VER CMD RSV ATYP DST.ADDR DST.PORT
	var req [4]byte
	if _, err := io.ReadFull(conn, req[:]); err != nil || req[1] != 0x01 {
		return
	}
	var host string
	switch req[3] {
	case 0x01:
		b := make([]byte, 4)
		if _, err := io.ReadFull(conn, b); err != nil {
			return
		}
		host = net.IP(b).String()
	case 0x04:
		b := make([]byte, 16)
		if _, err := io.ReadFull(conn, b); err != nil {
			return
		}
		host = net.IP(b).String()
	case 0x03:
		var l [1]byte
		if _, err := io.ReadFull(conn, l[:]); err != nil {
			return
		}
		b := make([]byte, l[0])
		if _, err := io.ReadFull(conn, b); err != nil {
			return
		}
		host = string(b)
	default:
		return
	}
	var pb [2]byte
	if _, err := io.ReadFull(conn, pb[:]); err != nil {
		return
	}
	target := net.JoinHostPort(host, strconv.Itoa(int(binary.BigEndian.Uint16(pb[:]))))

	s.mu.Lock()
	s.users = append(s.users, user)
	s.targets = append(s.targets, target)
	dialAddr := target
	if mapped, ok := s.hosts[host]; ok {
		dialAddr = mapped
	}
	s.mu.Unlock()

	upstream, err := net.Dial("tcp", dialAddr)
	if err != nil {
		_, _ = conn.Write([]byte{0x05, 0x05, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		return
	}
	s.track(upstream)
	defer s.untrack(upstream)

	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		return
	}

	done := make(chan struct{}, 2)
	go func() {
		_, _ = io.Copy(upstream, conn)
		if tc, ok := upstream.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	go func() {
		_, _ = io.Copy(conn, upstream)
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.CloseWrite()
		}
		done <- struct{}{}
	}()
	<-done
	<-done
}

func readAuth(conn net.Conn) (string, bool) {
	var ver [2]byte
	if _, err := io.ReadFull(conn, ver[:]); err != nil || ver[0] != 0x01 {
		return "", false
	}
	user := make([]byte, ver[1])
	if _, err := io.ReadFull(conn, user); err != nil {
		return "", false
	}
	var pl [1]byte
	if _, err := io.ReadFull(conn, pl[:]); err != nil {
		return "", false
	}
	pass := make([]byte, pl[0])
	if _, err := io.ReadFull(conn, pass); err != nil {
		return "", false
	}
	return string(user), true
}
