package testutil

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// ============================================================================
//                              回显服务
// ============================================================================

// tcpServer 接受连接并跟踪，Close 时关闭监听与全部连接
type tcpServer struct {
	ln       net.Listener
	accepted atomic.Int64
	active   atomic.Int64

	mu    sync.Mutex
	conns map[net.Conn]struct{}
	wg    sync.WaitGroup
}

func startServer(t testing.TB, tlsCfg *tls.Config, handle func(net.Conn)) *tcpServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	if tlsCfg != nil {
		ln = tls.NewListener(ln, tlsCfg)
	}
	s := &tcpServer{
		ln:    ln,
		conns: make(map[net.Conn]struct{}),
	}
	s.wg.Add(1)
	go s.serve(handle)
	t.Cleanup(s.Close)
	return s
}

func (s *tcpServer) serve(handle func(net.Conn)) {
	defer s.wg.Done()
	for {
		conn, err := s.ln.Accept()
		if err != nil {
			return
		}
		s.accepted.Add(1)
		s.active.Add(1)
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
				s.active.Add(-1)
				_ = conn.Close()
			}()
			handle(conn)
		}()
	}
}

// Addr 返回监听地址
func (s *tcpServer) Addr() string {
	return s.ln.Addr().String()
}

// Port 返回监听端口
func (s *tcpServer) Port() int {
	_, p, _ := net.SplitHostPort(s.Addr())
	n, _ := strconv.Atoi(p)
	return n
}

// Accepted 返回累计接受的连接数
func (s *tcpServer) Accepted() int {
	return int(s.accepted.Load())
}

// Active 返回当前未关闭的连接数
func (s *tcpServer) Active() int {
	return int(s.active.Load())
}

// Close 关闭监听与全部连接
func (s *tcpServer) Close() {
	_ = s.ln.Close()
	s.mu.Lock()
	for c := range s.conns {
		_ = c.Close()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// ============================================================================
//                              回显服务
// ============================================================================

// EchoServer TCP/TLS 回显服务
//
// 每个连接先发送 Greeting（如果有），然后原样回显收到的字节。
type EchoServer struct {
	*tcpServer
}

// EchoOption 服务选项
type EchoOption func(*echoOptions)

type echoOptions struct {
	greeting []byte
	tlsCfg   *tls.Config
}

// WithGreeting 连接建立后先发送 greeting
func WithGreeting(greeting []byte) EchoOption {
	return func(o *echoOptions) {
		o.greeting = greeting
	}
}

// WithTLS 以 TLS 提供服务
func WithTLS(cfg *tls.Config) EchoOption {
	return func(o *echoOptions) {
		o.tlsCfg = cfg
	}
}

// NewEchoServer 在 127.0.0.1 随机端口启动回显服务，测试结束时关闭
func NewEchoServer(t testing.TB, opts ...EchoOption) *EchoServer {
	t.Helper()
	var o echoOptions
	for _, opt := range opts {
		opt(&o)
	}
	srv := startServer(t, o.tlsCfg, func(conn net.Conn) {
		if len(o.greeting) > 0 {
			if _, err := conn.Write(o.greeting); err != nil {
				return
			}
		}
		_, _ = io.Copy(conn, conn)
	})
	return &EchoServer{tcpServer: srv}
}

// ============================================================================
//                              自签名证书
// ============================================================================

// Certificate 自签名证书与对应的信任池
type Certificate struct {
	TLS  tls.Certificate
	Pool *x509.CertPool
}

// NewCertificate 为 hosts 生成自签名证书（IP 或域名）
func NewCertificate(t testing.TB, hosts ...string) *Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	tmpl := &x509.Certificate{
		SerialNumber:          big.NewInt(time.Now().UnixNano()),
		Subject:               pkix.Name{CommonName: "netbridge-test"},
		NotBefore:             time.Now().Add(-time.Hour),
		NotAfter:              time.Now().Add(time.Hour),
		KeyUsage:              x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:           []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		BasicConstraintsValid: true,
		IsCA:                  true,
	}
	for _, h := range hosts {
		if ip := net.ParseIP(h); ip != nil {
			tmpl.IPAddresses = append(tmpl.IPAddresses, ip)
		} else {
			tmpl.DNSNames = append(tmpl.DNSNames, h)
		}
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatalf("create certificate: %v", err)
	}
	leaf, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatalf("parse certificate: %v", err)
	}
	pool := x509.NewCertPool()
	pool.AddCert(leaf)
	return &Certificate{
		TLS:  tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key, Leaf: leaf},
		Pool: pool,
	}
}

// ServerConfig 返回服务端 TLS 配置，nextProtos 为空时不协商 ALPN
func (c *Certificate) ServerConfig(nextProtos ...string) *tls.Config {
	return &tls.Config{
		Certificates: []tls.Certificate{c.TLS},
		NextProtos:   nextProtos,
		MinVersion:   tls.VersionTLS12,
	}
}
