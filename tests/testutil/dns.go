package testutil

import (
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/miekg/dns"
)

// DNSServer 进程内的权威 DNS 服务（UDP）
//
// 只应答 A 与 AAAA，未登记的名称返回 NXDOMAIN。
type DNSServer struct {
	srv     *dns.Server
	addr    string
	ttl     uint32
	queries atomic.Int64

	mu      sync.Mutex
	records map[string][]string
}

// NewDNSServer 启动 DNS 服务，records 的键为主机名（不带结尾的点）
func NewDNSServer(t testing.TB, ttl uint32, records map[string][]string) *DNSServer {
	t.Helper()
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen udp: %v", err)
	}
	s := &DNSServer{
		addr:    pc.LocalAddr().String(),
		ttl:     ttl,
		records: make(map[string][]string),
	}
	for host, addrs := range records {
		s.Set(host, addrs...)
	}

	started := make(chan struct{})
	s.srv = &dns.Server{
		PacketConn:        pc,
		Handler:           dns.HandlerFunc(s.handle),
		NotifyStartedFunc: func() { close(started) },
	}
	go func() { _ = s.srv.ActivateAndServe() }()
	<-started
	t.Cleanup(func() { _ = s.srv.Shutdown() })
	return s
}

// Addr 返回服务地址
func (s *DNSServer) Addr() string {
	return s.addr
}

// Queries 返回收到的查询数
func (s *DNSServer) Queries() int {
	return int(s.queries.Load())
}

// Set 设置 host 的地址
func (s *DNSServer) Set(host string, addrs ...string) {
	s.mu.Lock()
	s.records[dns.Fqdn(strings.ToLower(host))] = addrs
	s.mu.Unlock()
}

func (s *DNSServer) handle(w dns.ResponseWriter, req *dns.Msg) {
	s.queries.Add(1)
	resp := new(dns.Msg)
	resp.SetReply(req)
	resp.Authoritative = true

	if len(req.Question) != 1 {
		resp.Rcode = dns.RcodeFormatError
		_ = w.WriteMsg(resp)
		return
	}
	q := req.Question[0]

	s.mu.Lock()
	addrs, ok := s.records[strings.ToLower(q.Name)]
	s.mu.Unlock()
	if !ok {
		resp.Rcode = dns.RcodeNameError
		_ = w.WriteMsg(resp)
		return
	}

	hdr := dns.RR_Header{Name: q.Name, Rrtype: q.Qtype, Class: dns.ClassINET, Ttl: s.ttl}
	for _, a := range addrs {
		ip := net.ParseIP(a)
		if ip == nil {
			continue
		}
		switch {
		case q.Qtype == dns.TypeA && ip.To4() != nil:
			resp.Answer = append(resp.Answer, &dns.A{Hdr: hdr, A: ip.To4()})
		case q.Qtype == dns.TypeAAAA && ip.To4() == nil:
			resp.Answer = append(resp.Answer, &dns.AAAA{Hdr: hdr, AAAA: ip})
		}
	}
	_ = w.WriteMsg(resp)
}
