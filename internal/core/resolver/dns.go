package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/miekg/dns"
	"go.uber.org/multierr"
)

// DNS 向自定义 DNS 服务器查询 A 与 AAAA 记录
//
// 服务器按顺序尝试，首个给出权威答复（包括 NXDOMAIN）的服务器结果即为最终结果。
type DNS struct {
	servers []string
	client  *dns.Client
}

// NewDNS 创建 DNS 客户端解析器，servers 为 host:port
func NewDNS(servers []string, timeout time.Duration) *DNS {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &DNS{
		servers: append([]string(nil), servers...),
		client:  &dns.Client{Net: "udp", Timeout: timeout},
	}
}

// LookupHost 实现 Resolver
func (d *DNS) LookupHost(ctx context.Context, host string) ([]string, error) {
	addrs, _, err := d.lookupTTL(ctx, host)
	return addrs, err
}

// lookupTTL 返回地址和记录中最小的 TTL
func (d *DNS) lookupTTL(ctx context.Context, host string) ([]string, time.Duration, error) {
	if len(d.servers) == 0 {
		return nil, 0, ErrNoNameserver
	}

	var errs error
	for _, server := range d.servers {
		addrs, ttl, err := d.queryServer(ctx, server, host)
		if err == nil || errors.Is(err, ErrNotFound) {
			return addrs, ttl, err
		}
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		errs = multierr.Append(errs, fmt.Errorf("%s: %w", server, err))
	}
	return nil, 0, errs
}

func (d *DNS) queryServer(ctx context.Context, server, host string) ([]string, time.Duration, error) {
	var (
		addrs  []string
		minTTL uint32
		found  bool
	)
	nxdomain := 0
	for _, qtype := range []uint16{dns.TypeA, dns.TypeAAAA} {
		msg := new(dns.Msg)
		msg.SetQuestion(dns.Fqdn(host), qtype)
		msg.RecursionDesired = true

		resp, _, err := d.client.ExchangeContext(ctx, msg, server)
		if err != nil {
			return nil, 0, err
		}
		switch resp.Rcode {
		case dns.RcodeSuccess:
		case dns.RcodeNameError:
			nxdomain++
			continue
		default:
			return nil, 0, fmt.Errorf("rcode %s", dns.RcodeToString[resp.Rcode])
		}

		for _, rr := range resp.Answer {
			var ip string
			switch v := rr.(type) {
			case *dns.A:
				ip = v.A.String()
			case *dns.AAAA:
				ip = v.AAAA.String()
			default:
				continue
			}
			addrs = append(addrs, ip)
			if ttl := rr.Header().Ttl; !found || ttl < minTTL {
				minTTL = ttl
			}
			found = true
		}
	}
	if len(addrs) == 0 {
		if nxdomain > 0 {
			return nil, 0, fmt.Errorf("%w: %s (NXDOMAIN)", ErrNotFound, host)
		}
		return nil, 0, fmt.Errorf("%w: %s", ErrNotFound, host)
	}
	return addrs, time.Duration(minTTL) * time.Second, nil
}
