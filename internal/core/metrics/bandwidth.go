package metrics

import (
	"sync"
	"sync/atomic"

	"github.com/benbjohnson/clock"

	"github.com/dep2p/go-netbridge/pkg/types"
)

// meterPair 单个方向的累计值与速率
type meterPair struct {
	total atomic.Int64
	rate  *RateMeter
}

func newMeterPair(clk clock.Clock) *meterPair {
	return &meterPair{rate: NewRateMeter(clk)}
}

func (m *meterPair) add(n int64) {
	if n <= 0 {
		return
	}
	m.total.Add(n)
	m.rate.Add(n)
}

func (m *meterPair) reset() {
	m.total.Store(0)
	m.rate.Reset()
}

// BandwidthCounter 带宽计数器
//
// 跟踪会话收发的字节，全局与按协议两级。
type BandwidthCounter struct {
	clock clock.Clock

	totalIn  *meterPair
	totalOut *meterPair

	mu          sync.RWMutex
	protocolIn  map[types.Protocol]*meterPair
	protocolOut map[types.Protocol]*meterPair
}

// NewBandwidthCounter 创建带宽计数器
func NewBandwidthCounter(clk clock.Clock) *BandwidthCounter {
	if clk == nil {
		clk = clock.New()
	}
	return &BandwidthCounter{
		clock:       clk,
		totalIn:     newMeterPair(clk),
		totalOut:    newMeterPair(clk),
		protocolIn:  make(map[types.Protocol]*meterPair),
		protocolOut: make(map[types.Protocol]*meterPair),
	}
}

// pair 取协议计数器，不存在时创建（双重检查）
func (bwc *BandwidthCounter) pair(m map[types.Protocol]*meterPair, proto types.Protocol) *meterPair {
	bwc.mu.RLock()
	p := m[proto]
	bwc.mu.RUnlock()
	if p != nil {
		return p
	}

	bwc.mu.Lock()
	defer bwc.mu.Unlock()
	if p = m[proto]; p == nil {
		p = newMeterPair(bwc.clock)
		m[proto] = p
	}
	return p
}

// Record 记录一次传输
func (bwc *BandwidthCounter) Record(proto types.Protocol, in, out int64) {
	if in > 0 {
		bwc.totalIn.add(in)
		bwc.pair(bwc.protocolIn, proto).add(in)
	}
	if out > 0 {
		bwc.totalOut.add(out)
		bwc.pair(bwc.protocolOut, proto).add(out)
	}
}

// Totals 返回总带宽统计
func (bwc *BandwidthCounter) Totals() Stats {
	return Stats{
		TotalIn:  bwc.totalIn.total.Load(),
		TotalOut: bwc.totalOut.total.Load(),
		RateIn:   bwc.totalIn.rate.Rate(),
		RateOut:  bwc.totalOut.rate.Rate(),
	}
}

// ForProtocol 返回协议带宽统计
func (bwc *BandwidthCounter) ForProtocol(proto types.Protocol) Stats {
	bwc.mu.RLock()
	in := bwc.protocolIn[proto]
	out := bwc.protocolOut[proto]
	bwc.mu.RUnlock()

	var s Stats
	if in != nil {
		s.TotalIn = in.total.Load()
		s.RateIn = in.rate.Rate()
	}
	if out != nil {
		s.TotalOut = out.total.Load()
		s.RateOut = out.rate.Rate()
	}
	return s
}

// ByProtocol 返回所有协议的带宽统计
func (bwc *BandwidthCounter) ByProtocol() map[types.Protocol]Stats {
	bwc.mu.RLock()
	protos := make(map[types.Protocol]struct{}, len(bwc.protocolIn)+len(bwc.protocolOut))
	for p := range bwc.protocolIn {
		protos[p] = struct{}{}
	}
	for p := range bwc.protocolOut {
		protos[p] = struct{}{}
	}
	bwc.mu.RUnlock()

	out := make(map[types.Protocol]Stats, len(protos))
	for p := range protos {
		out[p] = bwc.ForProtocol(p)
	}
	return out
}

// Reset 重置所有统计
func (bwc *BandwidthCounter) Reset() {
	bwc.mu.Lock()
	defer bwc.mu.Unlock()
	bwc.totalIn.reset()
	bwc.totalOut.reset()
	bwc.protocolIn = make(map[types.Protocol]*meterPair)
	bwc.protocolOut = make(map[types.Protocol]*meterPair)
}
