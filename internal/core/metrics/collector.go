package metrics

import (
	"errors"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"

	"github.com/dep2p/go-netbridge/internal/core/overlay"
	"github.com/dep2p/go-netbridge/internal/core/pool"
	"github.com/dep2p/go-netbridge/internal/core/retry"
	"github.com/dep2p/go-netbridge/internal/core/session"
	"github.com/dep2p/go-netbridge/pkg/types"
)

var (
	_ overlay.Observer = (*Collector)(nil)
	_ retry.Observer   = (*Collector)(nil)
	_ session.Observer = (*Collector)(nil)
	_ pool.Observer    = (*Collector)(nil)
)

// Collector Prometheus 指标收集器
type Collector struct {
	bandwidth *BandwidthCounter

	circuitsOpened   prometheus.Counter
	circuitsRetired  prometheus.Counter
	circuitsActive   prometheus.Gauge
	bootstrapFailed  prometheus.Counter
	attemptsFailed   *prometheus.CounterVec
	connectExhausted prometheus.Counter
	sessionsOpened   *prometheus.CounterVec
	sessionsClosed   *prometheus.CounterVec
	sessionsActive   *prometheus.GaugeVec
	bytes            *prometheus.CounterVec
	poolHits         prometheus.Counter
	poolMisses       prometheus.Counter
	poolEvicted      prometheus.Counter
}

// CollectorOption 收集器选项
type CollectorOption func(*collectorOptions)

type collectorOptions struct {
	clock clock.Clock
}

// WithClock 设置带宽速率使用的时钟
func WithClock(c clock.Clock) CollectorOption {
	return func(o *collectorOptions) {
		o.clock = c
	}
}

// NewCollector 创建收集器并注册到 reg
//
// 同名指标已注册时复用已有的收集器。
func NewCollector(namespace string, reg prometheus.Registerer, opts ...CollectorOption) (*Collector, error) {
	o := collectorOptions{}
	for _, opt := range opts {
		opt(&o)
	}

	counter := func(subsystem, name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: subsystem, Name: name, Help: help,
		})
	}
	c := &Collector{
		bandwidth:       NewBandwidthCounter(o.clock),
		circuitsOpened:  counter("overlay", "circuits_opened_total", "Overlay circuits created."),
		circuitsRetired: counter("overlay", "circuits_retired_total", "Overlay circuits retired or closed."),
		circuitsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "overlay", Name: "circuits_active", Help: "Overlay circuits currently open.",
		}),
		bootstrapFailed: counter("overlay", "bootstrap_failures_total", "Overlay bootstrap sequences that gave up."),
		attemptsFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "connect", Name: "attempt_failures_total", Help: "Failed connection attempts by error kind.",
		}, []string{"kind"}),
		connectExhausted: counter("connect", "exhausted_total", "Connections that used up their retry budget."),
		sessionsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "opened_total", Help: "Sessions opened.",
		}, []string{"protocol", "route"}),
		sessionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "closed_total", Help: "Sessions closed by outcome.",
		}, []string{"protocol", "route", "result"}),
		sessionsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace, Subsystem: "session", Name: "active", Help: "Sessions currently open.",
		}, []string{"protocol", "route"}),
		bytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Subsystem: "session", Name: "bytes_total", Help: "Bytes moved through sessions.",
		}, []string{"protocol", "direction"}),
		poolHits:    counter("pool", "hits_total", "Acquisitions served by an idle session."),
		poolMisses:  counter("pool", "misses_total", "Acquisitions that had to connect."),
		poolEvicted: counter("pool", "evictions_total", "Idle sessions closed by the pool."),
	}

	if reg == nil {
		return c, nil
	}
	var errs error
	c.circuitsOpened = register(reg, c.circuitsOpened, &errs)
	c.circuitsRetired = register(reg, c.circuitsRetired, &errs)
	c.circuitsActive = register(reg, c.circuitsActive, &errs)
	c.bootstrapFailed = register(reg, c.bootstrapFailed, &errs)
	c.attemptsFailed = register(reg, c.attemptsFailed, &errs)
	c.connectExhausted = register(reg, c.connectExhausted, &errs)
	c.sessionsOpened = register(reg, c.sessionsOpened, &errs)
	c.sessionsClosed = register(reg, c.sessionsClosed, &errs)
	c.sessionsActive = register(reg, c.sessionsActive, &errs)
	c.bytes = register(reg, c.bytes, &errs)
	c.poolHits = register(reg, c.poolHits, &errs)
	c.poolMisses = register(reg, c.poolMisses, &errs)
	c.poolEvicted = register(reg, c.poolEvicted, &errs)
	if errs != nil {
		return nil, errs
	}
	return c, nil
}

// register 注册指标，已存在时返回已注册的实例
func register[T prometheus.Collector](reg prometheus.Registerer, c T, errs *error) T {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing
			}
		}
		*errs = multierr.Append(*errs, err)
	}
	return c
}

// Bandwidth 返回带宽计数器
func (c *Collector) Bandwidth() *BandwidthCounter { return c.bandwidth }

// ============================================================================
//                              overlay.Observer
// ============================================================================

// CircuitOpened 电路已创建
func (c *Collector) CircuitOpened() {
	c.circuitsOpened.Inc()
	c.circuitsActive.Inc()
}

// CircuitRetired 电路已退役
func (c *Collector) CircuitRetired() {
	c.circuitsRetired.Inc()
	c.circuitsActive.Dec()
}

// BootstrapFailed 引导失败
func (c *Collector) BootstrapFailed() { c.bootstrapFailed.Inc() }

// ============================================================================
//                              retry.Observer
// ============================================================================

// AttemptFailed 一次尝试失败
func (c *Collector) AttemptFailed(err error) {
	c.attemptsFailed.WithLabelValues(kindLabel(err)).Inc()
}

// Exhausted 重试预算耗尽
func (c *Collector) Exhausted() { c.connectExhausted.Inc() }

// kindLabel 错误分类的标签值
func kindLabel(err error) string {
	switch types.KindOf(err) {
	case types.ErrInvalidEndpoint:
		return "invalid_endpoint"
	case types.ErrDialFailed:
		return "dial_failed"
	case types.ErrHandshakeFailed:
		return "handshake_failed"
	case types.ErrProtocolNegotiationFailed:
		return "protocol_negotiation_failed"
	case types.ErrOverlayUnavailable:
		return "overlay_unavailable"
	case types.ErrCircuitCreationFailed:
		return "circuit_creation_failed"
	case types.ErrConnectionEstablishmentFailed:
		return "connection_establishment_failed"
	case types.ErrSessionClosed:
		return "session_closed"
	default:
		return "other"
	}
}

// ============================================================================
//                              session.Observer
// ============================================================================

// SessionOpened 会话已建立
func (c *Collector) SessionOpened(proto types.Protocol, route types.RouteKind) {
	c.sessionsOpened.WithLabelValues(proto.String(), route.String()).Inc()
	c.sessionsActive.WithLabelValues(proto.String(), route.String()).Inc()
}

// SessionClosed 会话已关闭
func (c *Collector) SessionClosed(proto types.Protocol, route types.RouteKind, failed bool) {
	result := "ok"
	if failed {
		result = "failed"
	}
	c.sessionsClosed.WithLabelValues(proto.String(), route.String(), result).Inc()
	c.sessionsActive.WithLabelValues(proto.String(), route.String()).Dec()
}

// BytesTransferred 会话收发字节
func (c *Collector) BytesTransferred(proto types.Protocol, in, out int64) {
	c.bandwidth.Record(proto, in, out)
	if in > 0 {
		c.bytes.WithLabelValues(proto.String(), "in").Add(float64(in))
	}
	if out > 0 {
		c.bytes.WithLabelValues(proto.String(), "out").Add(float64(out))
	}
}

// ============================================================================
//                              pool.Observer
// ============================================================================

// PoolHit 复用了空闲会话
func (c *Collector) PoolHit() { c.poolHits.Inc() }

// PoolMiss 需要新建会话
func (c *Collector) PoolMiss() { c.poolMisses.Inc() }

// PoolEvicted 关闭了 n 个空闲会话
func (c *Collector) PoolEvicted(n int) { c.poolEvicted.Add(float64(n)) }
