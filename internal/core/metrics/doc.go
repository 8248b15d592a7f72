// Package metrics 收集桥接层的运行指标
//
// 两部分：
//
//	BandwidthCounter  按协议统计累计字节与最近 60 秒的平均速率
//	Collector         Prometheus 计数器与仪表，实现各模块的 Observer
//
// Collector 同时实现 overlay.Observer、retry.Observer、session.Observer
// 与 pool.Observer，由 Fx 模块注入到对应组件。
//
//	reg := prometheus.NewRegistry()
//	c, _ := metrics.NewCollector("netbridge", reg)
//	c.SessionOpened(types.ProtocolTLS, types.RouteDirect)
//
//	stats := c.Bandwidth().Totals()
//	fmt.Printf("in=%d out=%d rate=%.1f B/s\n", stats.TotalIn, stats.TotalOut, stats.RateIn)
package metrics
