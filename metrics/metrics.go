// Package metrics defines the Prometheus collectors exported by the
// dispersy process, registered against a caller-supplied registry so
// multiple Dispatchers in the same process (tests) don't collide on
// prometheus's default global registry.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics bundles the collectors the dispersy dispatcher and sync loop
// update. TriggerActive is registered but no package sets it, so it
// stays at 0.
type Metrics struct {
	DropPacketTotal   *prometheus.CounterVec
	DelayMessageTotal *prometheus.CounterVec
	SyncSentTotal     prometheus.Counter
	TriggerActive     prometheus.Gauge
	GlobalTime        *prometheus.GaugeVec
}

// New creates and registers the collector set against reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DropPacketTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispersy_drop_packet_total",
			Help: "Packets discarded by reason.",
		}, []string{"reason"}),
		DelayMessageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dispersy_delay_message_total",
			Help: "Messages held on the Trigger table by kind.",
		}, []string{"kind"}),
		SyncSentTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dispersy_sync_sent_total",
			Help: "Messages forwarded in response to a peer's Bloom sync filter.",
		}),
		TriggerActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "dispersy_trigger_active",
			Help: "Currently registered Trigger table entries, across all communities.",
		}),
		GlobalTime: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dispersy_global_time",
			Help: "Current Timeline global-time counter, per community.",
		}, []string{"community"}),
	}
	reg.MustRegister(m.DropPacketTotal, m.DelayMessageTotal, m.SyncSentTotal, m.TriggerActive, m.GlobalTime)
	return m
}
