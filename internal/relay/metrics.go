package relay

import (
	"io"

	"github.com/VictoriaMetrics/metrics"
	"github.com/r2northstar/cncnet-relay/internal/peertable"
)

// serverMetrics holds the process metrics exported by the relay, one
// *metrics.Set per server instance.
type serverMetrics struct {
	set *metrics.Set

	clients      *metrics.Gauge
	packetsTotal *metrics.Counter
	bytesTotal   *metrics.Counter
	forwardDrops struct {
		unknownTarget *metrics.Counter
		selfAddressed *metrics.Counter
		full          *metrics.Counter
	}
	proxyRejects *metrics.Counter
	resetTotal   struct {
		success *metrics.Counter
		badAuth *metrics.Counter
	}
}

func newServerMetrics(s *Server) *serverMetrics {
	set := metrics.NewSet()

	m := &serverMetrics{set: set}
	m.clients = set.NewGauge(`relay_clients`, func() float64 {
		return float64(s.peers.Count())
	})
	m.packetsTotal = set.NewCounter(`relay_packets_total`)
	m.bytesTotal = set.NewCounter(`relay_bytes_total`)
	m.forwardDrops.unknownTarget = set.GetOrCreateCounter(`relay_forward_drops_total{reason="unknown_target"}`)
	m.forwardDrops.selfAddressed = set.GetOrCreateCounter(`relay_forward_drops_total{reason="self_addressed"}`)
	m.forwardDrops.full = set.GetOrCreateCounter(`relay_forward_drops_total{reason="table_full"}`)
	m.proxyRejects = set.GetOrCreateCounter(`relay_proxy_rejects_total`)
	m.resetTotal.success = set.GetOrCreateCounter(`relay_reset_total{result="success"}`)
	m.resetTotal.badAuth = set.GetOrCreateCounter(`relay_reset_total{result="bad_auth"}`)

	for _, g := range []peertable.GameTag{
		peertable.GameUnknown, peertable.GameCNC95, peertable.GameRA95,
		peertable.GameTS, peertable.GameTSDTA, peertable.GameRA2,
	} {
		g := g
		set.NewGauge(`relay_clients_by_game{game="`+g.QueryKey()+`"}`, func() float64 {
			return float64(s.peers.GameCounts()[g.QueryKey()])
		})
	}

	return m
}

// WritePrometheus writes the current metrics to w in Prometheus text format.
func (m *serverMetrics) WritePrometheus(w io.Writer) {
	m.set.WritePrometheus(w)
}
