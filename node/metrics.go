package node

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds one node's collectors on a private registry, so several
// nodes can run in one process.
type Metrics struct {
	Registry *prometheus.Registry

	blocksProcessed *prometheus.CounterVec
	blockRejects    *prometheus.CounterVec
	chainHeight     prometheus.Gauge
	peersConnected  prometheus.Gauge
	peerBans        prometheus.Counter
	syncRequests    prometheus.Counter
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		blocksProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcnode",
			Name:      "blocks_processed_total",
			Help:      "Blocks handed to the block processor, by outcome.",
		}, []string{"result"}),
		blockRejects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "dcnode",
			Name:      "block_rejects_total",
			Help:      "Rejected blocks by consensus error code.",
		}, []string{"code"}),
		chainHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dcnode",
			Name:      "chain_height",
			Help:      "Height of the active tip.",
		}),
		peersConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "dcnode",
			Name:      "peers_connected",
			Help:      "Peers that completed the handshake.",
		}),
		peerBans: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dcnode",
			Name:      "peer_bans_total",
			Help:      "Peers disconnected for crossing the ban threshold.",
		}),
		syncRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "dcnode",
			Name:      "getblocks_sent_total",
			Help:      "Getblocks requests sent to catch up with a peer.",
		}),
	}
	m.Registry.MustRegister(
		m.blocksProcessed,
		m.blockRejects,
		m.chainHeight,
		m.peersConnected,
		m.peerBans,
		m.syncRequests,
	)
	return m
}
