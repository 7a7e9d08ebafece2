package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// PeersRegistered tracks peers whose handshake first reaches Authorized.
	PeersRegistered = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "registered_total",
			Help:      "Total number of peer proxies registered",
		},
	)

	// PeersActive tracks currently tracked peer proxies.
	PeersActive = promauto.With(Registry).NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "active",
			Help:      "Number of currently tracked peer proxies",
		},
	)

	// PeerEndpointsRegistered tracks endpoint registrations per peer.
	PeerEndpointsRegistered = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "endpoints_registered_total",
			Help:      "Total number of endpoint registrations across all peer proxies",
		},
		[]string{"protocol"},
	)

	// PeerDisconnects tracks disconnects by cause, per spec.md §7's
	// error-kind taxonomy (session-closed, shutdown-requested, ...).
	PeerDisconnects = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "peers",
			Name:      "disconnects_total",
			Help:      "Total number of peer disconnects by cause",
		},
		[]string{"cause"},
	)
)
