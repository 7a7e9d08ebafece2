package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// EndpointsActive tracks endpoints currently tracked by network.Manager.
	EndpointsActive = promauto.With(Registry).NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "endpoints_active",
			Help:      "Number of currently active endpoints by protocol",
		},
		[]string{"protocol"},
	)

	// ConnectionsFailed tracks connection-failed events emitted by
	// endpoints after retry exhaustion.
	ConnectionsFailed = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "connections_failed_total",
			Help:      "Total number of connection-failed events emitted",
		},
		[]string{"protocol"},
	)

	// FramesSent tracks Endpoint.Send calls by outcome.
	FramesSent = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "network",
			Name:      "frames_sent_total",
			Help:      "Total number of framed sends by outcome",
		},
		[]string{"protocol", "status"}, // ok, no-endpoint
	)
)
