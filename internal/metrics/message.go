package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// MessagesPacked tracks message.Pack calls by parcel kind.
	MessagesPacked = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "packed_total",
			Help:      "Total number of parcels packed",
		},
		[]string{"kind"}, // application, platform
	)

	// MessagesUnpacked tracks message.Unpack outcomes.
	MessagesUnpacked = promauto.With(Registry).NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "unpacked_total",
			Help:      "Total number of parcels unpacked by outcome",
		},
		[]string{"status"}, // ok, truncated, malformed, unauthorized
	)

	// ReplaysDetected tracks nonce-cache rejections, realizing spec.md §9's
	// resolved OPEN ITEM.
	ReplaysDetected = promauto.With(Registry).NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "replays_detected_total",
			Help:      "Total number of replayed (source, timestamp) pairs rejected",
		},
	)

	// MessageSize tracks packed transport-string sizes.
	MessageSize = promauto.With(Registry).NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "messages",
			Name:      "size_bytes",
			Help:      "Packed message size in bytes",
			Buckets:   prometheus.ExponentialBuckets(64, 4, 10),
		},
	)
)
