// Package metrics declares brypt's Prometheus counters, gauges, and
// histograms, adapted from the teacher's internal/metrics package: one
// file per subsystem, all registered against a single package-level
// registry via promauto.With.
package metrics

import "github.com/prometheus/client_golang/prometheus"

const namespace = "brypt"

// Registry is the registry every metric in this package registers
// against, mirroring the teacher's package-level Registry so a
// standalone metrics server (StartServer) and an embedding process's own
// registry can both reach it without a global default registry
// collision.
var Registry = prometheus.NewRegistry()
