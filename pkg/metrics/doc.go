// Package metrics exposes lattice host observability: Prometheus
// gauges/counters/histograms for component and provider inventory,
// invocation throughput and latency, control-protocol request
// outcomes, provider lifecycle, and reconciler throughput, plus
// health/readiness/liveness HTTP handlers. The package only builds the
// handlers; pkg/host starts no HTTP listener, so nothing in this
// repository serves them or /metrics.
//
// Collector snapshots a host-supplied Source into the inventory
// gauges on a fixed interval, mirroring how a scrape-based exporter
// samples live state rather than tracking every transition inline.
package metrics
