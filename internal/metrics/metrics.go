// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Streams tracks the number of configured streams
	Streams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_streams",
			Help: "Number of configured streams",
		},
	)

	// StreamsInCollections tracks streams that are members of a collection
	StreamsInCollections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_streams_in_collections",
			Help: "Number of streams that are members of a stream collection",
		},
	)

	// StreamsWithWarnings tracks streams with operational warnings
	StreamsWithWarnings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_streams_with_warnings",
			Help: "Number of streams with operational warnings",
		},
	)

	// Collections tracks the number of configured stream collections
	Collections = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_collections",
			Help: "Number of configured stream collections",
		},
	)

	// RulesInstalled tracks stream rules installed in the switch
	RulesInstalled = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_rules_installed",
			Help: "Number of stream classification rules installed",
		},
	)

	// FlowsAllocated tracks ingress flows held by streams and collections
	FlowsAllocated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_flows_allocated",
			Help: "Number of ingress flows held by streams and collections",
		},
	)

	// CountersAllocated tracks ingress counters held by streams and collections
	CountersAllocated = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_counters_allocated",
			Help: "Number of ingress counter sets held by streams and collections",
		},
	)

	// ClientsAttached tracks attached client actions by client
	ClientsAttached = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tsnstream_clients_attached",
			Help: "Number of streams and collections with the client attached",
		},
		[]string{"client"},
	)

	// HALResources tracks switch resource occupancy
	HALResources = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tsnstream_hal_resources",
			Help: "Switch resource occupancy (state=in_use|capacity)",
		},
		[]string{"resource", "state"},
	)

	// NotificationsTotal counts change notifications by object and change
	NotificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsnstream_notifications_total",
			Help: "Total number of stream and collection change notifications",
		},
		[]string{"object", "change"},
	)

	// EventBusQueued tracks events waiting per partition
	EventBusQueued = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "tsnstream_eventbus_queued",
			Help: "Events waiting in each event bus partition",
		},
		[]string{"partition"},
	)

	// EventBusDropped tracks events dropped on full partitions
	EventBusDropped = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tsnstream_eventbus_dropped",
			Help: "Events dropped because a partition queue was full",
		},
	)

	// ControlRequestsTotal counts control channel requests by method and result
	ControlRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsnstream_control_requests_total",
			Help: "Total number of control channel requests",
		},
		[]string{"method", "result"},
	)

	// ControlLatencySeconds measures control request handling time
	ControlLatencySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tsnstream_control_latency_seconds",
			Help:    "Latency of control channel requests in seconds",
			Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10µs to ~2.6s
		},
		[]string{"method"},
	)

	// ReplayEntriesTotal counts replayed entries by object and result
	ReplayEntriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsnstream_replay_entries_total",
			Help: "Total number of declared entries replayed into the engine",
		},
		[]string{"object", "result"},
	)

	// ConfigReloadsTotal counts configuration reloads by result
	ConfigReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tsnstream_config_reloads_total",
			Help: "Total number of configuration reloads",
		},
		[]string{"result"},
	)
)

// Result label values.
const (
	ResultOK    = "ok"
	ResultError = "error"
)
