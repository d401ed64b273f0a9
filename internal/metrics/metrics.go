// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SourcePacketsTotal counts frames read from capture sources
	SourcePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstack_source_packets_total",
			Help: "Total number of frames read from capture sources",
		},
		[]string{"source", "result"}, // result: accepted, filtered
	)

	// DecodePacketsTotal counts decoder outcomes
	DecodePacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstack_decode_packets_total",
			Help: "Total number of frames handled by the decoder",
		},
		[]string{"result"}, // decoded, fragment, dropped
	)

	// HeaderConversionsTotal counts typed header peeks by representation and outcome
	HeaderConversionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstack_header_conversions_total",
			Help: "Total number of headers converted from raw content",
		},
		[]string{"tag", "result"}, // ok, incomplete, incorrect, improper
	)

	// ReassemblyActiveFlows tracks flows awaiting reassembly
	ReassemblyActiveFlows = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pktstack_reassembly_active_flows",
			Help: "Number of flows currently held for reassembly",
		},
		[]string{"kind"}, // ip, tcp
	)

	// ReassemblyDropsTotal counts pieces or flows discarded by reassembly
	ReassemblyDropsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstack_reassembly_drops_total",
			Help: "Total number of fragments, segments or flows dropped during reassembly",
		},
		[]string{"kind", "reason"},
	)

	// ReassembledBytesTotal counts bytes delivered by completed reassemblies
	ReassembledBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstack_reassembled_bytes_total",
			Help: "Total number of bytes delivered by reassembly",
		},
		[]string{"kind"},
	)

	// ReassemblyRegions measures how fragmented a flow was when it was released
	ReassemblyRegions = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pktstack_reassembly_regions",
			Help:    "Number of disjoint regions held by a flow when it was released",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1 .. 512
		},
		[]string{"kind"},
	)

	// SinkBytesTotal counts bytes written by sinks before compression
	SinkBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pktstack_sink_bytes_total",
			Help: "Total number of content bytes written by sinks",
		},
		[]string{"compression"},
	)
)

// Flow kinds used as metric labels.
const (
	KindIP  = "ip"
	KindTCP = "tcp"
)
