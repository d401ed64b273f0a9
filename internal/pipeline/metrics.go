package pipeline

import (
	"sync/atomic"
)

// Metrics contains per-pipeline counters. They are written by the processing
// loop and may be read from any goroutine.
type Metrics struct {
	Received     atomic.Uint64
	Decoded      atomic.Uint64
	DecodeErrors atomic.Uint64
	Fragments    atomic.Uint64
	Segments     atomic.Uint64
	Datagrams    atomic.Uint64
	StreamErrors atomic.Uint64
	Streams      atomic.Uint64
	SinkErrors   atomic.Uint64
}
