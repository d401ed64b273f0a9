package reassembly

import (
	"fmt"
	"log/slog"
	"net/netip"
	"sync"
	"time"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/metrics"
)

// StreamKey identifies one direction of a TCP connection.
type StreamKey struct {
	SrcIP   netip.Addr
	DstIP   netip.Addr
	SrcPort uint16
	DstPort uint16
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s-%s",
		netip.AddrPortFrom(k.SrcIP, k.SrcPort), netip.AddrPortFrom(k.DstIP, k.DstPort))
}

// Stream is a released TCP byte stream.
type Stream struct {
	Key       StreamKey
	Data      chunk.Chunk // from the initial sequence number up to FIN, gaps zero filled
	Complete  bool        // closed by FIN or RST with no gaps
	Gaps      int         // missing ranges
	Held      core.Length // bytes actually received
	FirstSeen time.Time
	LastSeen  time.Time
}

// StreamConfig configures TCP stream reassembly.
type StreamConfig struct {
	Timeout    time.Duration // idle time before a stream is released, default 120s
	MaxStreams int           // default 4096
	MaxBytes   int           // per stream, default 16 MiB
}

type streamState struct {
	key       StreamKey
	buf       *Buffer
	isn       uint32
	synSeen   bool
	closed    bool
	firstSeen time.Time
	lastSeen  time.Time
}

// StreamTracker reassembles TCP payloads per direction, keyed by sequence
// number relative to the initial one.
type StreamTracker struct {
	mu      sync.Mutex
	streams map[StreamKey]*streamState
	config  StreamConfig
	logger  *slog.Logger
}

// NewStreamTracker creates a tracker, applying defaults to cfg.
func NewStreamTracker(cfg StreamConfig) *StreamTracker {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.MaxStreams <= 0 {
		cfg.MaxStreams = 4096
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = 16 << 20
	}
	return &StreamTracker{
		streams: make(map[StreamKey]*streamState),
		config:  cfg,
		logger:  slog.Default().With("component", "stream-tracker"),
	}
}

// Add feeds one TCP segment. A stream is returned once FIN or RST closes it.
func (t *StreamTracker) Add(ip core.IPHeader, tcp core.TransportHeader, payload chunk.Chunk, ts time.Time) (*Stream, error) {
	if tcp.Protocol != core.ProtocolTCP {
		return nil, fmt.Errorf("%w: protocol %d is not TCP", core.ErrUnsupportedProto, tcp.Protocol)
	}
	key := StreamKey{SrcIP: ip.SrcIP, DstIP: ip.DstIP, SrcPort: tcp.SrcPort, DstPort: tcp.DstPort}
	syn := tcp.TCPFlags&core.TCPFlagSYN != 0

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.streams[key]
	if !ok {
		if len(t.streams) >= t.config.MaxStreams {
			metrics.ReassemblyDropsTotal.WithLabelValues(metrics.KindTCP, "too_many_streams").Inc()
			return nil, fmt.Errorf("%w: %d streams tracked", core.ErrReassemblyLimit, len(t.streams))
		}
		st = &streamState{key: key, buf: NewBuffer(0), isn: tcp.SeqNum, firstSeen: ts}
		if syn {
			st.isn++
			st.synSeen = true
		}
		t.streams[key] = st
		metrics.ReassemblyActiveFlows.WithLabelValues(metrics.KindTCP).Inc()
	} else if syn && !st.synSeen {
		if err := st.rebase(tcp.SeqNum + 1); err != nil {
			return nil, err
		}
	}
	st.lastSeen = ts

	rel := int32(tcp.SeqNum - st.isn)
	if syn {
		rel++
	}
	if payload != nil && payload.Len() > 0 {
		switch {
		case rel < 0:
			// Retransmission of data from before the stream start.
			metrics.ReassemblyDropsTotal.WithLabelValues(metrics.KindTCP, "before_start").Inc()
		case int(rel)+payload.Len().Bytes() > t.config.MaxBytes:
			metrics.ReassemblyDropsTotal.WithLabelValues(metrics.KindTCP, "too_large").Inc()
			return nil, fmt.Errorf("%w: stream %s beyond %d bytes", core.ErrReassemblyLimit, key, t.config.MaxBytes)
		default:
			if err := st.buf.SetData(core.Bytes(int(rel)), payload); err != nil {
				return nil, err
			}
		}
	}

	if tcp.TCPFlags&core.TCPFlagFIN != 0 {
		// FIN sits just past the last data byte, so it fixes the stream length.
		end := core.Bytes(int(rel))
		if payload != nil {
			end += payload.Len()
		}
		st.buf.SetExpected(end)
	}
	if tcp.TCPFlags&(core.TCPFlagFIN|core.TCPFlagRST) != 0 {
		st.closed = true
		return t.release(st), nil
	}
	return nil, nil
}

// rebase moves received data after a late SYN reveals the real initial
// sequence number.
func (st *streamState) rebase(isn uint32) error {
	delta := core.Bytes(int(int32(st.isn - isn)))
	buf := NewBuffer(0)
	for _, r := range st.buf.Regions() {
		if r.Offset+delta < 0 {
			continue
		}
		if err := buf.SetData(r.Offset+delta, r.Data); err != nil {
			return err
		}
	}
	st.buf, st.isn, st.synSeen = buf, isn, true
	return nil
}

// Flush releases streams idle for longer than the timeout at now.
func (t *StreamTracker) Flush(now time.Time) []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()

	var out []*Stream
	for _, st := range t.streams {
		if now.Sub(st.lastSeen) > t.config.Timeout {
			out = append(out, t.release(st))
		}
	}
	if len(out) > 0 {
		t.logger.Debug("released idle streams", "count", len(out))
	}
	return out
}

// Close releases every remaining stream.
func (t *StreamTracker) Close() []*Stream {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]*Stream, 0, len(t.streams))
	for _, st := range t.streams {
		out = append(out, t.release(st))
	}
	return out
}

// Active returns the number of tracked streams.
func (t *StreamTracker) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.streams)
}

// release removes st and renders it. Must be called with t.mu held.
func (t *StreamTracker) release(st *streamState) *Stream {
	delete(t.streams, st.key)
	metrics.ReassemblyActiveFlows.WithLabelValues(metrics.KindTCP).Dec()

	regions := st.buf.Regions()
	gaps := max(len(regions)-1, 0)
	if len(regions) > 0 && regions[0].Offset > 0 {
		gaps++
	}
	if exp := st.buf.Expected(); exp > 0 && (len(regions) == 0 || regions[len(regions)-1].End() < exp) {
		// Data missing between the last received byte and FIN.
		gaps++
	}

	s := &Stream{
		Key:       st.key,
		Data:      st.buf.Filled(),
		Complete:  st.closed && gaps == 0,
		Gaps:      gaps,
		Held:      st.buf.Held(),
		FirstSeen: st.firstSeen,
		LastSeen:  st.lastSeen,
	}
	metrics.ReassemblyRegions.WithLabelValues(metrics.KindTCP).Observe(float64(len(regions)))
	metrics.ReassembledBytesTotal.WithLabelValues(metrics.KindTCP).Add(float64(s.Held.Bytes()))
	return s
}
