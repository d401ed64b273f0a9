package pipeline

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/decoder"
	"firestige.xyz/pktstack/internal/reassembly"
)

// sliceSource replays frames, then reports io.EOF. With loop set it repeats
// the last frame until the context is cancelled.
type sliceSource struct {
	frames []core.RawPacket
	loop   bool
	ctx    context.Context
	next   int
}

func (s *sliceSource) Start(ctx context.Context) error {
	s.ctx = ctx
	return nil
}

func (s *sliceSource) ReadPacket() (core.RawPacket, error) {
	if err := s.ctx.Err(); err != nil {
		return core.RawPacket{}, err
	}
	if s.next >= len(s.frames) {
		if !s.loop || len(s.frames) == 0 {
			return core.RawPacket{}, io.EOF
		}
		return s.frames[len(s.frames)-1], nil
	}
	raw := s.frames[s.next]
	s.next++
	return raw, nil
}

func (s *sliceSource) Stop() error { return nil }

// recordingSink keeps every stream written to it.
type recordingSink struct {
	mu      sync.Mutex
	streams []*reassembly.Stream
	fail    bool
}

func (s *recordingSink) Write(st *reassembly.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.streams = append(s.streams, st)
	if s.fail {
		return errors.New("disk full")
	}
	return nil
}

func (s *recordingSink) Close() error { return nil }

var (
	clientIP = net.IP{10, 0, 0, 1}
	serverIP = net.IP{10, 0, 0, 2}
	epoch    = time.Unix(1700000000, 0)
)

func frame(t *testing.T, ts time.Time, transport gopacket.SerializableLayer, payload []byte) core.RawPacket {
	t.Helper()
	eth := &layers.Ethernet{
		SrcMAC:       net.HardwareAddr{0x00, 0x11, 0x22, 0x33, 0x44, 0x55},
		DstMAC:       net.HardwareAddr{0x66, 0x77, 0x88, 0x99, 0xaa, 0xbb},
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, SrcIP: clientIP, DstIP: serverIP}
	switch l := transport.(type) {
	case *layers.TCP:
		ip.Protocol = layers.IPProtocolTCP
		l.SetNetworkLayerForChecksum(ip)
	case *layers.UDP:
		ip.Protocol = layers.IPProtocolUDP
		l.SetNetworkLayerForChecksum(ip)
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, transport, gopacket.Payload(payload)); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	data := buf.Bytes()
	return core.RawPacket{Data: data, Timestamp: ts, CaptureLen: uint32(len(data)), OrigLen: uint32(len(data))}
}

func segment(t *testing.T, ts time.Time, seq uint32, syn, fin bool, payload string) core.RawPacket {
	return frame(t, ts, &layers.TCP{
		SrcPort: 40000, DstPort: 80, Seq: seq, ACK: !syn, SYN: syn, FIN: fin, Window: 65535, DataOffset: 5,
	}, []byte(payload))
}

func datagram(t *testing.T, ts time.Time) core.RawPacket {
	return frame(t, ts, &layers.UDP{SrcPort: 5353, DstPort: 5353}, []byte("query"))
}

func newPipeline(src *sliceSource, sinks ...*recordingSink) *Pipeline {
	dec := decoder.NewStandardDecoder(decoder.Config{})
	cfg := Config{
		Name:    "test",
		Source:  src,
		Decoder: dec,
		Expirer: dec.Fragments(),
		Streams: reassembly.NewStreamTracker(reassembly.StreamConfig{Timeout: 10 * time.Second}),
	}
	for _, s := range sinks {
		cfg.Sinks = append(cfg.Sinks, s)
	}
	return New(cfg)
}

func streamText(t *testing.T, st *reassembly.Stream) string {
	t.Helper()
	data, err := chunk.Serialize(st.Data)
	if err != nil {
		t.Fatalf("serialize stream: %v", err)
	}
	return string(data)
}

func TestPipelineReassemblesStream(t *testing.T) {
	src := &sliceSource{frames: []core.RawPacket{
		segment(t, epoch, 1000, true, false, ""),
		// Out of order on purpose.
		segment(t, epoch.Add(20*time.Millisecond), 1007, false, false, "world"),
		segment(t, epoch.Add(10*time.Millisecond), 1001, false, false, "hello "),
		datagram(t, epoch.Add(30*time.Millisecond)),
		{Data: []byte{0x01, 0x02}, Timestamp: epoch.Add(40 * time.Millisecond)},
		segment(t, epoch.Add(50*time.Millisecond), 1012, false, true, ""),
	}}
	out := &recordingSink{}
	p := newPipeline(src, out)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(out.streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(out.streams))
	}
	st := out.streams[0]
	if got := streamText(t, st); got != "hello world" {
		t.Errorf("Expected stream %q, got %q", "hello world", got)
	}
	if !st.Complete || st.Gaps != 0 {
		t.Errorf("Expected complete stream without gaps, got complete=%t gaps=%d", st.Complete, st.Gaps)
	}
	if st.Key.SrcPort != 40000 || st.Key.DstPort != 80 {
		t.Errorf("Unexpected stream key %s", st.Key)
	}

	stats := p.Stats()
	if stats.Received != 6 {
		t.Errorf("Expected 6 received packets, got %d", stats.Received)
	}
	if stats.Decoded != 5 || stats.DecodeErrors != 1 {
		t.Errorf("Expected 5 decoded and 1 error, got %d and %d", stats.Decoded, stats.DecodeErrors)
	}
	if stats.Segments != 4 || stats.Datagrams != 1 {
		t.Errorf("Expected 4 segments and 1 datagram, got %d and %d", stats.Segments, stats.Datagrams)
	}
	if stats.Streams != 1 {
		t.Errorf("Expected 1 released stream, got %d", stats.Streams)
	}
}

func TestPipelineReleasesOpenStreamsAtEnd(t *testing.T) {
	src := &sliceSource{frames: []core.RawPacket{
		segment(t, epoch, 1000, true, false, ""),
		segment(t, epoch.Add(time.Millisecond), 1001, false, false, "abc"),
		// Byte 1004..1006 never arrives.
		segment(t, epoch.Add(2*time.Millisecond), 1007, false, false, "xyz"),
	}}
	out := &recordingSink{}
	p := newPipeline(src, out)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(out.streams) != 1 {
		t.Fatalf("Expected 1 stream, got %d", len(out.streams))
	}
	st := out.streams[0]
	if st.Complete {
		t.Error("Stream without FIN must not be complete")
	}
	if st.Gaps != 1 {
		t.Errorf("Expected 1 gap, got %d", st.Gaps)
	}
	if got := streamText(t, st); got != "abc\x00\x00\x00xyz" {
		t.Errorf("Expected zero filled gap, got %q", got)
	}
}

func TestPipelineSweepsIdleStreams(t *testing.T) {
	src := &sliceSource{frames: []core.RawPacket{
		segment(t, epoch, 1000, true, false, ""),
		segment(t, epoch.Add(time.Millisecond), 1001, false, false, "abc"),
		// Capture time moves past the stream timeout.
		datagram(t, epoch.Add(time.Minute)),
		segment(t, epoch.Add(time.Minute+time.Millisecond), 1004, false, true, ""),
	}}
	out := &recordingSink{}
	p := newPipeline(src, out)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// The idle stream is flushed first, the late FIN opens and closes a new one.
	if len(out.streams) != 2 {
		t.Fatalf("Expected 2 streams, got %d", len(out.streams))
	}
	if got := streamText(t, out.streams[0]); got != "abc" {
		t.Errorf("Expected flushed stream %q, got %q", "abc", got)
	}
	if out.streams[0].Complete {
		t.Error("Flushed idle stream must not be complete")
	}
}

func TestPipelineSinkErrors(t *testing.T) {
	src := &sliceSource{frames: []core.RawPacket{
		segment(t, epoch, 1000, true, false, ""),
		segment(t, epoch.Add(time.Millisecond), 1001, false, true, "bye"),
	}}
	failing := &recordingSink{fail: true}
	ok := &recordingSink{}
	p := newPipeline(src, failing, ok)

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if p.Stats().SinkErrors != 1 {
		t.Errorf("Expected 1 sink error, got %d", p.Stats().SinkErrors)
	}
	if len(ok.streams) != 1 {
		t.Errorf("A failing sink must not keep the stream from other sinks, got %d", len(ok.streams))
	}
}

func TestPipelineCancel(t *testing.T) {
	src := &sliceSource{
		frames: []core.RawPacket{
			segment(t, epoch, 1000, true, false, ""),
			segment(t, epoch.Add(time.Millisecond), 1001, false, false, "partial"),
			datagram(t, epoch.Add(2*time.Millisecond)),
		},
		loop: true,
	}
	out := &recordingSink{}
	p := newPipeline(src, out)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	out.mu.Lock()
	defer out.mu.Unlock()
	if len(out.streams) != 1 || out.streams[0].Complete {
		t.Errorf("Expected the open stream to be released incomplete, got %d streams", len(out.streams))
	}
}
