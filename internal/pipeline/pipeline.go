// Package pipeline drives one capture through decoding, TCP stream
// reassembly and the sinks.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/decoder"
	"firestige.xyz/pktstack/internal/reassembly"
	"firestige.xyz/pktstack/internal/sink"
	"firestige.xyz/pktstack/internal/source"
)

// Expirer drops reassembly state older than the timeout at now.
type Expirer interface {
	Expire(now time.Time) int
}

// Pipeline is a two-stage chain: a capture loop feeding a single processing
// loop that owns the decoder and the stream tracker.
type Pipeline struct {
	name          string
	source        source.Source
	decoder       decoder.Decoder
	expirer       Expirer
	streams       *reassembly.StreamTracker
	sinks         []sink.Sink
	flushInterval time.Duration
	metrics       *Metrics
	logger        *slog.Logger

	lastSweep time.Time

	// Channel for backpressure control
	rawPacketChan chan core.RawPacket
}

// Config contains pipeline configuration.
type Config struct {
	Name          string
	Source        source.Source
	Decoder       decoder.Decoder
	Expirer       Expirer // optional, usually the decoder's fragment reassembler
	Streams       *reassembly.StreamTracker
	Sinks         []sink.Sink
	BufferSize    int           // raw packet channel buffer size
	FlushInterval time.Duration // capture time between expiry sweeps, default 1s
}

// New creates a new pipeline.
func New(cfg Config) *Pipeline {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = time.Second
	}
	if cfg.Streams == nil {
		cfg.Streams = reassembly.NewStreamTracker(reassembly.StreamConfig{})
	}
	return &Pipeline{
		name:          cfg.Name,
		source:        cfg.Source,
		decoder:       cfg.Decoder,
		expirer:       cfg.Expirer,
		streams:       cfg.Streams,
		sinks:         cfg.Sinks,
		flushInterval: cfg.FlushInterval,
		metrics:       &Metrics{},
		logger:        slog.Default().With("component", "pipeline", "source", cfg.Name),
		rawPacketChan: make(chan core.RawPacket, cfg.BufferSize),
	}
}

// Run processes the source until it is exhausted or ctx is cancelled. Streams
// still open at that point are released to the sinks before Run returns.
func (p *Pipeline) Run(ctx context.Context) error {
	if err := p.source.Start(ctx); err != nil {
		return fmt.Errorf("start source %s: %w", p.name, err)
	}
	defer p.source.Stop()

	p.logger.Info("pipeline starting")

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.captureLoop(gctx) })
	g.Go(func() error {
		p.processLoop()
		return nil
	})
	err := g.Wait()

	for _, st := range p.streams.Close() {
		p.emit(st)
	}

	stats := p.Stats()
	p.logger.Info("pipeline stopped",
		"received", stats.Received,
		"decoded", stats.Decoded,
		"decode_errors", stats.DecodeErrors,
		"streams", stats.Streams)
	return err
}

// captureLoop reads packets from the source and sends them to the
// processing channel, which it closes on return.
func (p *Pipeline) captureLoop(ctx context.Context) error {
	defer close(p.rawPacketChan)

	for {
		raw, err := p.source.ReadPacket()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read %s: %w", p.name, err)
		}
		select {
		case p.rawPacketChan <- raw:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// processLoop drains the channel. It never stops early so that everything
// already read reaches the tracker.
func (p *Pipeline) processLoop() {
	for raw := range p.rawPacketChan {
		p.metrics.Received.Add(1)
		if err := p.processPacket(raw); err != nil {
			p.logger.Debug("packet processing failed", "error", err)
		}
	}
}

// processPacket runs one frame through the decoder and, for TCP, the stream
// tracker.
func (p *Pipeline) processPacket(raw core.RawPacket) error {
	p.sweep(raw.Timestamp)

	decoded, err := p.decoder.Decode(raw)
	if errors.Is(err, core.ErrFragmentPending) {
		p.metrics.Fragments.Add(1)
		return nil
	}
	if err != nil {
		p.metrics.DecodeErrors.Add(1)
		return fmt.Errorf("decode failed: %w", err)
	}
	p.metrics.Decoded.Add(1)

	if decoded.Transport.Protocol != core.ProtocolTCP {
		p.metrics.Datagrams.Add(1)
		return nil
	}

	p.metrics.Segments.Add(1)
	st, err := p.streams.Add(decoded.IP, decoded.Transport, decoded.Payload, decoded.Timestamp)
	if err != nil {
		p.metrics.StreamErrors.Add(1)
		return fmt.Errorf("stream reassembly failed: %w", err)
	}
	if st != nil {
		p.emit(st)
	}
	return nil
}

// sweep expires stale reassembly state, driven by capture time so that
// offline files age the same way a live capture would.
func (p *Pipeline) sweep(now time.Time) {
	if p.lastSweep.IsZero() {
		p.lastSweep = now
		return
	}
	if now.Sub(p.lastSweep) < p.flushInterval {
		return
	}
	p.lastSweep = now

	if p.expirer != nil {
		if n := p.expirer.Expire(now); n > 0 {
			p.logger.Debug("expired fragment flows", "count", n)
		}
	}
	for _, st := range p.streams.Flush(now) {
		p.emit(st)
	}
}

// emit hands a released stream to every sink.
func (p *Pipeline) emit(st *reassembly.Stream) {
	p.metrics.Streams.Add(1)
	for _, s := range p.sinks {
		if err := s.Write(st); err != nil {
			p.metrics.SinkErrors.Add(1)
			p.logger.Error("sink write failed", "stream", st.Key.String(), "error", err)
		}
	}
}

// Stats returns pipeline statistics.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Received:     p.metrics.Received.Load(),
		Decoded:      p.metrics.Decoded.Load(),
		DecodeErrors: p.metrics.DecodeErrors.Load(),
		Fragments:    p.metrics.Fragments.Load(),
		Segments:     p.metrics.Segments.Load(),
		Datagrams:    p.metrics.Datagrams.Load(),
		StreamErrors: p.metrics.StreamErrors.Load(),
		Streams:      p.metrics.Streams.Load(),
		SinkErrors:   p.metrics.SinkErrors.Load(),
	}
}

// Stats represents pipeline statistics.
type Stats struct {
	Received     uint64
	Decoded      uint64
	DecodeErrors uint64
	Fragments    uint64 // held for reassembly
	Segments     uint64 // TCP
	Datagrams    uint64 // everything decoded that is not TCP
	StreamErrors uint64
	Streams      uint64 // released to the sinks
	SinkErrors   uint64
}
