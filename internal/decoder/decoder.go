// Package decoder turns captured frames into packets whose headers have been
// popped as typed chunks and whose payload is still the captured content.
package decoder

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/codec"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/metrics"
	"firestige.xyz/pktstack/internal/packet"
	"firestige.xyz/pktstack/internal/reassembly"
)

// Decoder decodes raw frames.
type Decoder interface {
	Decode(raw core.RawPacket) (DecodedPacket, error)
}

// DecodedPacket is the result of L2-L4 decoding. Payload shares the captured
// bytes, or the reassembled content for fragmented datagrams.
type DecodedPacket struct {
	Timestamp   time.Time
	Ethernet    core.EthernetHeader
	IP          core.IPHeader
	Transport   core.TransportHeader
	Packet      *packet.Packet // headers popped, data region is the payload
	Payload     chunk.Chunk
	CaptureLen  uint32
	OrigLen     uint32
	Reassembled bool // went through IP fragment reassembly
}

// Config configures a StandardDecoder.
type Config struct {
	Fragment reassembly.FragmentConfig
}

// StandardDecoder decodes Ethernet, 802.1Q, IPv4, TCP and UDP and reassembles
// IPv4 fragments. It is not safe for concurrent use; each capture owns one.
type StandardDecoder struct {
	frags  *reassembly.FragmentReassembler
	logger *slog.Logger
}

// NewStandardDecoder creates a decoder.
func NewStandardDecoder(cfg Config) *StandardDecoder {
	return &StandardDecoder{
		frags:  reassembly.NewFragmentReassembler(cfg.Fragment),
		logger: slog.Default().With("component", "decoder"),
	}
}

// Fragments exposes the fragment reassembler, mostly for expiry.
func (d *StandardDecoder) Fragments() *reassembly.FragmentReassembler { return d.frags }

// Decode decodes one frame. A fragment that does not complete its datagram
// yields core.ErrFragmentPending.
func (d *StandardDecoder) Decode(raw core.RawPacket) (DecodedPacket, error) {
	out, err := d.decode(raw)
	switch {
	case err == nil:
		metrics.DecodePacketsTotal.WithLabelValues("decoded").Inc()
	case errors.Is(err, core.ErrFragmentPending):
		metrics.DecodePacketsTotal.WithLabelValues("fragment").Inc()
	default:
		metrics.DecodePacketsTotal.WithLabelValues("dropped").Inc()
	}
	return out, err
}

func (d *StandardDecoder) decode(raw core.RawPacket) (DecodedPacket, error) {
	out := DecodedPacket{
		Timestamp:  raw.Timestamp,
		CaptureLen: raw.CaptureLen,
		OrigLen:    raw.OrigLen,
	}
	if len(raw.Data) == 0 {
		return out, fmt.Errorf("%w: empty frame", core.ErrPacketTooShort)
	}
	p := packet.New("frame", chunk.NewBytes(raw.Data))

	eth, err := popHeader[*codec.Ethernet](p, codec.TagEthernet)
	if err != nil {
		return out, err
	}
	out.Ethernet = eth.Header()
	for codec.IsVLAN(out.Ethernet.EtherType) {
		vlan, err := popHeader[*codec.VLAN](p, codec.TagVLAN)
		if err != nil {
			return out, err
		}
		out.Ethernet.VLANs = append(out.Ethernet.VLANs, vlan.VLANIdentifier)
		out.Ethernet.EtherType = uint16(vlan.Type)
	}
	if out.Ethernet.EtherType != etherTypeIPv4 {
		return out, fmt.Errorf("%w: ethertype %#04x", core.ErrUnsupportedProto, out.Ethernet.EtherType)
	}

	ip, err := popHeader[*codec.IPv4](p, codec.TagIPv4)
	if err != nil {
		return out, err
	}
	out.IP = ip.Header()
	if err := trimPadding(p, ip.PayloadLen()); err != nil {
		return out, err
	}

	if out.IP.IsFragment() {
		data, err := p.PeekData(core.Unspecified)
		if err != nil {
			return out, err
		}
		whole, err := d.frags.Add(out.IP, data, raw.Timestamp)
		if err != nil {
			d.logger.Debug("fragment rejected", "src", out.IP.SrcIP, "id", out.IP.ID, "error", err)
			return out, err
		}
		if whole == nil {
			return out, core.ErrFragmentPending
		}
		p = packet.New("datagram", whole)
		out.Reassembled = true
		out.IP.MoreFragments = false
		out.IP.FragmentOffset = 0
	}

	switch out.IP.Protocol {
	case core.ProtocolTCP:
		tcp, err := popHeader[*codec.TCP](p, codec.TagTCP)
		if err != nil {
			return out, err
		}
		out.Transport = tcp.Header()
	case core.ProtocolUDP:
		udp, err := popHeader[*codec.UDP](p, codec.TagUDP)
		if err != nil {
			return out, err
		}
		out.Transport = udp.Header()
	default:
		out.Transport = core.TransportHeader{Protocol: out.IP.Protocol}
	}

	out.Payload, err = p.PeekData(core.Unspecified)
	if err != nil {
		return out, err
	}
	out.Packet = p
	return out, nil
}

const etherTypeIPv4 = 0x0800

// popHeader pops the next header as tag and returns its record.
func popHeader[F chunk.Fields](p *packet.Packet, tag chunk.Tag) (F, error) {
	var zero F
	// Lenient pop, so that the outcome can be counted before it is judged.
	c, err := p.PopHeaderAs(tag, core.Unspecified, 0)
	if err != nil {
		metrics.HeaderConversionsTotal.WithLabelValues(string(tag), "failed").Inc()
		return zero, fmt.Errorf("%w: %s header: %v", core.ErrPacketTooShort, tag, err)
	}
	metrics.HeaderConversionsTotal.WithLabelValues(string(tag), conversionResult(c)).Inc()
	switch {
	case !c.IsComplete():
		return zero, fmt.Errorf("%w: %s header needs more than %s", core.ErrPacketTooShort, tag, c.Len())
	case !c.IsCorrect():
		return zero, fmt.Errorf("%w: %s header", core.ErrMalformedData, tag)
	}
	fc, ok := c.(*chunk.FieldsChunk)
	if !ok {
		return zero, fmt.Errorf("%w: %s header is %s", core.ErrUnsupported, tag, c.Kind())
	}
	f, ok := fc.Fields().(F)
	if !ok {
		return zero, fmt.Errorf("%w: %s header holds %T", core.ErrUnsupported, tag, fc.Fields())
	}
	return f, nil
}

func conversionResult(c chunk.Chunk) string {
	switch {
	case !c.IsComplete():
		return "incomplete"
	case !c.IsCorrect():
		return "incorrect"
	case !c.IsProperlyRepresented():
		return "improper"
	default:
		return "ok"
	}
}

// trimPadding drops bytes past the end of the IP datagram, typically
// Ethernet padding, by moving them behind the trailer cursor.
func trimPadding(p *packet.Packet, payloadLen int) error {
	extra := p.DataLen() - core.Bytes(payloadLen)
	if extra <= 0 {
		return nil
	}
	return p.SetTrailerOffset(p.TrailerOffset() + extra)
}
