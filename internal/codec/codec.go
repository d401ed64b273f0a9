// Package codec converts protocol headers between raw chunk content and
// gopacket layer structs. Importing it registers every codec in
// chunk.DefaultRegistry.
package codec

import (
	"fmt"
	"io"

	"github.com/google/gopacket"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

// Header representation tags.
const (
	TagEthernet chunk.Tag = "eth"
	TagVLAN     chunk.Tag = "vlan"
	TagIPv4     chunk.Tag = "ipv4"
	TagTCP      chunk.Tag = "tcp"
	TagUDP      chunk.Tag = "udp"
)

func init() {
	if err := Register(chunk.DefaultRegistry); err != nil {
		panic(err)
	}
}

// Register adds all header codecs to reg.
func Register(reg *chunk.Registry) error {
	for _, c := range []chunk.Codec{EthernetCodec{}, VLANCodec{}, IPv4Codec{}, TCPCodec{}, UDPCodec{}} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

// decodable is the decoding half of a gopacket layer.
type decodable interface {
	DecodeFromBytes(data []byte, df gopacket.DecodeFeedback) error
}

// decode runs l over data. need is the header length known so far; shorter
// input is reported as truncated so the chunk ends up incomplete.
func decode(tag chunk.Tag, l decodable, data []byte, need int) error {
	if len(data) < need {
		return fmt.Errorf("%s: %d of %d header bytes: %w", tag, len(data), need, io.ErrUnexpectedEOF)
	}
	if err := l.DecodeFromBytes(data, gopacket.NilDecodeFeedback); err != nil {
		return fmt.Errorf("%s: %w: %v", tag, core.ErrMalformedData, err)
	}
	return nil
}

// serialize renders only l's own header bytes.
func serialize(tag chunk.Tag, l gopacket.SerializableLayer, n int) ([]byte, error) {
	buf := gopacket.NewSerializeBuffer()
	if err := l.SerializeTo(buf, gopacket.SerializeOptions{}); err != nil {
		return nil, fmt.Errorf("%s: %w", tag, err)
	}
	out := buf.Bytes()
	if len(out) > n {
		// Ethernet pads short frames to the minimum size.
		out = out[:n]
	}
	return out, nil
}

func wrongFields(tag chunk.Tag, f chunk.Fields) error {
	return fmt.Errorf("%w: %s codec cannot serialize %T", core.ErrUnsupported, tag, f)
}
