package codec

import (
	"fmt"
	"slices"
	"strings"

	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

const (
	tcpHeaderMinLen = 20
	udpHeaderLen    = 8
)

// TCP is a TCP header including options.
type TCP struct {
	layers.TCP
}

func (t *TCP) Tag() chunk.Tag   { return TagTCP }
func (t *TCP) Len() core.Length { return core.Bytes(int(t.DataOffset) * 4) }

func (t *TCP) Clone() chunk.Fields {
	c := &TCP{TCP: t.TCP}
	c.Contents, c.Payload = nil, nil
	c.Options = make([]layers.TCPOption, len(t.Options))
	for i, o := range t.Options {
		o.OptionData = slices.Clone(o.OptionData)
		c.Options[i] = o
	}
	c.Padding = slices.Clone(t.Padding)
	return c
}

func (t *TCP) String() string {
	return fmt.Sprintf("tcp %d > %d seq %d ack %d [%s]", t.SrcPort, t.DstPort, t.Seq, t.Ack, t.flagString())
}

func (t *TCP) flagString() string {
	var fl []string
	for _, f := range []struct {
		set  bool
		name string
	}{{t.SYN, "S"}, {t.FIN, "F"}, {t.RST, "R"}, {t.PSH, "P"}, {t.ACK, "."}} {
		if f.set {
			fl = append(fl, f.name)
		}
	}
	return strings.Join(fl, "")
}

// Flags packs the control bits the way core.TransportHeader carries them.
func (t *TCP) Flags() uint8 {
	var f uint8
	if t.FIN {
		f |= core.TCPFlagFIN
	}
	if t.SYN {
		f |= core.TCPFlagSYN
	}
	if t.RST {
		f |= core.TCPFlagRST
	}
	if t.PSH {
		f |= core.TCPFlagPSH
	}
	if t.ACK {
		f |= core.TCPFlagACK
	}
	return f
}

func (t *TCP) Header() core.TransportHeader {
	return core.TransportHeader{
		SrcPort:  uint16(t.SrcPort),
		DstPort:  uint16(t.DstPort),
		Protocol: core.ProtocolTCP,
		TCPFlags: t.Flags(),
		SeqNum:   t.Seq,
		AckNum:   t.Ack,
	}
}

// TCPCodec converts TCP headers.
type TCPCodec struct{}

func (TCPCodec) Tag() chunk.Tag { return TagTCP }

func (TCPCodec) Serialize(f chunk.Fields) ([]byte, error) {
	t, ok := f.(*TCP)
	if !ok {
		return nil, wrongFields(TagTCP, f)
	}
	return serialize(TagTCP, &t.TCP, int(t.DataOffset)*4)
}

func (TCPCodec) Deserialize(data []byte) (chunk.Fields, error) {
	need := tcpHeaderMinLen
	if len(data) > 12 {
		off := int(data[12] >> 4)
		if off < 5 {
			return nil, fmt.Errorf("%s: %w: data offset %d words", TagTCP, core.ErrMalformedData, off)
		}
		need = off * 4
	}
	t := &TCP{}
	if err := decode(TagTCP, &t.TCP, data, need); err != nil {
		return nil, err
	}
	t.Contents, t.Payload = nil, nil
	return t, nil
}

// UDP is the 8-byte UDP header.
type UDP struct {
	layers.UDP
}

func (u *UDP) Tag() chunk.Tag   { return TagUDP }
func (u *UDP) Len() core.Length { return core.Bytes(udpHeaderLen) }

func (u *UDP) Clone() chunk.Fields {
	c := &UDP{UDP: u.UDP}
	c.Contents, c.Payload = nil, nil
	return c
}

func (u *UDP) String() string {
	return fmt.Sprintf("udp %d > %d len %d", u.SrcPort, u.DstPort, u.Length)
}

func (u *UDP) Header() core.TransportHeader {
	return core.TransportHeader{
		SrcPort:  uint16(u.SrcPort),
		DstPort:  uint16(u.DstPort),
		Protocol: core.ProtocolUDP,
	}
}

// UDPCodec converts UDP headers.
type UDPCodec struct{}

func (UDPCodec) Tag() chunk.Tag { return TagUDP }

func (UDPCodec) Serialize(f chunk.Fields) ([]byte, error) {
	u, ok := f.(*UDP)
	if !ok {
		return nil, wrongFields(TagUDP, f)
	}
	return serialize(TagUDP, &u.UDP, udpHeaderLen)
}

func (UDPCodec) Deserialize(data []byte) (chunk.Fields, error) {
	u := &UDP{}
	if err := decode(TagUDP, &u.UDP, data, udpHeaderLen); err != nil {
		return nil, err
	}
	u.Contents, u.Payload = nil, nil
	return u, nil
}
