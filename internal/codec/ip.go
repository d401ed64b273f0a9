package codec

import (
	"fmt"
	"net"
	"net/netip"
	"slices"

	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

const ipv4HeaderMinLen = 20

// IPv4 is an IPv4 header including options.
type IPv4 struct {
	layers.IPv4
}

func (ip *IPv4) Tag() chunk.Tag   { return TagIPv4 }
func (ip *IPv4) Len() core.Length { return core.Bytes(int(ip.IHL) * 4) }

func (ip *IPv4) Clone() chunk.Fields {
	c := &IPv4{IPv4: ip.IPv4}
	c.Contents, c.Payload = nil, nil
	c.SrcIP = slices.Clone(ip.SrcIP)
	c.DstIP = slices.Clone(ip.DstIP)
	c.Options = make([]layers.IPv4Option, len(ip.Options))
	for i, o := range ip.Options {
		o.OptionData = slices.Clone(o.OptionData)
		c.Options[i] = o
	}
	c.Padding = slices.Clone(ip.Padding)
	return c
}

func (ip *IPv4) String() string {
	return fmt.Sprintf("ipv4 %s > %s proto %s id %d len %d", ip.SrcIP, ip.DstIP, ip.Protocol, ip.Id, ip.Length)
}

// Header converts to the pipeline's IP header. FragmentOffset is in bytes.
func (ip *IPv4) Header() core.IPHeader {
	return core.IPHeader{
		Version:        4,
		SrcIP:          addrOf(ip.SrcIP),
		DstIP:          addrOf(ip.DstIP),
		Protocol:       uint8(ip.Protocol),
		TTL:            ip.TTL,
		TotalLen:       ip.Length,
		ID:             ip.Id,
		MoreFragments:  ip.Flags&layers.IPv4MoreFragments != 0,
		FragmentOffset: ip.FragOffset * 8,
	}
}

// PayloadLen is the datagram length the header announces beyond itself.
func (ip *IPv4) PayloadLen() int {
	return max(int(ip.Length)-int(ip.IHL)*4, 0)
}

func addrOf(b net.IP) netip.Addr {
	a, _ := netip.AddrFromSlice(b)
	return a.Unmap()
}

// IPv4Codec converts IPv4 headers.
type IPv4Codec struct{}

func (IPv4Codec) Tag() chunk.Tag { return TagIPv4 }

func (IPv4Codec) Serialize(f chunk.Fields) ([]byte, error) {
	ip, ok := f.(*IPv4)
	if !ok {
		return nil, wrongFields(TagIPv4, f)
	}
	return serialize(TagIPv4, &ip.IPv4, int(ip.IHL)*4)
}

func (IPv4Codec) Deserialize(data []byte) (chunk.Fields, error) {
	need := ipv4HeaderMinLen
	if len(data) > 0 {
		if v := data[0] >> 4; v != 4 {
			return nil, fmt.Errorf("%s: %w: version %d", TagIPv4, core.ErrMalformedData, v)
		}
		ihl := int(data[0] & 0x0f)
		if ihl < 5 {
			return nil, fmt.Errorf("%s: %w: header length %d words", TagIPv4, core.ErrMalformedData, ihl)
		}
		need = ihl * 4
	}
	ip := &IPv4{}
	// gopacket cuts the input to the announced total length, which can be
	// shorter than the header for a corrupted datagram.
	if err := decode(TagIPv4, &ip.IPv4, data, need); err != nil {
		return nil, err
	}
	ip.Contents, ip.Payload = nil, nil
	return ip, nil
}
