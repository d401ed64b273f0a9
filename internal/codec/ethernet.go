package codec

import (
	"fmt"
	"slices"

	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

const (
	ethernetHeaderLen = 14
	vlanHeaderLen     = 4
)

// Ethernet is the 14-byte Ethernet II header.
type Ethernet struct {
	layers.Ethernet
}

func (e *Ethernet) Tag() chunk.Tag   { return TagEthernet }
func (e *Ethernet) Len() core.Length { return core.Bytes(ethernetHeaderLen) }

func (e *Ethernet) Clone() chunk.Fields {
	c := &Ethernet{Ethernet: layers.Ethernet{
		SrcMAC:       slices.Clone(e.SrcMAC),
		DstMAC:       slices.Clone(e.DstMAC),
		EthernetType: e.EthernetType,
		Length:       e.Length,
	}}
	return c
}

func (e *Ethernet) String() string {
	return fmt.Sprintf("eth %s > %s type %s", e.SrcMAC, e.DstMAC, e.EthernetType)
}

// Header converts to the pipeline's Ethernet header. VLAN tags are carried by
// separate VLAN records.
func (e *Ethernet) Header() core.EthernetHeader {
	var h core.EthernetHeader
	copy(h.SrcMAC[:], e.SrcMAC)
	copy(h.DstMAC[:], e.DstMAC)
	h.EtherType = uint16(e.EthernetType)
	return h
}

// EthernetCodec converts Ethernet II headers.
type EthernetCodec struct{}

func (EthernetCodec) Tag() chunk.Tag { return TagEthernet }

func (EthernetCodec) Serialize(f chunk.Fields) ([]byte, error) {
	e, ok := f.(*Ethernet)
	if !ok {
		return nil, wrongFields(TagEthernet, f)
	}
	return serialize(TagEthernet, &e.Ethernet, ethernetHeaderLen)
}

func (EthernetCodec) Deserialize(data []byte) (chunk.Fields, error) {
	e := &Ethernet{}
	if err := decode(TagEthernet, &e.Ethernet, data, ethernetHeaderLen); err != nil {
		return nil, err
	}
	e.Contents, e.Payload = nil, nil
	return e, nil
}

// VLAN is one 802.1Q tag.
type VLAN struct {
	layers.Dot1Q
}

func (v *VLAN) Tag() chunk.Tag   { return TagVLAN }
func (v *VLAN) Len() core.Length { return core.Bytes(vlanHeaderLen) }

func (v *VLAN) Clone() chunk.Fields {
	return &VLAN{Dot1Q: layers.Dot1Q{
		Priority:       v.Priority,
		DropEligible:   v.DropEligible,
		VLANIdentifier: v.VLANIdentifier,
		Type:           v.Type,
	}}
}

func (v *VLAN) String() string {
	return fmt.Sprintf("vlan %d type %s", v.VLANIdentifier, v.Type)
}

// VLANCodec converts 802.1Q and 802.1ad tags.
type VLANCodec struct{}

func (VLANCodec) Tag() chunk.Tag { return TagVLAN }

func (VLANCodec) Serialize(f chunk.Fields) ([]byte, error) {
	v, ok := f.(*VLAN)
	if !ok {
		return nil, wrongFields(TagVLAN, f)
	}
	return serialize(TagVLAN, &v.Dot1Q, vlanHeaderLen)
}

func (VLANCodec) Deserialize(data []byte) (chunk.Fields, error) {
	v := &VLAN{}
	if err := decode(TagVLAN, &v.Dot1Q, data, vlanHeaderLen); err != nil {
		return nil, err
	}
	v.Contents, v.Payload = nil, nil
	return v, nil
}

// IsVLAN reports whether an EtherType announces a VLAN tag.
func IsVLAN(etherType uint16) bool {
	return etherType == uint16(layers.EthernetTypeDot1Q) || etherType == uint16(layers.EthernetTypeQinQ)
}

