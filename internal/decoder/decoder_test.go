package decoder

import (
	"bytes"
	"errors"
	"net"
	"net/netip"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

// makeSimpleUDPPacket builds Ethernet + IPv4 + UDP carrying payload.
func makeSimpleUDPPacket(payload []byte) []byte {
	packet := make([]byte, 42, 42+len(payload))

	// Ethernet: AA:BB:CC:DD:EE:FF > 00:11:22:33:44:55, IPv4
	copy(packet[0:6], []byte{0x00, 0x11, 0x22, 0x33, 0x44, 0x55})
	copy(packet[6:12], []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF})
	packet[12], packet[13] = 0x08, 0x00

	// IPv4
	total := 28 + len(payload)
	packet[14] = 0x45 // Version 4, IHL 5
	packet[16], packet[17] = byte(total>>8), byte(total)
	packet[18], packet[19] = 0x12, 0x34 // Identification
	packet[22] = 0x40                   // TTL: 64
	packet[23] = 0x11                   // Protocol: UDP
	copy(packet[26:30], []byte{192, 168, 1, 1})
	copy(packet[30:34], []byte{192, 168, 1, 2})

	// UDP 5000 > 5001
	packet[34], packet[35] = 0x13, 0x88
	packet[36], packet[37] = 0x13, 0x89
	packet[38], packet[39] = byte((8+len(payload))>>8), byte(8+len(payload))

	return append(packet, payload...)
}

func rawPacket(data []byte) core.RawPacket {
	return core.RawPacket{
		Data:       data,
		Timestamp:  time.Now(),
		CaptureLen: uint32(len(data)),
		OrigLen:    uint32(len(data)),
	}
}

func payloadBytes(t *testing.T, c chunk.Chunk) []byte {
	t.Helper()
	b, err := chunk.Serialize(c)
	if err != nil {
		t.Fatalf("serialize payload: %v", err)
	}
	return b
}

func TestStandardDecoderDecode(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	payload := []byte("a datagram well past the minimum frame size")

	decoded, err := decoder.Decode(rawPacket(makeSimpleUDPPacket(payload)))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if decoded.Ethernet.EtherType != 0x0800 {
		t.Errorf("Expected EtherType 0x0800, got 0x%04x", decoded.Ethernet.EtherType)
	}
	expectedSrcMAC := [6]byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE, 0xFF}
	if decoded.Ethernet.SrcMAC != expectedSrcMAC {
		t.Errorf("Expected SrcMAC %v, got %v", expectedSrcMAC, decoded.Ethernet.SrcMAC)
	}
	if decoded.IP.Version != 4 || decoded.IP.Protocol != 17 || decoded.IP.TTL != 64 {
		t.Errorf("Unexpected IP header %+v", decoded.IP)
	}
	if decoded.IP.SrcIP != netip.MustParseAddr("192.168.1.1") {
		t.Errorf("Expected SrcIP 192.168.1.1, got %v", decoded.IP.SrcIP)
	}
	if decoded.IP.DstIP != netip.MustParseAddr("192.168.1.2") {
		t.Errorf("Expected DstIP 192.168.1.2, got %v", decoded.IP.DstIP)
	}
	if decoded.Transport.Protocol != 17 || decoded.Transport.SrcPort != 5000 || decoded.Transport.DstPort != 5001 {
		t.Errorf("Unexpected transport header %+v", decoded.Transport)
	}
	if decoded.Reassembled {
		t.Error("Unfragmented datagram must not be marked reassembled")
	}
	if got := payloadBytes(t, decoded.Payload); !bytes.Equal(got, payload) {
		t.Errorf("Expected payload %q, got %q", payload, got)
	}
	if decoded.Packet.HeaderOffset() != core.Bytes(42) {
		t.Errorf("Expected header cursor at 42B, got %s", decoded.Packet.HeaderOffset())
	}
}

func TestStandardDecoderPayloadSharesFrame(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	frame := makeSimpleUDPPacket([]byte("shared with the capture buffer"))

	decoded, err := decoder.Decode(rawPacket(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	frame[len(frame)-1] = 'X'
	got := payloadBytes(t, decoded.Payload)
	if got[len(got)-1] != 'X' {
		t.Error("Payload should view the captured bytes without copying")
	}
}

func TestStandardDecoderEthernetPadding(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	frame := makeSimpleUDPPacket([]byte("ping"))
	frame = append(frame, make([]byte, 60-len(frame))...)

	decoded, err := decoder.Decode(rawPacket(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if got := payloadBytes(t, decoded.Payload); string(got) != "ping" {
		t.Errorf("Expected padding to be trimmed, got %q", got)
	}
}

func TestStandardDecoderEmptyPacket(t *testing.T) {
	decoder := NewStandardDecoder(Config{})

	_, err := decoder.Decode(rawPacket([]byte{}))
	if !errors.Is(err, core.ErrPacketTooShort) {
		t.Errorf("Expected ErrPacketTooShort for empty packet, got %v", err)
	}
}

func TestStandardDecoderTooShort(t *testing.T) {
	decoder := NewStandardDecoder(Config{})

	_, err := decoder.Decode(rawPacket([]byte{0x01, 0x02, 0x03}))
	if !errors.Is(err, core.ErrPacketTooShort) {
		t.Errorf("Expected ErrPacketTooShort, got %v", err)
	}

	// IPv4 header cut after 10 bytes.
	_, err = decoder.Decode(rawPacket(makeSimpleUDPPacket(nil)[:24]))
	if !errors.Is(err, core.ErrPacketTooShort) {
		t.Errorf("Expected ErrPacketTooShort for truncated IP header, got %v", err)
	}
}

func TestStandardDecoderMalformedIP(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	frame := makeSimpleUDPPacket([]byte("bad version"))
	frame[14] = 0x55

	_, err := decoder.Decode(rawPacket(frame))
	if !errors.Is(err, core.ErrMalformedData) {
		t.Errorf("Expected ErrMalformedData, got %v", err)
	}
}

func TestStandardDecoderNonIP(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	frame := makeSimpleUDPPacket([]byte("arp"))
	frame[12], frame[13] = 0x08, 0x06

	_, err := decoder.Decode(rawPacket(frame))
	if !errors.Is(err, core.ErrUnsupportedProto) {
		t.Errorf("Expected ErrUnsupportedProto, got %v", err)
	}
}

func serializeLayers(t *testing.T, ls ...gopacket.SerializableLayer) []byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ls...); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return buf.Bytes()
}

func TestStandardDecoderQinQ(t *testing.T) {
	decoder := NewStandardDecoder(Config{})
	ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 32, Protocol: layers.IPProtocolTCP,
		SrcIP: net.IP{10, 1, 0, 1}, DstIP: net.IP{10, 1, 0, 2}}
	tcp := &layers.TCP{SrcPort: 40000, DstPort: 443, Seq: 77, SYN: true, Window: 512}
	if err := tcp.SetNetworkLayerForChecksum(ip); err != nil {
		t.Fatal(err)
	}
	frame := serializeLayers(t,
		&layers.Ethernet{SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2}, EthernetType: layers.EthernetTypeQinQ},
		&layers.Dot1Q{VLANIdentifier: 200, Type: layers.EthernetTypeDot1Q},
		&layers.Dot1Q{VLANIdentifier: 10, Type: layers.EthernetTypeIPv4},
		ip, tcp, gopacket.Payload("client hello, more or less"),
	)

	decoded, err := decoder.Decode(rawPacket(frame))
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if len(decoded.Ethernet.VLANs) != 2 || decoded.Ethernet.VLANs[0] != 200 || decoded.Ethernet.VLANs[1] != 10 {
		t.Errorf("Expected VLANs [200 10], got %v", decoded.Ethernet.VLANs)
	}
	if decoded.Ethernet.EtherType != 0x0800 {
		t.Errorf("Expected inner EtherType 0x0800, got 0x%04x", decoded.Ethernet.EtherType)
	}
	if decoded.Transport.SeqNum != 77 || decoded.Transport.TCPFlags != core.TCPFlagSYN {
		t.Errorf("Unexpected TCP header %+v", decoded.Transport)
	}
}

// fragmentFrames splits a UDP datagram into two IPv4 fragments, the first
// carrying 16 bytes.
func fragmentFrames(t *testing.T, id uint16, payload []byte) [][]byte {
	t.Helper()
	buf := gopacket.NewSerializeBuffer()
	udp := &layers.UDP{SrcPort: 5060, DstPort: 5060}
	if err := gopacket.SerializeLayers(buf, gopacket.SerializeOptions{FixLengths: true}, udp, gopacket.Payload(payload)); err != nil {
		t.Fatal(err)
	}
	datagram := buf.Bytes()

	eth := &layers.Ethernet{SrcMAC: net.HardwareAddr{2, 0, 0, 0, 0, 1}, DstMAC: net.HardwareAddr{2, 0, 0, 0, 0, 2}, EthernetType: layers.EthernetTypeIPv4}
	frag := func(off int, data []byte, more bool) []byte {
		ip := &layers.IPv4{Version: 4, IHL: 5, TTL: 64, Id: id, Protocol: layers.IPProtocolUDP,
			SrcIP: net.IP{172, 16, 0, 1}, DstIP: net.IP{172, 16, 0, 2}, FragOffset: uint16(off / 8)}
		if more {
			ip.Flags = layers.IPv4MoreFragments
		}
		return serializeLayers(t, eth, ip, gopacket.Payload(data))
	}
	return [][]byte{frag(0, datagram[:16], true), frag(16, datagram[16:], false)}
}

func TestStandardDecoderFragments(t *testing.T) {
	payload := []byte("INVITE sip:bob@example.com SIP/2.0")

	t.Run("InOrder", func(t *testing.T) {
		decoder := NewStandardDecoder(Config{})
		frames := fragmentFrames(t, 1, payload)

		_, err := decoder.Decode(rawPacket(frames[0]))
		if !errors.Is(err, core.ErrFragmentPending) {
			t.Fatalf("Expected ErrFragmentPending, got %v", err)
		}
		if decoder.Fragments().Pending() != 1 {
			t.Errorf("Expected one pending datagram, got %d", decoder.Fragments().Pending())
		}

		decoded, err := decoder.Decode(rawPacket(frames[1]))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if !decoded.Reassembled || decoded.IP.IsFragment() {
			t.Errorf("Expected reassembled whole datagram, got %+v", decoded.IP)
		}
		if decoded.Transport.SrcPort != 5060 || decoded.Transport.Protocol != core.ProtocolUDP {
			t.Errorf("Unexpected transport header %+v", decoded.Transport)
		}
		if got := payloadBytes(t, decoded.Payload); !bytes.Equal(got, payload) {
			t.Errorf("Expected payload %q, got %q", payload, got)
		}
		if decoder.Fragments().Pending() != 0 {
			t.Error("Completed datagram should be released")
		}
	})

	t.Run("Reversed", func(t *testing.T) {
		decoder := NewStandardDecoder(Config{})
		frames := fragmentFrames(t, 2, payload)

		if _, err := decoder.Decode(rawPacket(frames[1])); !errors.Is(err, core.ErrFragmentPending) {
			t.Fatalf("Expected ErrFragmentPending, got %v", err)
		}
		decoded, err := decoder.Decode(rawPacket(frames[0]))
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		if got := payloadBytes(t, decoded.Payload); !bytes.Equal(got, payload) {
			t.Errorf("Expected payload %q, got %q", payload, got)
		}
	})
}

func BenchmarkStandardDecoderDecode(b *testing.B) {
	decoder := NewStandardDecoder(Config{})
	raw := rawPacket(makeSimpleUDPPacket([]byte("benchmark payload of moderate size")))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := decoder.Decode(raw); err != nil {
			b.Fatal(err)
		}
	}
}
