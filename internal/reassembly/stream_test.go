package reassembly

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

var (
	clientIP = core.IPHeader{Version: 4, SrcIP: netip.MustParseAddr("10.0.0.1"), DstIP: netip.MustParseAddr("10.0.0.2"), Protocol: core.ProtocolTCP}
)

func segment(seq uint32, flags uint8) core.TransportHeader {
	return core.TransportHeader{SrcPort: 40000, DstPort: 80, Protocol: core.ProtocolTCP, SeqNum: seq, TCPFlags: flags}
}

func text(s string) chunk.Chunk { return chunk.NewBytes([]byte(s)) }

func TestStreamInOrder(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{})
	now := time.Now()

	st, err := tr.Add(clientIP, segment(1000, core.TCPFlagSYN), nil, now)
	require.NoError(t, err)
	assert.Nil(t, st)

	_, err = tr.Add(clientIP, segment(1001, core.TCPFlagACK), text("GET / "), now)
	require.NoError(t, err)
	_, err = tr.Add(clientIP, segment(1007, core.TCPFlagACK), text("HTTP/1.1"), now)
	require.NoError(t, err)
	assert.Equal(t, 1, tr.Active())

	st, err = tr.Add(clientIP, segment(1015, core.TCPFlagFIN|core.TCPFlagACK), nil, now)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Complete)
	assert.Equal(t, 0, st.Gaps)
	assert.Equal(t, "GET / HTTP/1.1", string(serialize(t, st.Data)))
	assert.Equal(t, "10.0.0.1:40000-10.0.0.2:80", st.Key.String())
	assert.Equal(t, 0, tr.Active())
}

func TestStreamOutOfOrderAndRetransmit(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{})
	now := time.Now()

	_, _ = tr.Add(clientIP, segment(0, core.TCPFlagSYN), nil, now)
	_, _ = tr.Add(clientIP, segment(6, 0), text("world"), now)
	_, _ = tr.Add(clientIP, segment(1, 0), text("hello"), now)
	_, _ = tr.Add(clientIP, segment(1, 0), text("HELLO"), now)

	st, err := tr.Add(clientIP, segment(11, core.TCPFlagRST), nil, now)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Complete)
	assert.Equal(t, "HELLOworld", string(serialize(t, st.Data)))
}

func TestStreamLateSYN(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{})
	now := time.Now()

	_, _ = tr.Add(clientIP, segment(105, 0), text("there"), now)
	_, _ = tr.Add(clientIP, segment(99, core.TCPFlagSYN), nil, now)
	_, _ = tr.Add(clientIP, segment(100, 0), text("hello"), now)

	st, err := tr.Add(clientIP, segment(110, core.TCPFlagFIN), nil, now)
	require.NoError(t, err)
	assert.Equal(t, "hellothere", string(serialize(t, st.Data)))
}

func TestStreamLostTailBeforeFIN(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{})
	now := time.Now()

	_, _ = tr.Add(clientIP, segment(1000, core.TCPFlagSYN), nil, now)
	_, _ = tr.Add(clientIP, segment(1001, core.TCPFlagACK), text("hello"), now)
	// "world" at 1006 is lost.
	st, err := tr.Add(clientIP, segment(1011, core.TCPFlagFIN|core.TCPFlagACK), nil, now)
	require.NoError(t, err)
	require.NotNil(t, st)

	assert.False(t, st.Complete)
	assert.Equal(t, 1, st.Gaps)
	assert.Equal(t, core.Bytes(5), st.Held)
	assert.Equal(t, []byte{'h', 'e', 'l', 'l', 'o', 0, 0, 0, 0, 0}, serialize(t, st.Data))
}

func TestStreamFINCarriesData(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{})
	now := time.Now()

	_, _ = tr.Add(clientIP, segment(0, core.TCPFlagSYN), nil, now)
	_, _ = tr.Add(clientIP, segment(1, 0), text("ab"), now)
	st, err := tr.Add(clientIP, segment(3, core.TCPFlagFIN), text("cd"), now)
	require.NoError(t, err)
	require.NotNil(t, st)
	assert.True(t, st.Complete)
	assert.Equal(t, 0, st.Gaps)
	assert.Equal(t, "abcd", string(serialize(t, st.Data)))

	_, _ = tr.Add(clientIP, segment(0, core.TCPFlagSYN), nil, now)
	st, err = tr.Add(clientIP, segment(4, core.TCPFlagFIN), text("de"), now)
	require.NoError(t, err)
	assert.False(t, st.Complete, "missing head before FIN data")
	assert.Equal(t, 1, st.Gaps)
}

func TestStreamGapsAreFilled(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{Timeout: time.Second})
	start := time.Now()

	_, _ = tr.Add(clientIP, segment(0, core.TCPFlagSYN), nil, start)
	_, _ = tr.Add(clientIP, segment(1, 0), text("ab"), start)
	_, _ = tr.Add(clientIP, segment(5, 0), text("ef"), start)

	assert.Empty(t, tr.Flush(start.Add(500*time.Millisecond)))
	streams := tr.Flush(start.Add(2 * time.Second))
	require.Len(t, streams, 1)

	st := streams[0]
	assert.False(t, st.Complete)
	assert.Equal(t, 1, st.Gaps)
	assert.Equal(t, core.Bytes(4), st.Held)
	assert.Equal(t, []byte{'a', 'b', 0, 0, 'e', 'f'}, serialize(t, st.Data))
}

func TestStreamLimits(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{MaxStreams: 1, MaxBytes: 4})
	now := time.Now()

	_, err := tr.Add(clientIP, segment(0, core.TCPFlagSYN), nil, now)
	require.NoError(t, err)
	_, err = tr.Add(clientIP, segment(1, 0), text("toolong"), now)
	assert.ErrorIs(t, err, core.ErrReassemblyLimit)

	other := clientIP
	other.SrcIP = netip.MustParseAddr("10.0.0.3")
	_, err = tr.Add(other, segment(0, core.TCPFlagSYN), nil, now)
	assert.ErrorIs(t, err, core.ErrReassemblyLimit)

	_, err = tr.Add(clientIP, core.TransportHeader{Protocol: core.ProtocolUDP}, nil, now)
	assert.ErrorIs(t, err, core.ErrUnsupportedProto)
}

func TestStreamClose(t *testing.T) {
	tr := NewStreamTracker(StreamConfig{})
	now := time.Now()
	_, _ = tr.Add(clientIP, segment(10, 0), text("x"), now)

	streams := tr.Close()
	require.Len(t, streams, 1)
	assert.False(t, streams[0].Complete)
	assert.Equal(t, "x", string(serialize(t, streams[0].Data)))
	assert.Equal(t, 0, tr.Active())
}
