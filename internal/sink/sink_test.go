package sink

import (
	"bytes"
	"net/netip"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/reassembly"
)

func testStream(content string) *reassembly.Stream {
	return &reassembly.Stream{
		Key: reassembly.StreamKey{
			SrcIP:   netip.MustParseAddr("10.0.0.1"),
			DstIP:   netip.MustParseAddr("10.0.0.2"),
			SrcPort: 40000,
			DstPort: 80,
		},
		Data:     chunk.NewSequence(chunk.NewBytes([]byte(content)), chunk.NewByteCount(4, 0)),
		Complete: false,
		Gaps:     1,
		Held:     core.Bytes(len(content)),
	}
}

func TestFileSinkCompression(t *testing.T) {
	content := strings.Repeat("GET /index.html HTTP/1.1\r\nHost: example.com\r\n\r\n", 20)
	want := append([]byte(content), 0, 0, 0, 0)

	for _, comp := range []string{"", "none", "zstd", "s2", "lz4"} {
		t.Run("compression="+comp, func(t *testing.T) {
			dir := t.TempDir()
			s, err := NewFileSink(FileConfig{Dir: dir, Compression: comp})
			require.NoError(t, err)

			st := testStream(content)
			require.NoError(t, s.Write(st))
			require.NoError(t, s.Close())

			path := s.Path(st.Key, want)
			got, err := ReadFile(path)
			require.NoError(t, err)
			assert.True(t, bytes.Equal(want, got), "stream content differs after %q round trip", comp)

			entries, err := os.ReadDir(dir)
			require.NoError(t, err)
			require.Len(t, entries, 1, "temporary files must not be left behind")
			assert.True(t, strings.HasPrefix(entries[0].Name(), "10.0.0.1_40000-10.0.0.2_80_"))
		})
	}
}

func TestFileSinkNaming(t *testing.T) {
	dir := t.TempDir()
	s, err := NewFileSink(FileConfig{Dir: dir, Compression: "zstd"})
	require.NoError(t, err)

	key := testStream("").Key
	a := s.Path(key, []byte("same"))
	assert.Equal(t, a, s.Path(key, []byte("same")))
	assert.NotEqual(t, a, s.Path(key, []byte("different")))
	assert.Equal(t, ".zst", filepath.Ext(a))

	// Identical content overwrites the same file.
	require.NoError(t, s.Write(testStream("payload")))
	require.NoError(t, s.Write(testStream("payload")))
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFileSinkConfigErrors(t *testing.T) {
	_, err := NewFileSink(FileConfig{})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	_, err = NewFileSink(FileConfig{Dir: t.TempDir(), Compression: "brotli"})
	assert.ErrorIs(t, err, core.ErrConfigInvalid)

	c, err := ParseCompression("LZ4")
	require.NoError(t, err)
	assert.Equal(t, CompressionLZ4, c)
}

func TestConsoleSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewConsoleSink(&buf)
	require.NoError(t, s.Write(testStream("hello")))
	require.NoError(t, s.Close())
	assert.Equal(t, "10.0.0.1:40000-10.0.0.2:80 9B held 5B gaps 1 complete false\n", buf.String())
}
