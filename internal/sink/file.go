package sink

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/metrics"
	"firestige.xyz/pktstack/internal/reassembly"
)

// Compression names a stream file encoding.
type Compression string

const (
	CompressionNone Compression = "none"
	CompressionZstd Compression = "zstd"
	CompressionS2   Compression = "s2"
	CompressionLZ4  Compression = "lz4"
)

// ParseCompression accepts the names above; empty means none.
func ParseCompression(s string) (Compression, error) {
	switch c := Compression(strings.ToLower(s)); c {
	case "":
		return CompressionNone, nil
	case CompressionNone, CompressionZstd, CompressionS2, CompressionLZ4:
		return c, nil
	default:
		return "", fmt.Errorf("%w: unknown compression %q", core.ErrConfigInvalid, s)
	}
}

// Ext is the file extension added for c.
func (c Compression) Ext() string {
	switch c {
	case CompressionZstd:
		return ".zst"
	case CompressionS2:
		return ".s2"
	case CompressionLZ4:
		return ".lz4"
	default:
		return ""
	}
}

// FileConfig configures a FileSink.
type FileConfig struct {
	Dir         string
	Compression string
}

// FileSink writes each stream to its own file named after the flow and the
// xxhash of its content, so identical streams land in the same file.
type FileSink struct {
	dir    string
	comp   Compression
	logger *slog.Logger
}

// NewFileSink creates the output directory if needed.
func NewFileSink(cfg FileConfig) (*FileSink, error) {
	if cfg.Dir == "" {
		return nil, fmt.Errorf("%w: sink directory is required", core.ErrConfigInvalid)
	}
	comp, err := ParseCompression(cfg.Compression)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create sink directory: %w", err)
	}
	return &FileSink{
		dir:    cfg.Dir,
		comp:   comp,
		logger: slog.Default().With("component", "sink", "dir", cfg.Dir),
	}, nil
}

// Path returns the file a stream with this content is written to.
func (s *FileSink) Path(key reassembly.StreamKey, data []byte) string {
	name := strings.NewReplacer(":", "_", "[", "", "]", "").Replace(key.String())
	return filepath.Join(s.dir, fmt.Sprintf("%s_%016x.bin%s", name, xxhash.Sum64(data), s.comp.Ext()))
}

func (s *FileSink) Write(st *reassembly.Stream) error {
	data, err := chunk.Serialize(st.Data)
	if err != nil {
		return fmt.Errorf("failed to serialize stream %s: %w", st.Key, err)
	}
	path := s.Path(st.Key, data)

	// Write to a temporary name first so readers never see partial files.
	tmp, err := os.CreateTemp(s.dir, ".stream-*")
	if err != nil {
		return fmt.Errorf("failed to create stream file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := s.encode(tmp, data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write stream %s: %w", st.Key, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to publish stream file: %w", err)
	}

	metrics.SinkBytesTotal.WithLabelValues(string(s.comp)).Add(float64(len(data)))
	s.logger.Debug("stream written", "stream", st.Key.String(), "bytes", len(data), "complete", st.Complete, "file", filepath.Base(path))
	return nil
}

func (s *FileSink) encode(w io.Writer, data []byte) error {
	var enc io.WriteCloser
	switch s.comp {
	case CompressionZstd:
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return err
		}
		enc = zw
	case CompressionS2:
		enc = s2.NewWriter(w)
	case CompressionLZ4:
		enc = lz4.NewWriter(w)
	default:
		_, err := w.Write(data)
		return err
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (s *FileSink) Close() error { return nil }

// ReadFile returns the content of a stream file, decompressing according to
// its extension.
func ReadFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var r io.Reader = f
	switch filepath.Ext(path) {
	case CompressionZstd.Ext():
		zr, err := zstd.NewReader(f)
		if err != nil {
			return nil, err
		}
		defer zr.Close()
		r = zr
	case CompressionS2.Ext():
		r = s2.NewReader(f)
	case CompressionLZ4.Ext():
		r = lz4.NewReader(f)
	}
	return io.ReadAll(r)
}
