// Package source reads captured frames from pcap and pcapng files.
package source

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"

	"firestige.xyz/pktstack/internal/core"
	"firestige.xyz/pktstack/internal/metrics"
)

// Source yields raw frames until io.EOF.
type Source interface {
	Start(ctx context.Context) error
	ReadPacket() (core.RawPacket, error)
	Stop() error
}

const pcapngMagic = 0x0a0d0d0a

// packetReader is satisfied by both pcapgo readers.
type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

// FileSource reads a capture file. The format is detected from its magic.
type FileSource struct {
	path   string
	name   string
	filter *Filter
	file   *os.File
	reader packetReader
	ctx    context.Context
	logger *slog.Logger
}

// NewFileSource creates a source for path. filter may be nil.
func NewFileSource(path string, filter *Filter) (*FileSource, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: file path is required", core.ErrConfigInvalid)
	}
	return &FileSource{
		path:   path,
		name:   filepath.Base(path),
		filter: filter,
		logger: slog.Default().With("component", "source", "file", path),
	}, nil
}

// Start opens the file. Only Ethernet captures are accepted.
func (fs *FileSource) Start(ctx context.Context) error {
	f, err := os.Open(fs.path)
	if err != nil {
		return fmt.Errorf("failed to open capture file %s: %w", fs.path, err)
	}
	r, err := openReader(bufio.NewReader(f))
	if err != nil {
		f.Close()
		return fmt.Errorf("failed to read capture file %s: %w", fs.path, err)
	}
	if lt := r.LinkType(); lt != layers.LinkTypeEthernet {
		f.Close()
		return fmt.Errorf("%w: link type %s in %s", core.ErrUnsupportedProto, lt, fs.path)
	}
	fs.file, fs.reader, fs.ctx = f, r, ctx
	fs.logger.Debug("capture file opened")
	return nil
}

func openReader(br *bufio.Reader) (packetReader, error) {
	magic, err := br.Peek(4)
	if err != nil {
		return nil, err
	}
	// The section header block type reads the same in both byte orders.
	if binary.LittleEndian.Uint32(magic) == pcapngMagic {
		return pcapgo.NewNgReader(br, pcapgo.DefaultNgReaderOptions)
	}
	return pcapgo.NewReader(br)
}

// ReadPacket returns the next frame passing the filter. The frame data is
// owned by the caller.
func (fs *FileSource) ReadPacket() (core.RawPacket, error) {
	if fs.reader == nil {
		return core.RawPacket{}, errors.New("file source not started")
	}
	for {
		if err := fs.ctx.Err(); err != nil {
			return core.RawPacket{}, err
		}
		data, ci, err := fs.reader.ReadPacketData()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return core.RawPacket{}, io.EOF
			}
			return core.RawPacket{}, fmt.Errorf("failed to read packet: %w", err)
		}
		if !fs.filter.Match(data) {
			metrics.SourcePacketsTotal.WithLabelValues(fs.name, "filtered").Inc()
			continue
		}
		metrics.SourcePacketsTotal.WithLabelValues(fs.name, "accepted").Inc()
		return core.RawPacket{
			Data:           data,
			Timestamp:      ci.Timestamp,
			CaptureLen:     uint32(ci.CaptureLength),
			OrigLen:        uint32(ci.Length),
			InterfaceIndex: ci.InterfaceIndex,
		}, nil
	}
}

// Stop closes the file.
func (fs *FileSource) Stop() error {
	if fs.file == nil {
		return nil
	}
	err := fs.file.Close()
	fs.file, fs.reader = nil, nil
	return err
}
