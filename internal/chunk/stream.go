package chunk

import (
	"fmt"

	"firestige.xyz/pktstack/internal/core"
)

// bitWriter accumulates serialized content most significant bit first. Byte
// aligned writes append whole slices; everything else goes bit by bit.
type bitWriter struct {
	reg  *Registry
	buf  []byte
	bits core.Length
}

func newBitWriter(reg *Registry, hint core.Length) *bitWriter {
	if hint < 0 {
		hint = 0
	}
	return &bitWriter{reg: reg, buf: make([]byte, 0, (hint+7)/8)}
}

func (w *bitWriter) writeBit(v bool) {
	if w.bits%8 == 0 {
		w.buf = append(w.buf, 0)
	}
	if v {
		w.buf[len(w.buf)-1] |= 0x80 >> uint(w.bits%8)
	}
	w.bits++
}

func (w *bitWriter) writeBytes(p []byte) {
	if w.bits.IsByteAligned() {
		w.buf = append(w.buf, p...)
		w.bits += core.Bytes(len(p))
		return
	}
	for _, b := range p {
		for i := 0; i < 8; i++ {
			w.writeBit(b&(0x80>>uint(i)) != 0)
		}
	}
}

// writeWindow writes bits [off, off+n) of data.
func (w *bitWriter) writeWindow(data []byte, off, n core.Length) {
	if off.IsByteAligned() && n.IsByteAligned() {
		w.writeBytes(data[off.Bytes():(off + n).Bytes()])
		return
	}
	for i := off; i < off+n; i++ {
		w.writeBit(data[i/8]&(0x80>>uint(i%8)) != 0)
	}
}

// writeFill writes bits [off, off+n) of an endless run of fill bytes.
func (w *bitWriter) writeFill(off, n core.Length, fill byte) {
	if off.IsByteAligned() && n.IsByteAligned() && w.bits.IsByteAligned() {
		for i := 0; i < n.Bytes(); i++ {
			w.buf = append(w.buf, fill)
		}
		w.bits += n
		return
	}
	for i := off; i < off+n; i++ {
		w.writeBit(fill&(0x80>>uint(i%8)) != 0)
	}
}

func (w *bitWriter) bytes() ([]byte, error) {
	if !w.bits.IsByteAligned() {
		return nil, fmt.Errorf("%w: %s", core.ErrNotByteAligned, w.bits)
	}
	return w.buf, nil
}

func (w *bitWriter) bitSlice() []bool {
	out := make([]bool, w.bits)
	for i := range out {
		out[i] = w.buf[i/8]&(0x80>>uint(i%8)) != 0
	}
	return out
}
