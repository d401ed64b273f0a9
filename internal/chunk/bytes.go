package chunk

import (
	"fmt"
	"slices"

	"firestige.xyz/pktstack/internal/core"
)

// Bytes holds byte-aligned content.
type Bytes struct {
	chunkHeader
	data []byte
}

// NewBytes creates a mutable chunk that takes ownership of data.
func NewBytes(data []byte) *Bytes {
	return &Bytes{chunkHeader: newHeader(), data: data}
}

func (b *Bytes) Kind() Kind       { return KindBytes }
func (b *Bytes) Tag() Tag         { return TagBytes }
func (b *Bytes) Len() core.Length { return core.Bytes(len(b.data)) }

// Bytes returns the content. It must not be modified.
func (b *Bytes) Bytes() []byte { return b.data }

func (b *Bytes) Byte(i int) byte { return b.data[i] }

// SetByte overwrites one byte of a mutable chunk.
func (b *Bytes) SetByte(i int, v byte) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if i < 0 || i >= len(b.data) {
		return fmt.Errorf("%w: byte %d of %d", core.ErrOutOfRange, i, len(b.data))
	}
	b.data[i] = v
	return nil
}

func (b *Bytes) CanInsertAtBeginning(c Chunk) bool { _, ok := c.(*Bytes); return ok }
func (b *Bytes) CanInsertAtEnd(c Chunk) bool       { _, ok := c.(*Bytes); return ok }

func (b *Bytes) InsertAtBeginning(c Chunk) error {
	if err := checkInsert(b, c, b.CanInsertAtBeginning); err != nil {
		return err
	}
	// Clipped so a shared backing array is never written through.
	b.data = append(slices.Clip(c.(*Bytes).data), b.data...)
	return nil
}

func (b *Bytes) InsertAtEnd(c Chunk) error {
	if err := checkInsert(b, c, b.CanInsertAtEnd); err != nil {
		return err
	}
	b.data = append(slices.Clip(b.data), c.(*Bytes).data...)
	return nil
}

func (b *Bytes) CanRemoveFromBeginning(n core.Length) bool { return n.IsByteAligned() }
func (b *Bytes) CanRemoveFromEnd(n core.Length) bool       { return n.IsByteAligned() }

func (b *Bytes) RemoveFromBeginning(n core.Length) error {
	if err := checkRemove(b, n, b.CanRemoveFromBeginning); err != nil {
		return err
	}
	b.data = b.data[n.Bytes():]
	return nil
}

func (b *Bytes) RemoveFromEnd(n core.Length) error {
	if err := checkRemove(b, n, b.CanRemoveFromEnd); err != nil {
		return err
	}
	b.data = b.data[:len(b.data)-n.Bytes()]
	return nil
}

func (b *Bytes) Dup() Chunk {
	return &Bytes{chunkHeader: b.dupHeader(), data: slices.Clone(b.data)}
}

func (b *Bytes) String() string {
	return fmt.Sprintf("Bytes#%d(%s%s)", b.id, b.Len(), b.flagString())
}

func (b *Bytes) peekUnchecked(r request) (Chunk, error) {
	n := r.span()
	switch {
	case r.tag == TagAny:
		return viewOf(b, r)
	case r.tag == TagBytes && r.offset.IsByteAligned() && n.IsByteAligned():
		a, e := r.offset.Bytes(), (r.offset + n).Bytes()
		data := b.data[a:e:e]
		if b.IsMutable() {
			data = slices.Clone(data)
		}
		out := &Bytes{chunkHeader: newHeader(), data: data}
		out.flags = b.flags | flagImmutable
		return out, nil
	}
	return r.convert(b)
}

func (b *Bytes) write(w *bitWriter, offset, length core.Length) error {
	w.writeWindow(b.data, offset, length)
	return nil
}
