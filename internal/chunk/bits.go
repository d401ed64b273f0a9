package chunk

import (
	"fmt"
	"slices"

	"firestige.xyz/pktstack/internal/core"
)

// Bits holds content that need not be byte aligned, one bool per bit.
type Bits struct {
	chunkHeader
	data []bool
}

// NewBits creates a mutable chunk that takes ownership of data.
func NewBits(data []bool) *Bits {
	return &Bits{chunkHeader: newHeader(), data: data}
}

func (b *Bits) Kind() Kind       { return KindBits }
func (b *Bits) Tag() Tag         { return TagBits }
func (b *Bits) Len() core.Length { return core.Bits(int64(len(b.data))) }

// Bits returns the content. It must not be modified.
func (b *Bits) Bits() []bool { return b.data }

func (b *Bits) Bit(i int) bool { return b.data[i] }

// SetBit overwrites one bit of a mutable chunk.
func (b *Bits) SetBit(i int, v bool) error {
	if err := b.checkMutable(); err != nil {
		return err
	}
	if i < 0 || i >= len(b.data) {
		return fmt.Errorf("%w: bit %d of %d", core.ErrOutOfRange, i, len(b.data))
	}
	b.data[i] = v
	return nil
}

func (b *Bits) CanInsertAtBeginning(c Chunk) bool { _, ok := c.(*Bits); return ok }
func (b *Bits) CanInsertAtEnd(c Chunk) bool       { _, ok := c.(*Bits); return ok }

func (b *Bits) InsertAtBeginning(c Chunk) error {
	if err := checkInsert(b, c, b.CanInsertAtBeginning); err != nil {
		return err
	}
	b.data = append(slices.Clip(c.(*Bits).data), b.data...)
	return nil
}

func (b *Bits) InsertAtEnd(c Chunk) error {
	if err := checkInsert(b, c, b.CanInsertAtEnd); err != nil {
		return err
	}
	b.data = append(slices.Clip(b.data), c.(*Bits).data...)
	return nil
}

func (b *Bits) CanRemoveFromBeginning(n core.Length) bool { return true }
func (b *Bits) CanRemoveFromEnd(n core.Length) bool       { return true }

func (b *Bits) RemoveFromBeginning(n core.Length) error {
	if err := checkRemove(b, n, b.CanRemoveFromBeginning); err != nil {
		return err
	}
	b.data = b.data[n:]
	return nil
}

func (b *Bits) RemoveFromEnd(n core.Length) error {
	if err := checkRemove(b, n, b.CanRemoveFromEnd); err != nil {
		return err
	}
	b.data = b.data[:core.Length(len(b.data))-n]
	return nil
}

func (b *Bits) Dup() Chunk {
	return &Bits{chunkHeader: b.dupHeader(), data: slices.Clone(b.data)}
}

func (b *Bits) String() string {
	return fmt.Sprintf("Bits#%d(%s%s)", b.id, b.Len(), b.flagString())
}

func (b *Bits) peekUnchecked(r request) (Chunk, error) {
	switch r.tag {
	case TagAny:
		return viewOf(b, r)
	case TagBits:
		end := r.offset + r.span()
		data := b.data[r.offset:end:end]
		if b.IsMutable() {
			data = slices.Clone(data)
		}
		out := &Bits{chunkHeader: newHeader(), data: data}
		out.flags = b.flags | flagImmutable
		return out, nil
	}
	return r.convert(b)
}

func (b *Bits) write(w *bitWriter, offset, length core.Length) error {
	for _, v := range b.data[offset : offset+length] {
		w.writeBit(v)
	}
	return nil
}
