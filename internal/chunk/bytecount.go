package chunk

import (
	"fmt"

	"firestige.xyz/pktstack/internal/core"
)

// ByteCount stands for n bytes whose values do not matter. Every byte
// serializes as the fill byte, so no memory is spent on content.
type ByteCount struct {
	chunkHeader
	length core.Length
	fill   byte
}

// NewByteCount creates a mutable chunk of n fill bytes.
func NewByteCount(n int, fill byte) *ByteCount {
	return &ByteCount{chunkHeader: newHeader(), length: core.Bytes(n), fill: fill}
}

func (b *ByteCount) Kind() Kind       { return KindByteCount }
func (b *ByteCount) Tag() Tag         { return TagByteCount }
func (b *ByteCount) Len() core.Length { return b.length }

// Fill returns the byte every position reads as.
func (b *ByteCount) Fill() byte { return b.fill }

func (b *ByteCount) CanInsertAtBeginning(c Chunk) bool { return b.canMerge(c) }
func (b *ByteCount) CanInsertAtEnd(c Chunk) bool       { return b.canMerge(c) }

func (b *ByteCount) canMerge(c Chunk) bool {
	o, ok := c.(*ByteCount)
	return ok && o.fill == b.fill
}

func (b *ByteCount) InsertAtBeginning(c Chunk) error {
	if err := checkInsert(b, c, b.CanInsertAtBeginning); err != nil {
		return err
	}
	b.length += c.Len()
	return nil
}

func (b *ByteCount) InsertAtEnd(c Chunk) error {
	if err := checkInsert(b, c, b.CanInsertAtEnd); err != nil {
		return err
	}
	b.length += c.Len()
	return nil
}

func (b *ByteCount) CanRemoveFromBeginning(n core.Length) bool { return n.IsByteAligned() }
func (b *ByteCount) CanRemoveFromEnd(n core.Length) bool       { return n.IsByteAligned() }

func (b *ByteCount) RemoveFromBeginning(n core.Length) error {
	if err := checkRemove(b, n, b.CanRemoveFromBeginning); err != nil {
		return err
	}
	b.length -= n
	return nil
}

func (b *ByteCount) RemoveFromEnd(n core.Length) error {
	if err := checkRemove(b, n, b.CanRemoveFromEnd); err != nil {
		return err
	}
	b.length -= n
	return nil
}

func (b *ByteCount) Dup() Chunk {
	return &ByteCount{chunkHeader: b.dupHeader(), length: b.length, fill: b.fill}
}

func (b *ByteCount) String() string {
	return fmt.Sprintf("ByteCount#%d(%s fill=%#02x%s)", b.id, b.length, b.fill, b.flagString())
}

func (b *ByteCount) peekUnchecked(r request) (Chunk, error) {
	n := r.span()
	if (r.tag == TagAny || r.tag == TagByteCount) && r.offset.IsByteAligned() && n.IsByteAligned() {
		// A narrower count is as cheap as a view and simpler to merge.
		sub := &ByteCount{chunkHeader: newHeader(), length: n, fill: b.fill}
		sub.flags |= b.flags | flagImmutable
		return sub, nil
	}
	if r.tag == TagAny {
		return viewOf(b, r)
	}
	return r.convert(b)
}

func (b *ByteCount) write(w *bitWriter, offset, length core.Length) error {
	w.writeFill(offset, length, b.fill)
	return nil
}
