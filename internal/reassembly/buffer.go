// Package reassembly rebuilds contiguous content from pieces that arrive out
// of order: a generic offset-addressed Buffer, and IPv4 fragment and TCP
// stream trackers built on it.
package reassembly

import (
	"cmp"
	"fmt"
	"slices"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

// Region is a run of received content starting at Offset.
type Region struct {
	Offset core.Length
	Data   chunk.Chunk
}

// End returns the offset just past the region.
func (r Region) End() core.Length { return r.Offset + r.Data.Len() }

// Buffer collects writes at arbitrary offsets. Regions are kept sorted,
// disjoint and merged whenever they touch. Where writes overlap the later
// one wins.
//
// Buffer is not safe for concurrent use.
type Buffer struct {
	expected core.Length
	regions  []Region
}

// NewBuffer creates a buffer. A positive expected length additionally
// requires the content to cover exactly [0, expected) before the buffer
// reports completion; 0 means unknown.
func NewBuffer(expected core.Length) *Buffer {
	return &Buffer{expected: max(expected, 0)}
}

// SetData stores c at offset. Overlapped parts of earlier writes are cut
// away without copying.
func (b *Buffer) SetData(offset core.Length, c chunk.Chunk) error {
	if offset < 0 {
		return fmt.Errorf("%w: write at %s", core.ErrOutOfRange, offset)
	}
	if c == nil || c.Len() == 0 {
		return nil
	}
	c.MarkImmutable()
	nr := Region{Offset: offset, Data: c}
	end := nr.End()

	kept := make([]Region, 0, len(b.regions)+2)
	split := false
	for _, r := range b.regions {
		switch {
		case r.End() <= offset || r.Offset >= end:
			kept = append(kept, r)
		case offset <= r.Offset && r.End() <= end:
			// Fully overwritten.
		case r.Offset < offset && end < r.End():
			// Regions are disjoint, so at most one can straddle a write.
			if split {
				return fmt.Errorf("%w: write %s at %s straddles two regions", core.ErrOutOfRange, c.Len(), offset)
			}
			split = true
			before, err := cut(r, r.Offset, offset)
			if err != nil {
				return err
			}
			after, err := cut(r, end, r.End())
			if err != nil {
				return err
			}
			kept = append(kept, before, after)
		case r.Offset < offset:
			head, err := cut(r, r.Offset, offset)
			if err != nil {
				return err
			}
			kept = append(kept, head)
		default:
			tail, err := cut(r, end, r.End())
			if err != nil {
				return err
			}
			kept = append(kept, tail)
		}
	}

	i, _ := slices.BinarySearchFunc(kept, offset, func(r Region, off core.Length) int {
		return cmp.Compare(r.Offset, off)
	})
	kept = slices.Insert(kept, i, nr)

	if i+1 < len(kept) && kept[i].End() == kept[i+1].Offset {
		kept[i] = join(kept[i], kept[i+1])
		kept = slices.Delete(kept, i+1, i+2)
	}
	if i > 0 && kept[i-1].End() == kept[i].Offset {
		kept[i-1] = join(kept[i-1], kept[i])
		kept = slices.Delete(kept, i, i+1)
	}

	b.regions = kept
	return nil
}

// cut returns the part of r covering [from, to) as a zero-copy view.
func cut(r Region, from, to core.Length) (Region, error) {
	c, err := chunk.Peek(r.Data, chunk.Forward(from-r.Offset), to-from, 0)
	if err != nil {
		return Region{}, err
	}
	return Region{Offset: from, Data: chunk.Share(c)}, nil
}

// join concatenates two touching regions. The buffer grows a private
// sequence in place, so a run of in-order writes costs one element append
// each; freeze hands out the simplified result.
func join(a, b Region) Region {
	if seq, ok := a.Data.(*chunk.Sequence); ok && seq.IsMutable() {
		_ = seq.InsertAtEnd(b.Data)
		return Region{Offset: a.Offset, Data: seq}
	}
	if seq, ok := b.Data.(*chunk.Sequence); ok && seq.IsMutable() {
		_ = seq.InsertAtBeginning(a.Data)
		return Region{Offset: a.Offset, Data: seq}
	}
	return Region{Offset: a.Offset, Data: chunk.NewSequence(a.Data, b.Data)}
}

// freeze shares every region before it leaves the buffer. Adjacent views of
// one base collapse back into a single view.
func (b *Buffer) freeze() {
	for i, r := range b.regions {
		if r.Data.IsMutable() {
			b.regions[i].Data = chunk.Share(chunk.Simplify(r.Data))
		}
	}
}

// IsComplete reports whether everything received forms a single region that,
// when an expected length is known, covers exactly [0, expected).
func (b *Buffer) IsComplete() bool {
	if len(b.regions) != 1 {
		return false
	}
	if b.expected > 0 {
		r := b.regions[0]
		return r.Offset == 0 && r.End() == b.expected
	}
	return true
}

// Data returns the reassembled content, or nil while incomplete.
func (b *Buffer) Data() chunk.Chunk {
	if !b.IsComplete() {
		return nil
	}
	b.freeze()
	return b.regions[0].Data
}

// Len is the span from the lowest to the highest received offset. Gaps count,
// so it says nothing about how much was received; see Held.
func (b *Buffer) Len() core.Length {
	if len(b.regions) == 0 {
		return 0
	}
	return b.regions[len(b.regions)-1].End() - b.regions[0].Offset
}

// Held returns the amount of content actually stored.
func (b *Buffer) Held() core.Length {
	var n core.Length
	for _, r := range b.regions {
		n += r.Data.Len()
	}
	return n
}

// Start returns the lowest received offset.
func (b *Buffer) Start() core.Length {
	if len(b.regions) == 0 {
		return 0
	}
	return b.regions[0].Offset
}

// Expected returns the expected length, 0 when unknown.
func (b *Buffer) Expected() core.Length { return b.expected }

// SetExpected updates the expected length once it becomes known.
func (b *Buffer) SetExpected(n core.Length) { b.expected = max(n, 0) }

// Regions returns a copy of the region list.
func (b *Buffer) Regions() []Region {
	b.freeze()
	return slices.Clone(b.regions)
}

func (b *Buffer) Clear() { b.regions = nil }

// Filled returns everything from offset 0 to the end of the last region, or
// to the expected length when that is further, with gaps filled by zero bytes.
func (b *Buffer) Filled() chunk.Chunk {
	b.freeze()
	seq := chunk.NewSequence()
	var pos core.Length
	for _, r := range b.regions {
		if gap := r.Offset - pos; gap > 0 {
			_ = seq.InsertAtEnd(gapChunk(gap))
		}
		_ = seq.InsertAtEnd(r.Data)
		pos = r.End()
	}
	if tail := b.expected - pos; tail > 0 {
		_ = seq.InsertAtEnd(gapChunk(tail))
	}
	return chunk.Share(chunk.Simplify(seq))
}

func gapChunk(n core.Length) chunk.Chunk {
	if n.IsByteAligned() {
		return chunk.NewByteCount(n.Bytes(), 0)
	}
	return chunk.NewBits(make([]bool, n))
}
