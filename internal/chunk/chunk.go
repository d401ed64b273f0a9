// Package chunk implements the packet content model: runs of bits, bytes and
// structured fields that are immutable once shared and compose without copying
// payload bytes.
//
// A chunk starts out mutable and exclusively owned by whoever built it. As soon
// as it is inserted into another chunk or a packet it is marked immutable and
// may be referenced from any number of owners. Edits on shared content go
// through MutableCopy, which duplicates the chunk unless it is still mutable.
//
// Immutable chunk trees may be peeked from many goroutines at once. Mutating
// operations are confined to the owning goroutine.
package chunk

import (
	"fmt"
	"sync/atomic"

	"firestige.xyz/pktstack/internal/core"
)

// Kind is the variant tag of a chunk.
type Kind uint8

const (
	KindEmpty Kind = iota
	KindByteCount
	KindBytes
	KindBits
	KindFields
	KindSlice
	KindSequence
)

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "Empty"
	case KindByteCount:
		return "ByteCount"
	case KindBytes:
		return "Bytes"
	case KindBits:
		return "Bits"
	case KindFields:
		return "Fields"
	case KindSlice:
		return "Slice"
	case KindSequence:
		return "Sequence"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// Tag names a representation. Peek requests are keyed by tag, and codecs
// register the tags of the structured records they produce.
type Tag string

// Built-in representation tags.
const (
	TagAny       Tag = ""
	TagEmpty     Tag = "empty"
	TagByteCount Tag = "bytecount"
	TagBytes     Tag = "bytes"
	TagBits      Tag = "bits"
	TagSlice     Tag = "slice"
	TagSequence  Tag = "sequence"
)

func isBuiltinTag(t Tag) bool {
	switch t {
	case TagAny, TagEmpty, TagByteCount, TagBytes, TagBits, TagSlice, TagSequence:
		return true
	}
	return false
}

// Chunk is implemented only by the variants of this package: *Empty,
// *ByteCount, *Bytes, *Bits, *FieldsChunk, *Slice and *Sequence.
type Chunk interface {
	Kind() Kind
	Tag() Tag
	Len() core.Length
	ID() uint64

	IsMutable() bool
	MarkImmutable()

	IsComplete() bool
	IsCorrect() bool
	IsProperlyRepresented() bool
	MarkIncomplete() error
	MarkIncorrect() error
	MarkImproperlyRepresented() error

	CanInsertAtBeginning(c Chunk) bool
	CanInsertAtEnd(c Chunk) bool
	InsertAtBeginning(c Chunk) error
	InsertAtEnd(c Chunk) error

	CanRemoveFromBeginning(n core.Length) bool
	CanRemoveFromEnd(n core.Length) bool
	RemoveFromBeginning(n core.Length) error
	RemoveFromEnd(n core.Length) error

	// Dup returns a deep, independent and mutable copy. Shared children of
	// composite chunks stay shared since they are immutable.
	Dup() Chunk

	String() string

	hdr() *chunkHeader
	peekUnchecked(r request) (Chunk, error)
	write(w *bitWriter, offset, length core.Length) error
}

type chunkFlag uint8

const (
	flagImmutable chunkFlag = 1 << iota
	flagIncomplete
	flagIncorrect
	flagImproperlyRepresented
)

var nextID atomic.Uint64

// chunkHeader carries the identity and flags every variant shares.
type chunkHeader struct {
	id    uint64
	flags chunkFlag
}

func newHeader() chunkHeader {
	return chunkHeader{id: nextID.Add(1)}
}

// dupHeader keeps the content flags but drops immutability.
func (h *chunkHeader) dupHeader() chunkHeader {
	return chunkHeader{id: nextID.Add(1), flags: h.flags &^ flagImmutable}
}

func (h *chunkHeader) hdr() *chunkHeader { return h }

// ID returns a process-unique identifier, mostly useful in dumps.
func (h *chunkHeader) ID() uint64 { return h.id }

func (h *chunkHeader) IsMutable() bool { return h.flags&flagImmutable == 0 }

// MarkImmutable is one-way. It does not write when the chunk is already
// immutable, so concurrent readers of a shared tree never race on it.
func (h *chunkHeader) MarkImmutable() {
	if h.flags&flagImmutable == 0 {
		h.flags |= flagImmutable
	}
}

func (h *chunkHeader) IsComplete() bool            { return h.flags&flagIncomplete == 0 }
func (h *chunkHeader) IsCorrect() bool             { return h.flags&flagIncorrect == 0 }
func (h *chunkHeader) IsProperlyRepresented() bool { return h.flags&flagImproperlyRepresented == 0 }

func (h *chunkHeader) MarkIncomplete() error { return h.mark(flagIncomplete) }
func (h *chunkHeader) MarkIncorrect() error  { return h.mark(flagIncorrect) }
func (h *chunkHeader) MarkImproperlyRepresented() error {
	return h.mark(flagImproperlyRepresented)
}

func (h *chunkHeader) mark(f chunkFlag) error {
	if err := h.checkMutable(); err != nil {
		return err
	}
	h.flags |= f
	return nil
}

func (h *chunkHeader) checkMutable() error {
	if h.flags&flagImmutable != 0 {
		return fmt.Errorf("%w: chunk #%d", core.ErrNotMutable, h.id)
	}
	return nil
}

// flagString renders the non-default flags for dumps.
func (h *chunkHeader) flagString() string {
	s := ""
	if h.flags&flagImmutable == 0 {
		s += " mutable"
	}
	if h.flags&flagIncomplete != 0 {
		s += " incomplete"
	}
	if h.flags&flagIncorrect != 0 {
		s += " incorrect"
	}
	if h.flags&flagImproperlyRepresented != 0 {
		s += " improper"
	}
	return s
}

// checkInsert validates an insertion and marks the inserted chunk shared.
func checkInsert(self, c Chunk, can func(Chunk) bool) error {
	if err := self.hdr().checkMutable(); err != nil {
		return err
	}
	if c == nil {
		return fmt.Errorf("%w: nil chunk", core.ErrInvalidInsertion)
	}
	if !can(c) {
		return fmt.Errorf("%w: cannot insert %s into %s", core.ErrUnsupported, c.Kind(), self.Kind())
	}
	c.MarkImmutable()
	return nil
}

func checkRemove(self Chunk, n core.Length, can func(core.Length) bool) error {
	if err := self.hdr().checkMutable(); err != nil {
		return err
	}
	if n < 0 || n > self.Len() {
		return fmt.Errorf("%w: remove %s from %s chunk of %s", core.ErrOutOfRange, n, self.Kind(), self.Len())
	}
	if !can(n) {
		return fmt.Errorf("%w: cannot remove %s from %s", core.ErrUnsupported, n, self.Kind())
	}
	return nil
}

// Share marks c immutable and returns the same handle. This is the cheap
// "reference bump" counterpart of Dup: no content is copied.
func Share(c Chunk) Chunk {
	if c != nil {
		c.MarkImmutable()
	}
	return c
}

// MutableCopy returns c itself while it is still mutable (exclusively owned),
// and a mutable duplicate otherwise.
func MutableCopy(c Chunk) Chunk {
	if c.IsMutable() {
		return c
	}
	return c.Dup()
}

// maxMergeCopy bounds the leaf content a copy-on-write merge may duplicate.
const maxMergeCopy = core.Length(256 * 8)

// MergesCheaply reports whether c can absorb a neighbour without duplicating
// more than a short run of content. Mutable chunks grow in place, and views
// and counts merge by metadata alone. A long shared leaf would have to be
// copied whole, so it stays a separate element instead.
func MergesCheaply(c Chunk) bool {
	if c.IsMutable() {
		return true
	}
	switch c.Kind() {
	case KindBytes, KindBits:
		return c.Len() <= maxMergeCopy
	}
	return true
}

// Simplify returns the simplest equivalent chunk: the only element of a
// single-element sequence, or the base of a slice that covers all of it.
func Simplify(c Chunk) Chunk {
	switch v := c.(type) {
	case *Sequence:
		if len(v.elements) == 1 {
			return Simplify(v.elements[0])
		}
	case *Slice:
		if v.offset == 0 && v.length == v.base.Len() {
			return v.base
		}
	}
	return c
}
