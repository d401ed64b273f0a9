package chunk

import (
	"fmt"

	"firestige.xyz/pktstack/internal/core"
)

// Slice is a zero-copy view of a range of an immutable base chunk. The base
// is never a Slice itself.
type Slice struct {
	chunkHeader
	base   Chunk
	offset core.Length
	length core.Length
}

// NewSlice creates a mutable view of base. Views of views collapse onto the
// innermost base.
func NewSlice(base Chunk, offset, length core.Length) (*Slice, error) {
	if base == nil {
		return nil, fmt.Errorf("%w: slice of nil chunk", core.ErrOutOfRange)
	}
	if base.IsMutable() {
		return nil, fmt.Errorf("%w: slice base %s must be shared first", core.ErrNotMutable, base)
	}
	if offset < 0 || length < 0 || offset+length > base.Len() {
		return nil, fmt.Errorf("%w: slice %s at %s of %s", core.ErrOutOfRange, length, offset, base.Len())
	}
	return newSlice(base, offset, length), nil
}

// newSlice skips validation. The view inherits the content flags of its base.
func newSlice(base Chunk, offset, length core.Length) *Slice {
	if inner, ok := base.(*Slice); ok {
		offset += inner.offset
		base = inner.base
	}
	s := &Slice{chunkHeader: newHeader(), base: base, offset: offset, length: length}
	s.flags = base.hdr().flags &^ flagImmutable
	return s
}

// viewOf answers an untyped peek on a leaf. Shared leaves get a view; a leaf
// still under construction gets a private copy so later edits cannot leak.
func viewOf(c Chunk, r request) (Chunk, error) {
	n := r.span()
	if !c.IsMutable() {
		s := newSlice(c, r.offset, n)
		s.MarkImmutable()
		return s, nil
	}
	r.tag = TagBits
	if r.offset.IsByteAligned() && n.IsByteAligned() {
		r.tag = TagBytes
	}
	r.length = n
	return r.convert(c)
}

func (s *Slice) Kind() Kind       { return KindSlice }
func (s *Slice) Tag() Tag         { return TagSlice }
func (s *Slice) Len() core.Length { return s.length }

// Base returns the viewed chunk.
func (s *Slice) Base() Chunk { return s.base }

// Offset returns where the view starts within its base.
func (s *Slice) Offset() core.Length { return s.offset }

// checkBase refuses to move the view over a base that can still change.
func (s *Slice) checkBase() error {
	if s.base.IsMutable() {
		return fmt.Errorf("%w: slice #%d views mutable #%d", core.ErrNotMutable, s.id, s.base.ID())
	}
	return nil
}

func (s *Slice) CanInsertAtBeginning(c Chunk) bool {
	o, ok := c.(*Slice)
	return ok && o.base == s.base && o.offset+o.length == s.offset
}

func (s *Slice) CanInsertAtEnd(c Chunk) bool {
	o, ok := c.(*Slice)
	return ok && o.base == s.base && s.offset+s.length == o.offset
}

func (s *Slice) InsertAtBeginning(c Chunk) error {
	if err := s.checkBase(); err != nil {
		return err
	}
	if err := checkInsert(s, c, s.CanInsertAtBeginning); err != nil {
		return err
	}
	s.offset -= c.Len()
	s.length += c.Len()
	return nil
}

func (s *Slice) InsertAtEnd(c Chunk) error {
	if err := s.checkBase(); err != nil {
		return err
	}
	if err := checkInsert(s, c, s.CanInsertAtEnd); err != nil {
		return err
	}
	s.length += c.Len()
	return nil
}

func (s *Slice) CanRemoveFromBeginning(n core.Length) bool { return true }
func (s *Slice) CanRemoveFromEnd(n core.Length) bool       { return true }

func (s *Slice) RemoveFromBeginning(n core.Length) error {
	if err := s.checkBase(); err != nil {
		return err
	}
	if err := checkRemove(s, n, s.CanRemoveFromBeginning); err != nil {
		return err
	}
	s.offset += n
	s.length -= n
	return nil
}

func (s *Slice) RemoveFromEnd(n core.Length) error {
	if err := s.checkBase(); err != nil {
		return err
	}
	if err := checkRemove(s, n, s.CanRemoveFromEnd); err != nil {
		return err
	}
	s.length -= n
	return nil
}

func (s *Slice) Dup() Chunk {
	return &Slice{chunkHeader: s.dupHeader(), base: s.base, offset: s.offset, length: s.length}
}

func (s *Slice) String() string {
	return fmt.Sprintf("Slice#%d(%s at %s of #%d%s)", s.id, s.length, s.offset, s.base.ID(), s.flagString())
}

func (s *Slice) peekUnchecked(r request) (Chunk, error) {
	return r.within(-s.offset, s.offset+s.length).dispatch(s.base)
}

func (s *Slice) write(w *bitWriter, offset, length core.Length) error {
	return s.base.write(w, s.offset+offset, length)
}
