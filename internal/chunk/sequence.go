package chunk

import (
	"fmt"
	"slices"
	"strings"

	"firestige.xyz/pktstack/internal/core"
)

// Sequence is the concatenation of shared chunks. It never holds empty
// elements or nested sequences, and adjacent elements that can merge cheaply
// are merged on insertion.
type Sequence struct {
	chunkHeader
	elements []Chunk
	length   core.Length
}

// NewSequence creates a mutable sequence of chunks, marking each of them
// immutable.
func NewSequence(chunks ...Chunk) *Sequence {
	s := &Sequence{chunkHeader: newHeader()}
	for _, c := range chunks {
		s.pushBack(c)
	}
	return s
}

func (s *Sequence) Kind() Kind       { return KindSequence }
func (s *Sequence) Tag() Tag         { return TagSequence }
func (s *Sequence) Len() core.Length { return s.length }

// Elements returns a copy of the element list.
func (s *Sequence) Elements() []Chunk { return slices.Clone(s.elements) }

func (s *Sequence) pushBack(c Chunk) {
	if c == nil || c.Len() == 0 {
		return
	}
	c.MarkImmutable()
	if inner, ok := c.(*Sequence); ok {
		for _, e := range inner.elements {
			s.pushBack(e)
		}
		return
	}
	if n := len(s.elements); n > 0 {
		if last := s.elements[n-1]; MergesCheaply(last) && last.CanInsertAtEnd(c) {
			m := MutableCopy(last)
			if m.InsertAtEnd(c) == nil {
				m.MarkImmutable()
				s.elements[n-1] = m
				s.length += c.Len()
				return
			}
		}
	}
	s.elements = append(s.elements, c)
	s.length += c.Len()
}

func (s *Sequence) pushFront(c Chunk) {
	if c == nil || c.Len() == 0 {
		return
	}
	c.MarkImmutable()
	if inner, ok := c.(*Sequence); ok {
		for i := len(inner.elements) - 1; i >= 0; i-- {
			s.pushFront(inner.elements[i])
		}
		return
	}
	if len(s.elements) > 0 {
		if first := s.elements[0]; MergesCheaply(first) && first.CanInsertAtBeginning(c) {
			m := MutableCopy(first)
			if m.InsertAtBeginning(c) == nil {
				m.MarkImmutable()
				s.elements[0] = m
				s.length += c.Len()
				return
			}
		}
	}
	s.elements = slices.Insert(s.elements, 0, c)
	s.length += c.Len()
}

func (s *Sequence) CanInsertAtBeginning(c Chunk) bool { return true }
func (s *Sequence) CanInsertAtEnd(c Chunk) bool       { return true }

func (s *Sequence) InsertAtBeginning(c Chunk) error {
	if err := checkInsert(s, c, s.CanInsertAtBeginning); err != nil {
		return err
	}
	s.pushFront(c)
	return nil
}

func (s *Sequence) InsertAtEnd(c Chunk) error {
	if err := checkInsert(s, c, s.CanInsertAtEnd); err != nil {
		return err
	}
	s.pushBack(c)
	return nil
}

func (s *Sequence) CanRemoveFromBeginning(n core.Length) bool { return true }
func (s *Sequence) CanRemoveFromEnd(n core.Length) bool       { return true }

// RemoveFromBeginning drops n bits. An element cut in two is replaced by a
// view of its remainder; nothing changes if that view cannot be made.
func (s *Sequence) RemoveFromBeginning(n core.Length) error {
	if err := checkRemove(s, n, s.CanRemoveFromBeginning); err != nil {
		return err
	}
	i, rem := 0, n
	for rem > 0 && rem >= s.elements[i].Len() {
		rem -= s.elements[i].Len()
		i++
	}
	if rem == 0 {
		s.elements = slices.Clone(s.elements[i:])
		s.length -= n
		return nil
	}
	e := s.elements[i]
	rest, err := DefaultRegistry.Peek(e, TagAny, Forward(rem), e.Len()-rem, 0)
	if err != nil {
		return err
	}
	rest.MarkImmutable()
	elems := make([]Chunk, 0, len(s.elements)-i)
	elems = append(elems, rest)
	s.elements = append(elems, s.elements[i+1:]...)
	s.length -= n
	return nil
}

// RemoveFromEnd is the mirror of RemoveFromBeginning.
func (s *Sequence) RemoveFromEnd(n core.Length) error {
	if err := checkRemove(s, n, s.CanRemoveFromEnd); err != nil {
		return err
	}
	j, rem := len(s.elements), n
	for rem > 0 && rem >= s.elements[j-1].Len() {
		rem -= s.elements[j-1].Len()
		j--
	}
	if rem == 0 {
		s.elements = slices.Clone(s.elements[:j])
		s.length -= n
		return nil
	}
	e := s.elements[j-1]
	rest, err := DefaultRegistry.Peek(e, TagAny, Forward(0), e.Len()-rem, 0)
	if err != nil {
		return err
	}
	rest.MarkImmutable()
	elems := slices.Clone(s.elements[:j])
	elems[j-1] = rest
	s.elements = elems
	s.length -= n
	return nil
}

func (s *Sequence) Dup() Chunk {
	return &Sequence{chunkHeader: s.dupHeader(), elements: slices.Clone(s.elements), length: s.length}
}

func (s *Sequence) String() string {
	parts := make([]string, len(s.elements))
	for i, e := range s.elements {
		parts[i] = e.String()
	}
	return fmt.Sprintf("Sequence#%d(%s%s)[%s]", s.id, s.length, s.flagString(), strings.Join(parts, ", "))
}

func (s *Sequence) peekUnchecked(r request) (Chunk, error) {
	var pos core.Length
	for _, e := range s.elements {
		el := e.Len()
		if r.offset >= pos+el {
			pos += el
			continue
		}
		if r.length < 0 {
			// Typed peek of unknown length: an element that already is the
			// record wins, anything else goes through the codec.
			if r.offset == pos && e.Tag() == r.tag && pos+el <= r.limit {
				return e, nil
			}
			return r.convert(s)
		}
		if r.offset+r.length <= pos+el {
			return r.within(pos, el).dispatch(e)
		}
		break
	}
	if r.tag != TagAny {
		return r.convert(s)
	}
	return s.pieces(r)
}

// pieces collects the elements overlapping r into a new shared sequence.
func (s *Sequence) pieces(r request) (Chunk, error) {
	out := &Sequence{chunkHeader: newHeader()}
	end := r.offset + r.length
	var pos core.Length
	for _, e := range s.elements {
		el := e.Len()
		if pos >= end {
			break
		}
		if pos+el > r.offset {
			a := max(r.offset, pos) - pos
			b := min(end, pos+el) - pos
			piece := e
			if a != 0 || b != el {
				sub := request{tag: TagAny, offset: a, length: b - a, limit: el, flags: r.flags, reg: r.reg}
				var err error
				if piece, err = sub.dispatch(e); err != nil {
					return nil, err
				}
			}
			out.pushBack(piece)
		}
		pos += el
	}
	out.MarkImmutable()
	return out, nil
}

func (s *Sequence) write(w *bitWriter, offset, length core.Length) error {
	end := offset + length
	var pos core.Length
	for _, e := range s.elements {
		el := e.Len()
		if pos >= end {
			break
		}
		if pos+el > offset {
			a := max(offset, pos) - pos
			b := min(end, pos+el) - pos
			if err := e.write(w, a, b-a); err != nil {
				return err
			}
		}
		pos += el
	}
	return nil
}
