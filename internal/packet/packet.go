// Package packet provides a chunk with two cursors for incremental header
// and trailer parsing.
package packet

import (
	"fmt"

	"firestige.xyz/pktstack/internal/chunk"
	"firestige.xyz/pktstack/internal/core"
)

// Packet is an ordered container over one shared root chunk. The header
// cursor counts bits popped from the front, the trailer cursor bits popped
// from the back; the data region lies between them.
//
// A Packet is owned by one goroutine. Chunks it returns are immutable and may
// be handed to others.
type Packet struct {
	name    string
	content chunk.Chunk
	front   core.Length
	back    core.Length
}

// New creates a packet whose content is the concatenation of content.
func New(name string, content ...chunk.Chunk) *Packet {
	p := &Packet{name: name}
	for _, c := range content {
		// Appending to a fresh packet cannot fail on cursors.
		_ = p.Append(c)
	}
	return p
}

func (p *Packet) Name() string { return p.name }

func (p *Packet) SetName(name string) { p.name = name }

func (p *Packet) TotalLen() core.Length {
	if p.content == nil {
		return 0
	}
	return p.content.Len()
}

// DataLen is the length of the region between the cursors.
func (p *Packet) DataLen() core.Length { return p.TotalLen() - p.front - p.back }

func (p *Packet) HeaderOffset() core.Length { return p.front }

// TrailerOffset counts bits popped from the back.
func (p *Packet) TrailerOffset() core.Length { return p.back }

// Content returns the root chunk, or an empty chunk for an empty packet.
func (p *Packet) Content() chunk.Chunk {
	if p.content == nil {
		return chunk.Share(chunk.NewEmpty())
	}
	return p.content
}

// Prepend inserts c in front of the content. Nothing may be prepended once a
// header has been popped.
func (p *Packet) Prepend(c chunk.Chunk) error {
	if c == nil {
		return fmt.Errorf("%w: prepend nil chunk", core.ErrInvalidInsertion)
	}
	if p.front > 0 {
		return fmt.Errorf("%w: prepend after %s of headers were popped", core.ErrInvalidInsertion, p.front)
	}
	root, err := p.insert(c, true)
	if err != nil {
		return err
	}
	p.content = root
	return p.check()
}

// Append inserts c after the content. Nothing may be appended once a trailer
// has been popped.
func (p *Packet) Append(c chunk.Chunk) error {
	if c == nil {
		return fmt.Errorf("%w: append nil chunk", core.ErrInvalidInsertion)
	}
	if p.back > 0 {
		return fmt.Errorf("%w: append after %s of trailers were popped", core.ErrInvalidInsertion, p.back)
	}
	root, err := p.insert(c, false)
	if err != nil {
		return err
	}
	p.content = root
	return p.check()
}

// insert builds the new root without touching p.
func (p *Packet) insert(c chunk.Chunk, atFront bool) (chunk.Chunk, error) {
	c.MarkImmutable()
	if p.TotalLen() == 0 {
		return c, nil
	}
	if c.Len() == 0 {
		return p.content, nil
	}

	var root chunk.Chunk
	var err error
	cheap := chunk.MergesCheaply(p.content)
	switch {
	case cheap && atFront && p.content.CanInsertAtBeginning(c):
		root = chunk.MutableCopy(p.content)
		err = root.InsertAtBeginning(c)
	case cheap && !atFront && p.content.CanInsertAtEnd(c):
		root = chunk.MutableCopy(p.content)
		err = root.InsertAtEnd(c)
	case atFront:
		root = chunk.NewSequence(c, p.content)
	default:
		root = chunk.NewSequence(p.content, c)
	}
	if err != nil {
		return nil, err
	}
	root.MarkImmutable()
	return root, nil
}

// PeekHeader returns length bits at the header cursor. core.Unspecified means
// the whole data region.
func (p *Packet) PeekHeader(length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.peekHeader(chunk.TagAny, length, flags)
}

// PeekHeaderAs returns the header at the cursor in the tag representation. An
// unspecified length lets the codec decide, bounded by the data region.
func (p *Packet) PeekHeaderAs(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.peekHeader(tag, length, flags)
}

// PopHeader peeks at the header cursor and advances it past the result.
func (p *Packet) PopHeader(length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.popHeader(chunk.TagAny, length, flags)
}

func (p *Packet) PopHeaderAs(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.popHeader(tag, length, flags)
}

func (p *Packet) PeekTrailer(length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.peekTrailer(chunk.TagAny, length, flags)
}

// PeekTrailerAs needs a length: records are decoded front to back.
func (p *Packet) PeekTrailerAs(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.peekTrailer(tag, length, flags)
}

// PopTrailer peeks at the trailer cursor and moves it back past the result.
func (p *Packet) PopTrailer(length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.popTrailer(chunk.TagAny, length, flags)
}

func (p *Packet) PopTrailerAs(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	return p.popTrailer(tag, length, flags)
}

func (p *Packet) peekHeader(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	if err := p.checkLength(length); err != nil {
		return nil, err
	}
	if length < 0 && tag == chunk.TagAny {
		length = p.DataLen()
	}
	if length < 0 && p.back > 0 {
		// Keep the codec from reading into popped trailers.
		region, err := p.PeekData(core.Unspecified)
		if err != nil {
			return nil, err
		}
		return chunk.PeekAs(region, tag, chunk.Forward(0), core.Unspecified, flags)
	}
	return chunk.PeekAs(p.Content(), tag, chunk.Forward(p.front), length, flags)
}

func (p *Packet) popHeader(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	c, err := p.peekHeader(tag, length, flags)
	if err != nil {
		return nil, err
	}
	if c != nil {
		p.front += c.Len()
	}
	return c, p.check()
}

func (p *Packet) peekTrailer(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	if err := p.checkLength(length); err != nil {
		return nil, err
	}
	if length < 0 && tag == chunk.TagAny {
		length = p.DataLen()
	}
	return chunk.PeekAs(p.Content(), tag, chunk.Backward(p.back), length, flags)
}

func (p *Packet) popTrailer(tag chunk.Tag, length core.Length, flags chunk.PeekFlags) (chunk.Chunk, error) {
	c, err := p.peekTrailer(tag, length, flags)
	if err != nil {
		return nil, err
	}
	if c != nil {
		p.back += c.Len()
	}
	return c, p.check()
}

func (p *Packet) checkLength(length core.Length) error {
	if length > p.DataLen() {
		return fmt.Errorf("%w: %s requested, %s of data left", core.ErrOutOfRange, length, p.DataLen())
	}
	return nil
}

// PeekData returns the first length bits of the data region.
func (p *Packet) PeekData(length core.Length) (chunk.Chunk, error) {
	return p.PeekDataAt(0, length)
}

// PeekDataAt returns length bits at offset within the data region.
// core.Unspecified means to the end of the region.
func (p *Packet) PeekDataAt(offset, length core.Length) (chunk.Chunk, error) {
	return p.peekRange(p.front, p.DataLen(), offset, length)
}

// PeekAll returns the whole content, ignoring the cursors.
func (p *Packet) PeekAll() chunk.Chunk { return p.Content() }

// PeekAt returns length bits at offset of the whole content.
func (p *Packet) PeekAt(offset, length core.Length) (chunk.Chunk, error) {
	return p.peekRange(0, p.TotalLen(), offset, length)
}

func (p *Packet) peekRange(start, size, offset, length core.Length) (chunk.Chunk, error) {
	if offset < 0 || offset > size {
		return nil, fmt.Errorf("%w: offset %s in region of %s", core.ErrOutOfRange, offset, size)
	}
	if length < 0 {
		length = size - offset
	}
	if offset+length > size {
		return nil, fmt.Errorf("%w: %s at %s in region of %s", core.ErrOutOfRange, length, offset, size)
	}
	return chunk.Peek(p.Content(), chunk.Forward(start+offset), length, chunk.AllowEmpty)
}

// RemoveFromBeginning drops n bits from the front of the content. The header
// cursor moves back with it. Popped trailers cannot be removed this way.
func (p *Packet) RemoveFromBeginning(n core.Length) error {
	if n < 0 || n > p.TotalLen()-p.back {
		return fmt.Errorf("%w: remove %s from front, %s removable", core.ErrInvalidRemoval, n, p.TotalLen()-p.back)
	}
	root, err := p.remainder(n, p.TotalLen()-n)
	if err != nil {
		return err
	}
	p.content = root
	p.front = max(0, p.front-n)
	return p.check()
}

// RemoveFromEnd is the mirror of RemoveFromBeginning.
func (p *Packet) RemoveFromEnd(n core.Length) error {
	if n < 0 || n > p.TotalLen()-p.front {
		return fmt.Errorf("%w: remove %s from back, %s removable", core.ErrInvalidRemoval, n, p.TotalLen()-p.front)
	}
	root, err := p.remainder(0, p.TotalLen()-n)
	if err != nil {
		return err
	}
	p.content = root
	p.back = max(0, p.back-n)
	return p.check()
}

func (p *Packet) remainder(offset, length core.Length) (chunk.Chunk, error) {
	if length == 0 {
		return nil, nil
	}
	c, err := chunk.Peek(p.Content(), chunk.Forward(offset), length, 0)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", core.ErrInvalidRemoval, err)
	}
	return chunk.Share(chunk.Simplify(c)), nil
}

// SetHeaderOffset moves the header cursor.
func (p *Packet) SetHeaderOffset(off core.Length) error {
	if off < 0 || off > p.TotalLen()-p.back {
		return fmt.Errorf("%w: header offset %s", core.ErrOutOfRange, off)
	}
	p.front = off
	return nil
}

// SetTrailerOffset moves the trailer cursor.
func (p *Packet) SetTrailerOffset(off core.Length) error {
	if off < 0 || off > p.TotalLen()-p.front {
		return fmt.Errorf("%w: trailer offset %s", core.ErrOutOfRange, off)
	}
	p.back = off
	return nil
}

// Trim drops popped headers and trailers, leaving only the data region.
func (p *Packet) Trim() error {
	root, err := p.remainder(p.front, p.DataLen())
	if err != nil {
		return err
	}
	p.content = root
	p.front, p.back = 0, 0
	return nil
}

// Dup returns a packet sharing the content, with its own cursors.
func (p *Packet) Dup() *Packet {
	d := *p
	return &d
}

func (p *Packet) String() string {
	return fmt.Sprintf("%s (%s, header %s, trailer %s) %s", p.name, p.TotalLen(), p.front, p.back, p.Content())
}

func (p *Packet) check() error {
	if p.front < 0 || p.back < 0 || p.front > p.TotalLen()-p.back {
		return fmt.Errorf("%w: cursors %s/%s cross in %s", core.ErrOutOfRange, p.front, p.back, p.TotalLen())
	}
	return nil
}
