package chunk

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/cespare/xxhash/v2"

	"firestige.xyz/pktstack/internal/core"
)

// Iterator addresses a position inside a chunk, counted from the front or
// from the back.
type Iterator struct {
	backward bool
	pos      core.Length
}

// Forward returns an iterator pos bits after the front.
func Forward(pos core.Length) Iterator { return Iterator{pos: pos} }

// Backward returns an iterator pos bits before the back.
func Backward(pos core.Length) Iterator { return Iterator{backward: true, pos: pos} }

func (it Iterator) IsForward() bool        { return !it.backward }
func (it Iterator) Position() core.Length { return it.pos }

// PeekFlags relax or tighten what a peek may return. The zero value returns
// incomplete, incorrect and improperly represented chunks as they are, marked
// accordingly, so that corrupted content stays observable.
type PeekFlags uint8

const (
	// AllowNil makes an empty range return nil instead of failing.
	AllowNil PeekFlags = 1 << iota
	// AllowEmpty makes an empty range return an *Empty chunk.
	AllowEmpty
	// RequireComplete fails with core.ErrOutOfRange on incomplete results.
	RequireComplete
	// RequireCorrect fails with core.ErrMalformedData on incorrect results.
	RequireCorrect
	// RequireProperlyRepresented fails with core.ErrMalformedData when the
	// result does not serialize back to the bytes it was decoded from.
	RequireProperlyRepresented

	// Strict requires complete, correct and properly represented results.
	Strict = RequireComplete | RequireCorrect | RequireProperlyRepresented
)

// request is one peek, resolved to forward coordinates of the chunk it is
// dispatched to. limit bounds what an unspecified length may cover.
type request struct {
	tag    Tag
	offset core.Length
	length core.Length
	limit  core.Length
	flags  PeekFlags
	reg    *Registry
}

// Peek returns the range in its current representation, without copying.
func Peek(c Chunk, it Iterator, length core.Length, flags PeekFlags) (Chunk, error) {
	return DefaultRegistry.Peek(c, TagAny, it, length, flags)
}

// PeekAs returns the range in the representation named by tag, converting
// through the default registry when no existing sub-chunk has that tag.
func PeekAs(c Chunk, tag Tag, it Iterator, length core.Length, flags PeekFlags) (Chunk, error) {
	return DefaultRegistry.Peek(c, tag, it, length, flags)
}

// Has reports whether a complete tag representation exists at it.
func Has(c Chunk, tag Tag, it Iterator, length core.Length) bool {
	if length >= 0 && it.pos+length > c.Len() {
		return false
	}
	res, err := DefaultRegistry.Peek(c, tag, it, length, AllowNil|RequireComplete)
	return err == nil && res != nil
}

// Peek is the registry-bound form of PeekAs. A length of core.Unspecified lets
// the representation choose; for TagAny that is the rest of the chunk.
func (reg *Registry) Peek(c Chunk, tag Tag, it Iterator, length core.Length, flags PeekFlags) (Chunk, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: peek on nil chunk", core.ErrOutOfRange)
	}
	total := c.Len()
	if it.pos < 0 || it.pos > total {
		return nil, fmt.Errorf("%w: position %s in chunk of %s", core.ErrOutOfRange, it.pos, total)
	}
	if length < 0 {
		length = core.Unspecified
	}

	offset := it.pos
	if it.backward {
		if length < 0 {
			if tag != TagAny {
				return nil, fmt.Errorf("%w: backward peek as %q needs a length", core.ErrUnsupported, tag)
			}
			length = total - it.pos
		}
		offset = total - it.pos - length
	}
	if offset < 0 || (length >= 0 && offset+length > total) {
		return nil, fmt.Errorf("%w: peek %s at %s in chunk of %s", core.ErrOutOfRange, length, offset, total)
	}

	r := request{tag: tag, offset: offset, length: length, limit: total, flags: flags, reg: reg}
	res, err := r.dispatch(c)
	if err != nil {
		return nil, err
	}
	if res != nil {
		res.MarkImmutable()
	}
	return r.check(res)
}

func (r request) matches(c Chunk) bool {
	return r.tag == TagAny || c.Tag() == r.tag
}

// dispatch answers r against c: empty ranges and whole-chunk matches here,
// everything else in the variant's peekUnchecked.
func (r request) dispatch(c Chunk) (Chunk, error) {
	if r.tag == TagAny && r.length < 0 {
		r.length = r.limit - r.offset
	}
	if r.length == 0 || (r.length < 0 && r.limit == r.offset) {
		return r.empty(), nil
	}
	total := c.Len()
	if r.offset == 0 && r.matches(c) && (r.length == total || (r.length < 0 && r.limit >= total)) {
		if c.IsMutable() {
			// The owner may still edit c.
			d := c.Dup()
			d.MarkImmutable()
			return d, nil
		}
		return c, nil
	}
	return c.peekUnchecked(r)
}

// within re-bases r onto a child that starts at start and is n long.
func (r request) within(start, n core.Length) request {
	r.offset -= start
	r.limit = min(r.limit-start, n)
	return r
}

func (r request) empty() Chunk {
	if r.flags&AllowNil != 0 {
		return nil
	}
	e := NewEmpty()
	e.MarkImmutable()
	return e
}

func (r request) check(c Chunk) (Chunk, error) {
	if c == nil {
		if r.flags&AllowNil == 0 {
			return nil, fmt.Errorf("%w: nothing to peek", core.ErrOutOfRange)
		}
		return nil, nil
	}
	if c.Kind() == KindEmpty && r.flags&(AllowEmpty|AllowNil) == 0 {
		return nil, fmt.Errorf("%w: nothing to peek", core.ErrOutOfRange)
	}
	if r.flags&RequireComplete != 0 && !c.IsComplete() {
		return nil, fmt.Errorf("%w: incomplete %s", core.ErrOutOfRange, c)
	}
	if r.flags&RequireCorrect != 0 && !c.IsCorrect() {
		return nil, fmt.Errorf("%w: incorrect %s", core.ErrMalformedData, c)
	}
	if r.flags&RequireProperlyRepresented != 0 && !c.IsProperlyRepresented() {
		return nil, fmt.Errorf("%w: improperly represented %s", core.ErrMalformedData, c)
	}
	return c, nil
}

// span is the concrete extent of r: the requested length, or everything up
// to the limit.
func (r request) span() core.Length {
	if r.length >= 0 {
		return r.length
	}
	return r.limit - r.offset
}

// convert serializes the requested range of c and deserializes it as r.tag.
// Malformed content never fails the conversion; it yields a marked chunk.
func (r request) convert(c Chunk) (Chunk, error) {
	n := r.span()
	w := newBitWriter(r.reg, n)
	if err := c.write(w, r.offset, n); err != nil {
		return nil, err
	}

	var out Chunk
	switch r.tag {
	case TagBytes:
		data, err := w.bytes()
		if err != nil {
			return nil, err
		}
		out = NewBytes(data)
	case TagBits:
		out = NewBits(w.bitSlice())
	case TagByteCount:
		data, err := w.bytes()
		if err != nil {
			return nil, err
		}
		bc := NewByteCount(len(data), 0)
		if slices.ContainsFunc(data, func(b byte) bool { return b != 0 }) {
			bc.flags |= flagImproperlyRepresented
		}
		out = bc
	case TagAny, TagEmpty, TagSlice, TagSequence:
		return nil, fmt.Errorf("%w: %q is not a conversion target", core.ErrUnsupported, r.tag)
	default:
		data, err := w.bytes()
		if err != nil {
			return nil, err
		}
		fc, err := r.decode(data)
		if err != nil {
			return nil, err
		}
		out = fc
	}
	out.MarkImmutable()
	return out, nil
}

func (r request) decode(data []byte) (*FieldsChunk, error) {
	codec, ok := r.reg.Lookup(r.tag)
	if !ok {
		return nil, fmt.Errorf("%w: %q", core.ErrCodecNotFound, r.tag)
	}
	avail := core.Bytes(len(data))
	f, err := codec.Deserialize(data)
	if f == nil {
		f = &Opaque{tag: r.tag, data: data}
	}

	fc := &FieldsChunk{chunkHeader: newHeader(), fields: f, length: avail}
	switch {
	case errors.Is(err, io.ErrUnexpectedEOF):
		fc.flags |= flagIncomplete
	case err != nil:
		fc.flags |= flagIncorrect
		if l := f.Len(); l > 0 && l <= avail && r.length < 0 {
			fc.length = l
		}
	default:
		l := f.Len()
		switch {
		case l > avail:
			fc.flags |= flagIncomplete
		case l < avail && r.length >= 0:
			// The record does not describe the trailing bytes it was asked to cover.
			fc.flags |= flagImproperlyRepresented
		default:
			fc.length = l
		}
		if fc.IsComplete() && fc.IsProperlyRepresented() {
			ser, serr := codec.Serialize(f)
			if serr != nil || !bytes.Equal(ser, data[:fc.length.Bytes()]) {
				fc.flags |= flagImproperlyRepresented
			}
		}
	}
	fc.raw = data[:fc.length.Bytes():fc.length.Bytes()]
	return fc, nil
}

// Serialize returns the bytes of c, which must be byte aligned.
func Serialize(c Chunk) ([]byte, error) {
	return DefaultRegistry.Serialize(c)
}

// Serialize returns the bytes of c using the registry's codecs for fields.
func (reg *Registry) Serialize(c Chunk) ([]byte, error) {
	w := newBitWriter(reg, c.Len())
	if err := c.write(w, 0, c.Len()); err != nil {
		return nil, err
	}
	return w.bytes()
}

// SerializeBits returns the content of c bit by bit.
func SerializeBits(c Chunk) ([]bool, error) {
	w := newBitWriter(DefaultRegistry, c.Len())
	if err := c.write(w, 0, c.Len()); err != nil {
		return nil, err
	}
	return w.bitSlice(), nil
}

// Equal reports whether a and b serialize to the same bits.
func Equal(a, b Chunk) bool {
	if a == nil || b == nil {
		return a == b
	}
	if a.Len() != b.Len() {
		return false
	}
	wa := newBitWriter(DefaultRegistry, a.Len())
	wb := newBitWriter(DefaultRegistry, b.Len())
	if a.write(wa, 0, a.Len()) != nil || b.write(wb, 0, b.Len()) != nil {
		return false
	}
	return bytes.Equal(wa.buf, wb.buf)
}

// Digest is the xxhash64 of the serialized content of c.
func Digest(c Chunk) (uint64, error) {
	w := newBitWriter(DefaultRegistry, c.Len())
	if err := c.write(w, 0, c.Len()); err != nil {
		return 0, err
	}
	return xxhash.Sum64(w.buf), nil
}
