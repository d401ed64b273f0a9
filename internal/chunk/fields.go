package chunk

import (
	"fmt"

	"firestige.xyz/pktstack/internal/core"
)

// FieldsChunk carries a structured record such as a decoded protocol header.
// Chunks produced by conversion remember the bytes they were decoded from and
// serialize those, so malformed input round-trips unchanged.
type FieldsChunk struct {
	chunkHeader
	fields Fields
	length core.Length
	raw    []byte
}

// NewFields creates a mutable chunk around f. Its length follows f.Len()
// until the chunk is shared.
func NewFields(f Fields) *FieldsChunk {
	return &FieldsChunk{chunkHeader: newHeader(), fields: f, length: core.Unspecified}
}

func (f *FieldsChunk) Kind() Kind { return KindFields }
func (f *FieldsChunk) Tag() Tag   { return f.fields.Tag() }

func (f *FieldsChunk) Len() core.Length {
	if f.length >= 0 {
		return f.length
	}
	return f.fields.Len()
}

// Fields returns the record. Callers may edit it only while the chunk is
// mutable; doing so discards the bytes it was decoded from.
func (f *FieldsChunk) Fields() Fields {
	if f.IsMutable() {
		f.raw = nil
	}
	return f.fields
}

func (f *FieldsChunk) CanInsertAtBeginning(c Chunk) bool { return false }
func (f *FieldsChunk) CanInsertAtEnd(c Chunk) bool       { return false }

func (f *FieldsChunk) InsertAtBeginning(c Chunk) error {
	return checkInsert(f, c, f.CanInsertAtBeginning)
}

func (f *FieldsChunk) InsertAtEnd(c Chunk) error {
	return checkInsert(f, c, f.CanInsertAtEnd)
}

func (f *FieldsChunk) CanRemoveFromBeginning(n core.Length) bool { return n == 0 }
func (f *FieldsChunk) CanRemoveFromEnd(n core.Length) bool       { return n == 0 }

func (f *FieldsChunk) RemoveFromBeginning(n core.Length) error {
	return checkRemove(f, n, f.CanRemoveFromBeginning)
}

func (f *FieldsChunk) RemoveFromEnd(n core.Length) error {
	return checkRemove(f, n, f.CanRemoveFromEnd)
}

func (f *FieldsChunk) Dup() Chunk {
	fields := f.fields
	if c, ok := fields.(Cloner); ok {
		fields = c.Clone()
	}
	d := &FieldsChunk{chunkHeader: f.dupHeader(), fields: fields, length: core.Unspecified}
	if !f.IsComplete() || !f.IsCorrect() {
		// The record does not describe its extent; keep the decoded one.
		d.length = f.Len()
	}
	return d
}

func (f *FieldsChunk) String() string {
	return fmt.Sprintf("Fields#%d(%s %s%s)", f.id, f.Tag(), f.Len(), f.flagString())
}

func (f *FieldsChunk) peekUnchecked(r request) (Chunk, error) {
	if r.tag == TagAny {
		return viewOf(f, r)
	}
	return r.convert(f)
}

func (f *FieldsChunk) write(w *bitWriter, offset, length core.Length) error {
	data, err := f.serialize(w.reg)
	if err != nil {
		return err
	}
	w.writeWindow(data, offset, length)
	return nil
}

// serialize renders exactly Len() bytes, padding or truncating what the codec
// produced.
func (f *FieldsChunk) serialize(reg *Registry) ([]byte, error) {
	n := f.Len()
	if !n.IsByteAligned() {
		return nil, fmt.Errorf("%w: %s record of %s", core.ErrNotByteAligned, f.Tag(), n)
	}
	data := f.raw
	if data == nil {
		if o, ok := f.fields.(*Opaque); ok {
			data = o.data
		} else {
			codec, ok := reg.Lookup(f.Tag())
			if !ok {
				return nil, fmt.Errorf("%w: %q", core.ErrCodecNotFound, f.Tag())
			}
			var err error
			if data, err = codec.Serialize(f.fields); err != nil {
				return nil, fmt.Errorf("serialize %s: %w", f.Tag(), err)
			}
		}
	}
	return fit(data, n.Bytes()), nil
}

func fit(data []byte, n int) []byte {
	if len(data) >= n {
		return data[:n]
	}
	out := make([]byte, n)
	copy(out, data)
	return out
}
