package chunk

import (
	"fmt"

	"firestige.xyz/pktstack/internal/core"
)

// Empty is the zero-length chunk.
type Empty struct {
	chunkHeader
}

// NewEmpty creates a mutable empty chunk.
func NewEmpty() *Empty {
	return &Empty{chunkHeader: newHeader()}
}

func (e *Empty) Kind() Kind       { return KindEmpty }
func (e *Empty) Tag() Tag         { return TagEmpty }
func (e *Empty) Len() core.Length { return 0 }

func (e *Empty) CanInsertAtBeginning(c Chunk) bool { return false }
func (e *Empty) CanInsertAtEnd(c Chunk) bool       { return false }

func (e *Empty) InsertAtBeginning(c Chunk) error {
	return checkInsert(e, c, e.CanInsertAtBeginning)
}

func (e *Empty) InsertAtEnd(c Chunk) error {
	return checkInsert(e, c, e.CanInsertAtEnd)
}

func (e *Empty) CanRemoveFromBeginning(n core.Length) bool { return n == 0 }
func (e *Empty) CanRemoveFromEnd(n core.Length) bool       { return n == 0 }

func (e *Empty) RemoveFromBeginning(n core.Length) error {
	return checkRemove(e, n, e.CanRemoveFromBeginning)
}

func (e *Empty) RemoveFromEnd(n core.Length) error {
	return checkRemove(e, n, e.CanRemoveFromEnd)
}

func (e *Empty) Dup() Chunk {
	return &Empty{chunkHeader: e.dupHeader()}
}

func (e *Empty) String() string {
	return fmt.Sprintf("Empty#%d(%s)", e.id, e.flagString())
}

func (e *Empty) peekUnchecked(r request) (Chunk, error) {
	return nil, fmt.Errorf("%w: peek %s at %s in empty chunk", core.ErrOutOfRange, r.length, r.offset)
}

func (e *Empty) write(w *bitWriter, offset, length core.Length) error {
	return nil
}
