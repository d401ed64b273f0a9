// Package sink delivers reassembled streams.
package sink

import (
	"fmt"
	"io"
	"sync"

	"firestige.xyz/pktstack/internal/reassembly"
)

// Sink consumes released streams. Implementations are safe for concurrent use.
type Sink interface {
	Write(st *reassembly.Stream) error
	Close() error
}

// ConsoleSink prints one summary line per stream.
type ConsoleSink struct {
	mu sync.Mutex
	w  io.Writer
}

func NewConsoleSink(w io.Writer) *ConsoleSink {
	return &ConsoleSink{w: w}
}

func (s *ConsoleSink) Write(st *reassembly.Stream) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := fmt.Fprintf(s.w, "%s %s held %s gaps %d complete %t\n",
		st.Key, st.Data.Len(), st.Held, st.Gaps, st.Complete)
	return err
}

func (s *ConsoleSink) Close() error { return nil }
