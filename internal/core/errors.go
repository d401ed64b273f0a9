// Package core defines sentinel errors.
package core

import "errors"

// Sentinel errors. Call sites wrap them with fmt.Errorf("%w: ...") and callers
// match them with errors.Is.
var (
	// Chunk usage errors
	ErrNotMutable       = errors.New("pktstack: chunk is immutable")
	ErrOutOfRange       = errors.New("pktstack: range out of bounds")
	ErrInvalidRemoval   = errors.New("pktstack: invalid removal")
	ErrInvalidInsertion = errors.New("pktstack: invalid insertion")
	ErrUnsupported      = errors.New("pktstack: operation not supported by chunk kind")
	ErrNotByteAligned   = errors.New("pktstack: length is not byte aligned")

	// Content errors
	ErrMalformedData = errors.New("pktstack: malformed data")

	// Codec registry errors
	ErrCodecNotFound = errors.New("pktstack: codec not registered")
	ErrCodecExists   = errors.New("pktstack: codec already registered")

	// Packet decoding errors
	ErrPacketTooShort   = errors.New("pktstack: packet too short")
	ErrUnsupportedProto = errors.New("pktstack: unsupported protocol")

	// Reassembly errors
	ErrReassemblyTimeout = errors.New("pktstack: reassembly timeout")
	ErrReassemblyLimit   = errors.New("pktstack: reassembly limit exceeded")
	ErrFragmentPending   = errors.New("pktstack: fragment held for reassembly")

	// Configuration errors
	ErrConfigInvalid = errors.New("pktstack: invalid configuration")
)
