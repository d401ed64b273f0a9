// Package core defines core data structures with zero external dependencies.
package core

import "time"

// RawPacket is a frame as read from a capture source. Data is not copied.
type RawPacket struct {
	Data           []byte    // Raw frame data, zero-copy slice
	Timestamp      time.Time // Capture timestamp
	CaptureLen     uint32    // Actual captured length
	OrigLen        uint32    // Original frame length
	InterfaceIndex int       // Network interface index
}
