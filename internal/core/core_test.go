package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestLength(t *testing.T) {
	t.Run("Units", func(t *testing.T) {
		if Bytes(3).Bits() != 24 {
			t.Errorf("expected 24 bits, got %d", Bytes(3).Bits())
		}
		if Bits(17).Bytes() != 2 {
			t.Errorf("expected 2 whole bytes, got %d", Bits(17).Bytes())
		}
	})

	t.Run("Alignment", func(t *testing.T) {
		if !Bytes(5).IsByteAligned() {
			t.Error("5 bytes should be byte aligned")
		}
		if Bits(12).IsByteAligned() {
			t.Error("12 bits should not be byte aligned")
		}
	})

	t.Run("String", func(t *testing.T) {
		tests := []struct {
			l    Length
			want string
		}{
			{Bytes(10), "10B"},
			{Bits(13), "13b"},
			{Unspecified, "unspecified"},
			{0, "0B"},
		}
		for _, tt := range tests {
			if got := tt.l.String(); got != tt.want {
				t.Errorf("String(%d) = %q, want %q", int64(tt.l), got, tt.want)
			}
		}
	})

	t.Run("Specified", func(t *testing.T) {
		if Unspecified.IsSpecified() {
			t.Error("Unspecified must not be specified")
		}
		if !Length(0).IsSpecified() {
			t.Error("zero length is specified")
		}
	})
}

func TestIPHeaderIsFragment(t *testing.T) {
	var h IPHeader
	if h.IsFragment() {
		t.Error("zero header is not a fragment")
	}
	h.MoreFragments = true
	if !h.IsFragment() {
		t.Error("MF set means fragment")
	}
	h = IPHeader{FragmentOffset: 80}
	if !h.IsFragment() {
		t.Error("non-zero offset means fragment")
	}
}

// Test sentinel errors
func TestSentinelErrors(t *testing.T) {
	t.Run("ErrorIdentity", func(t *testing.T) {
		err := fmt.Errorf("%w: peek at 10B", ErrOutOfRange)
		if !errors.Is(err, ErrOutOfRange) {
			t.Error("errors.Is failed for wrapped ErrOutOfRange")
		}
		if errors.Is(err, ErrNotMutable) {
			t.Error("wrapped ErrOutOfRange must not match ErrNotMutable")
		}
	})

	t.Run("ErrorMessages", func(t *testing.T) {
		tests := []struct {
			err     error
			message string
		}{
			{ErrNotMutable, "pktstack: chunk is immutable"},
			{ErrOutOfRange, "pktstack: range out of bounds"},
			{ErrInvalidRemoval, "pktstack: invalid removal"},
			{ErrMalformedData, "pktstack: malformed data"},
			{ErrCodecNotFound, "pktstack: codec not registered"},
			{ErrReassemblyLimit, "pktstack: reassembly limit exceeded"},
		}

		for _, tt := range tests {
			if tt.err.Error() != tt.message {
				t.Errorf("expected error message %q, got %q", tt.message, tt.err.Error())
			}
		}
	})
}
