package limits

import (
	"errors"
	"fmt"
)

const (
	// SequenceNumberSize is the width of the sequence number suffix carried by
	// every voice datagram.
	SequenceNumberSize = 8

	// LivenessPacketSize is the length of the readiness handshake datagram.
	LivenessPacketSize = 1

	// LivenessByte is the only byte of the readiness handshake datagram.
	LivenessByte byte = 1

	// MaxDatagramSize is the receive buffer size for voice datagrams.
	// Longer datagrams are truncated by the socket and decode as garbage.
	MaxDatagramSize = 1024

	// MaxPayloadSize is the largest compressed frame that fits a datagram
	// together with its sequence number.
	MaxPayloadSize = MaxDatagramSize - SequenceNumberSize

	// MaxDecodedSamples bounds the PCM buffer a single compressed frame may
	// decode into: 120 ms of stereo audio at 48 kHz.
	MaxDecodedSamples = 5760 * 2

	// MaxControlMessage is the largest signaling text frame accepted by the
	// relay and its clients (1MB).
	MaxControlMessage = 1024 * 1024
)

var (
	// ErrMessageEmpty indicates a zero-length payload or frame.
	ErrMessageEmpty = errors.New("empty message")

	// ErrMessageTooLarge indicates a payload or frame over its limit.
	ErrMessageTooLarge = errors.New("message too large")
)

// ValidatePayload checks a compressed voice frame against MaxPayloadSize.
func ValidatePayload(payload []byte) error {
	return checkSize("payload", len(payload), MaxPayloadSize)
}

// ValidateControlMessage checks a signaling text frame against
// MaxControlMessage.
func ValidateControlMessage(frame []byte) error {
	return checkSize("control message", len(frame), MaxControlMessage)
}

func checkSize(kind string, n, limit int) error {
	switch {
	case n == 0:
		return ErrMessageEmpty
	case n > limit:
		return fmt.Errorf("%w: %s of %d bytes, limit %d", ErrMessageTooLarge, kind, n, limit)
	}
	return nil
}
