package transport

import (
	"encoding/binary"
	"fmt"

	"github.com/opd-ai/savi/limits"
)

// EncodeVoicePacket returns payload followed by seq as an unsigned 64-bit
// little-endian integer. The payload is copied.
func EncodeVoicePacket(payload []byte, seq uint64) []byte {
	out := make([]byte, len(payload)+limits.SequenceNumberSize)
	copy(out, payload)
	binary.LittleEndian.PutUint64(out[len(payload):], seq)
	return out
}

// DecodeVoicePacket splits a datagram into payload and sequence number. The
// returned payload aliases data.
func DecodeVoicePacket(data []byte) ([]byte, uint64, error) {
	if len(data) < limits.SequenceNumberSize {
		return nil, 0, fmt.Errorf("%w: %d bytes", ErrMalformedPacket, len(data))
	}
	split := len(data) - limits.SequenceNumberSize
	return data[:split], binary.LittleEndian.Uint64(data[split:]), nil
}

// IsLiveness reports whether data is the readiness handshake datagram.
func IsLiveness(data []byte) bool {
	return len(data) == limits.LivenessPacketSize && data[0] == limits.LivenessByte
}

// livenessPacket is the readiness handshake datagram.
var livenessPacket = []byte{limits.LivenessByte}
