// Package limits holds the size constants shared by the voice datagram codec,
// the playback decoder and the signaling relay.
//
//	voice datagram   payload (1..MaxPayloadSize) || seq (SequenceNumberSize, LE)
//	handshake        LivenessByte, exactly LivenessPacketSize long
//	receive buffer   MaxDatagramSize
//	decoded frame    at most MaxDecodedSamples interleaved samples
//	relay frame      at most MaxControlMessage bytes of text
//
// ValidatePayload and ValidateControlMessage return ErrMessageEmpty or a
// wrapped ErrMessageTooLarge, so callers can classify with errors.Is.
package limits
