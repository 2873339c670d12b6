// Package audio implements the capture side of the voice pipeline and the
// codec adapters shared with playback.
//
// # Capture Pipeline
//
//	device callback → VoiceActivityEncoder.Process → Encoder → Frames()
//
// Every captured frame updates the exposed intensity, which UI level meters
// read through Intensity. Only frames whose intensity is strictly above the
// shared threshold are encoded; quieter frames cost nothing beyond the level
// computation. Encoded frames are delivered on a bounded channel and dropped
// when the consumer falls behind, so the device callback never blocks.
//
// # Codecs
//
// OpusEncoder and OpusDecoder wrap libopus through gopus in the VOIP
// application mode. PionDecoder is a pure Go alternative for the receive
// side that handles SILK-only payloads, useful on builds without cgo.
//
//	enc, err := audio.NewOpusEncoder(48000, 1, 96000)
//	if err != nil {
//		return err
//	}
//	vad, err := audio.NewVoiceActivityEncoder(enc, settings, 1, 0, nil)
//
// Channel counts other than 1 and 2 are rejected at construction with
// ErrUnsupportedChannels.
package audio
