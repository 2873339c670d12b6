// Package av holds the runtime settings shared by the audio pipeline.
//
// Settings carries the capture threshold, encoder bitrate and playback
// volume as atomics so the capture callback, the transport receive loop and
// the control surface can read and update them without locking.
//
// The media pipeline lives in sub-packages:
//
//   - av/audio: voice activity gating, Opus encode and decode, capture wiring
//   - av/playback: the decoded-frame queue and the playback scheduler
//   - av/device: capture and playback device abstractions (beep speaker, WAV source)
package av
