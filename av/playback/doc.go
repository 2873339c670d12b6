// Package playback paces received voice frames to the output device.
//
// The transport pushes volume-tagged payloads into a Queue in sequence
// order. The Scheduler runs inside the device callback: it blocks while the
// queue is empty, always keeps one item back as lookahead, decodes the
// oldest item and scales it by the volume byte captured on receipt.
package playback
