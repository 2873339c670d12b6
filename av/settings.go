package av

import (
	"fmt"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Default values of the runtime settings.
const (
	DefaultThreshold = 0
	DefaultBitrate   = 96000
	DefaultVolume    = 100

	// MinBitrate and MaxBitrate bound the encoder target bitrate in bits per
	// second. These are the limits Opus accepts.
	MinBitrate = 500
	MaxBitrate = 512000
)

// Settings holds the process-wide runtime knobs shared between the capture
// pipeline, the transport and the playback scheduler. Every accessor is safe
// for concurrent use; no lock is held.
type Settings struct {
	threshold atomic.Int32
	bitrate   atomic.Int32
	volume    atomic.Uint32
}

// NewSettings returns Settings initialized with the defaults.
func NewSettings() *Settings {
	s := &Settings{}
	s.threshold.Store(DefaultThreshold)
	s.bitrate.Store(DefaultBitrate)
	s.volume.Store(DefaultVolume)
	return s
}

// Threshold returns the voice activity gate. Frames whose intensity is not
// strictly above it are dropped before encoding.
func (s *Settings) Threshold() int32 {
	return s.threshold.Load()
}

// SetThreshold updates the voice activity gate.
func (s *Settings) SetThreshold(threshold int32) {
	old := s.threshold.Swap(threshold)
	logrus.WithFields(logrus.Fields{
		"function": "Settings.SetThreshold",
		"old":      old,
		"new":      threshold,
	}).Debug("Capture threshold updated")
}

// Bitrate returns the encoder target bitrate in bits per second.
func (s *Settings) Bitrate() int32 {
	return s.bitrate.Load()
}

// SetBitrate updates the encoder target bitrate.
func (s *Settings) SetBitrate(bitrate int32) error {
	if bitrate < MinBitrate || bitrate > MaxBitrate {
		return fmt.Errorf("%w: %d bps outside [%d, %d]", ErrInvalidBitRate, bitrate, MinBitrate, MaxBitrate)
	}
	s.bitrate.Store(bitrate)
	return nil
}

// Volume returns the playback volume byte (0-255, semantically 0-100).
func (s *Settings) Volume() uint8 {
	return uint8(s.volume.Load())
}

// SetVolume updates the playback volume. It applies to packets received
// after the call.
func (s *Settings) SetVolume(volume uint8) {
	s.volume.Store(uint32(volume))
}
