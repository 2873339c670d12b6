package audio

import (
	"fmt"
	"sync"

	"github.com/opd-ai/savi/limits"
	"github.com/sirupsen/logrus"
	"layeh.com/gopus"
)

// Encoder compresses one PCM frame into one opaque compressed frame.
type Encoder interface {
	// Encode compresses interleaved PCM samples.
	Encode(pcm []int16) ([]byte, error)
	// SetBitrate updates the target bitrate in bits per second.
	SetBitrate(bitrate int) error
	// Close releases encoder resources.
	Close() error
}

// Decoder expands one compressed frame into PCM.
type Decoder interface {
	// Decode writes interleaved samples into pcm and returns how many were
	// written. Malformed input returns an error and leaves pcm unspecified.
	Decode(data []byte, pcm []int16) (int, error)
}

// ValidateChannels reports whether the codec supports the channel count.
func ValidateChannels(channels int) error {
	if channels != 1 && channels != 2 {
		return fmt.Errorf("%w: %d", ErrUnsupportedChannels, channels)
	}
	return nil
}

// OpusEncoder is an Encoder backed by libopus through gopus, tuned for voice
// (VOIP application, variable bitrate).
type OpusEncoder struct {
	mu       sync.Mutex
	enc      *gopus.Encoder
	channels int
	bitrate  int
}

// NewOpusEncoder creates a VOIP Opus encoder.
func NewOpusEncoder(sampleRate, channels, bitrate int) (*OpusEncoder, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}

	enc, err := gopus.NewEncoder(sampleRate, channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("%w: opus encoder: %v", ErrCodecInitialization, err)
	}
	enc.SetBitrate(bitrate)
	enc.SetVbr(true)

	logrus.WithFields(logrus.Fields{
		"function":    "NewOpusEncoder",
		"sample_rate": sampleRate,
		"channels":    channels,
		"bit_rate":    bitrate,
	}).Info("Opus encoder created")

	return &OpusEncoder{enc: enc, channels: channels, bitrate: bitrate}, nil
}

// Encode compresses one frame. The frame size per channel must be one Opus
// accepts (2.5, 5, 10, 20, 40 or 60 ms).
func (e *OpusEncoder) Encode(pcm []int16) ([]byte, error) {
	if len(pcm) == 0 {
		return nil, ErrEmptyFrame
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enc == nil {
		return nil, ErrEncoderClosed
	}
	data, err := e.enc.Encode(pcm, len(pcm)/e.channels, limits.MaxPayloadSize)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return data, nil
}

// SetBitrate updates the target bitrate without rebuilding the encoder.
func (e *OpusEncoder) SetBitrate(bitrate int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.enc == nil {
		return ErrEncoderClosed
	}
	e.enc.SetBitrate(bitrate)

	logrus.WithFields(logrus.Fields{
		"function":     "OpusEncoder.SetBitrate",
		"old_bit_rate": e.bitrate,
		"new_bit_rate": bitrate,
	}).Info("Opus encoder bit rate updated")
	e.bitrate = bitrate
	return nil
}

// Close releases the encoder.
func (e *OpusEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.enc = nil
	return nil
}

// OpusDecoder is a Decoder backed by libopus through gopus.
type OpusDecoder struct {
	dec      *gopus.Decoder
	channels int
}

// NewOpusDecoder creates an Opus decoder producing interleaved PCM at
// sampleRate with the given channel count.
func NewOpusDecoder(sampleRate, channels int) (*OpusDecoder, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}

	dec, err := gopus.NewDecoder(sampleRate, channels)
	if err != nil {
		return nil, fmt.Errorf("%w: opus decoder: %v", ErrCodecInitialization, err)
	}
	return &OpusDecoder{dec: dec, channels: channels}, nil
}

// Decode expands one Opus packet into pcm.
func (d *OpusDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyFrame
	}
	out, err := d.dec.Decode(data, len(pcm)/d.channels, false)
	if err != nil {
		return 0, fmt.Errorf("opus decode: %w", err)
	}
	return copy(pcm, out), nil
}
