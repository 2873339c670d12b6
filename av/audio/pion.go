package audio

import (
	"fmt"

	"github.com/opd-ai/savi/limits"
	"github.com/pion/opus"
	"github.com/sirupsen/logrus"
)

// silkFrameMs maps the low two bits of a SILK-only TOC configuration to the
// frame duration in milliseconds (RFC 6716 section 3.1).
var silkFrameMs = [4]int{10, 20, 40, 60}

// PionDecoder is a pure Go Decoder built on pion/opus. It handles SILK-only
// packets, which is what a VOIP encoder produces at speech bitrates, and
// needs no libopus on the receiving host. Output is converted to the
// decoder's configured sample rate and channel count, whatever bandwidth and
// layout the packet carried.
type PionDecoder struct {
	dec        opus.Decoder
	sampleRate int
	channels   int
	raw        []byte
	pcm        []int16
}

// NewPionDecoder creates a pure Go decoder producing interleaved PCM at
// sampleRate with the given channel count.
func NewPionDecoder(sampleRate, channels int) (*PionDecoder, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("%w: sample rate %d", ErrCodecInitialization, sampleRate)
	}

	logrus.WithFields(logrus.Fields{
		"function":    "NewPionDecoder",
		"sample_rate": sampleRate,
		"channels":    channels,
	}).Info("Creating pure Go Opus decoder")

	return &PionDecoder{
		dec:        opus.NewDecoder(),
		sampleRate: sampleRate,
		channels:   channels,
		raw:        make([]byte, limits.MaxDecodedSamples*2),
		pcm:        make([]int16, limits.MaxDecodedSamples),
	}, nil
}

// Decode expands one SILK packet into pcm.
func (d *PionDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if len(data) == 0 {
		return 0, ErrEmptyFrame
	}

	bandwidth, isStereo, err := d.dec.Decode(data, d.raw)
	if err != nil {
		return 0, fmt.Errorf("opus decode: %w", err)
	}

	channels := 1
	if isStereo {
		channels = 2
	}
	rate := bandwidth.SampleRate()
	n := rate * silkFrameMs[(data[0]>>3)&0x3] / 1000 * channels
	if n > len(d.pcm) {
		n = len(d.pcm)
	}
	for i := 0; i < n; i++ {
		d.pcm[i] = int16(d.raw[i*2]) | int16(d.raw[i*2+1])<<8
	}

	return ConvertPCM(d.pcm[:n], channels, rate, pcm, d.channels, d.sampleRate), nil
}
