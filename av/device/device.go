// Package device describes the audio devices the voice pipeline runs on and
// provides two concrete implementations: a speaker backed by beep and a
// capture source that plays a WAV file in real time.
//
// A device is anything that periodically delivers (capture) or requests
// (playback) fixed-size frames of interleaved 16-bit PCM. The callback runs on
// the device's own goroutine; Stop returns only once the callback can no
// longer be entered.
package device

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrInvalidDeviceConfig indicates a device configuration that cannot be opened.
var ErrInvalidDeviceConfig = errors.New("invalid device configuration")

// ErrAlreadyStarted indicates Start was called on a running device.
var ErrAlreadyStarted = errors.New("device already started")

// ErrDeviceClosed indicates Start was called after Close.
var ErrDeviceClosed = errors.New("device closed")

// CaptureDevice delivers captured PCM frames to a callback. The callback
// must not block.
type CaptureDevice interface {
	Start(onFrame func(pcm []int16)) error
	Stop() error
}

// PlaybackDevice requests PCM frames from a callback. The callback fills the
// provided buffer; a buffer left untouched plays silence.
type PlaybackDevice interface {
	Start(fill func(out []int16)) error
	Stop() error
}

// Backend identifies the OS audio subsystem a device is opened on.
type Backend uint8

const (
	BackendNull Backend = iota
	BackendPulseAudio
	BackendALSA
	BackendJACK
	BackendCoreAudio
	BackendWASAPI
	BackendDirectSound
	BackendWinMM
	BackendAudio4
	BackendOSS
	BackendOpenSL
	BackendSndio
)

var backendNames = map[Backend]string{
	BackendNull:        "Null",
	BackendPulseAudio:  "PulseAudio",
	BackendALSA:        "ALSA",
	BackendJACK:        "JACK",
	BackendCoreAudio:   "CoreAudio",
	BackendWASAPI:      "Wasapi",
	BackendDirectSound: "DirectSound",
	BackendWinMM:       "WinMM",
	BackendAudio4:      "Audio4",
	BackendOSS:         "OSS",
	BackendOpenSL:      "OpenSL",
	BackendSndio:       "sndio",
}

// String returns the display name of the backend.
func (b Backend) String() string {
	if name, ok := backendNames[b]; ok {
		return name
	}
	return fmt.Sprintf("Backend(%d)", uint8(b))
}

// ParseBackend maps a display name to a Backend. Unknown names select
// BackendNull.
func ParseBackend(name string) Backend {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "pulseaudio":
		return BackendPulseAudio
	case "alsa":
		return BackendALSA
	case "jack":
		return BackendJACK
	case "coreaudio":
		return BackendCoreAudio
	case "wasapi":
		return BackendWASAPI
	case "directsound", "dsound":
		return BackendDirectSound
	case "winmm":
		return BackendWinMM
	case "audio4":
		return BackendAudio4
	case "oss":
		return BackendOSS
	case "opensl":
		return BackendOpenSL
	case "sndio":
		return BackendSndio
	default:
		return BackendNull
	}
}

// DefaultBackends lists the backends offered on an operating system, most
// preferred first.
func DefaultBackends(goos string) []Backend {
	switch goos {
	case "windows":
		return []Backend{BackendWASAPI, BackendDirectSound, BackendWinMM}
	case "linux":
		return []Backend{BackendPulseAudio, BackendALSA, BackendJACK}
	case "openbsd", "freebsd", "netbsd":
		return []Backend{BackendSndio, BackendAudio4, BackendOSS}
	case "darwin":
		return []Backend{BackendCoreAudio, BackendPulseAudio, BackendJACK}
	default:
		return []Backend{BackendNull}
	}
}

// Supported sample rates, the ones Opus operates at.
var supportedRates = []int{8000, 12000, 16000, 24000, 48000}

// Config describes one device. A session has at most one live capture and
// one live playback configuration.
type Config struct {
	Backend    Backend
	Channels   int
	SampleRate int
	Period     time.Duration
}

// DefaultConfig returns a mono 48 kHz configuration with a 10 ms period.
func DefaultConfig() Config {
	return Config{
		Backend:    BackendNull,
		Channels:   1,
		SampleRate: 48000,
		Period:     10 * time.Millisecond,
	}
}

// Validate reports whether the configuration can be opened.
func (c Config) Validate() error {
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("%w: %d channels (want 1 or 2)", ErrInvalidDeviceConfig, c.Channels)
	}
	rateOK := false
	for _, r := range supportedRates {
		if c.SampleRate == r {
			rateOK = true
			break
		}
	}
	if !rateOK {
		return fmt.Errorf("%w: sample rate %d", ErrInvalidDeviceConfig, c.SampleRate)
	}
	if c.Period <= 0 || c.FrameSamples() == 0 {
		return fmt.Errorf("%w: period %s", ErrInvalidDeviceConfig, c.Period)
	}
	return nil
}

// FramesPerPeriod returns the number of sample frames (one sample per
// channel) in one period.
func (c Config) FramesPerPeriod() int {
	return int(int64(c.SampleRate) * int64(c.Period) / int64(time.Second))
}

// FrameSamples returns the number of interleaved samples in one period.
func (c Config) FrameSamples() int {
	return c.FramesPerPeriod() * c.Channels
}
