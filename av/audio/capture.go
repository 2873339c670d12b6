package audio

import (
	"errors"
	"sync"

	"github.com/opd-ai/savi/av/device"
	"github.com/sirupsen/logrus"
)

// ErrCaptureRunning indicates Start was called on a running capture.
var ErrCaptureRunning = errors.New("capture already running")

// Capture binds a capture device to a VoiceActivityEncoder. The device
// callback feeds frames straight into Process.
type Capture struct {
	mu      sync.Mutex
	dev     device.CaptureDevice
	enc     *VoiceActivityEncoder
	running bool
}

// NewCapture creates an idle capture binding.
func NewCapture(dev device.CaptureDevice, enc *VoiceActivityEncoder) *Capture {
	return &Capture{dev: dev, enc: enc}
}

// Start begins delivering device frames to the encoder.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return ErrCaptureRunning
	}
	if err := c.dev.Start(c.enc.Process); err != nil {
		return err
	}
	c.running = true

	logrus.WithFields(logrus.Fields{
		"function": "Capture.Start",
		"channels": c.enc.channels,
	}).Info("Capture started")
	return nil
}

// Stop halts the device. The callback observes the stop before Stop returns,
// so no frame reaches the encoder afterwards. The encoder stays open and
// Start may be called again.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return nil
	}
	c.running = false
	err := c.dev.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "Capture.Stop",
		"dropped":  c.enc.Dropped(),
	}).Info("Capture stopped")
	return err
}

// Running reports whether the device is delivering frames.
func (c *Capture) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Encoder returns the bound encoder.
func (c *Capture) Encoder() *VoiceActivityEncoder {
	return c.enc
}
