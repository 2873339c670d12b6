package playback

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/savi/av/audio"
	"github.com/opd-ai/savi/av/device"
	"github.com/opd-ai/savi/limits"
	"github.com/opd-ai/savi/observe"
	"github.com/sirupsen/logrus"
)

// Scheduler drains the Queue from the playback device callback. Every
// callback waits until the queue holds at least one item, then decodes the
// oldest item when a second one is behind it, scales it by the volume byte
// recorded on receipt and writes it to the device buffer.
type Scheduler struct {
	queue    *Queue
	dec      audio.Decoder
	dev      device.PlaybackDevice
	channels int
	metrics  *observe.Metrics

	pcm          []int16 // only touched from the device callback
	stopped      atomic.Bool
	decodeErrors atomic.Uint64
	played       atomic.Uint64

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler reading from queue. A nil queue creates
// a fresh one; a nil metrics uses observe.DefaultMetrics.
func NewScheduler(queue *Queue, dec audio.Decoder, dev device.PlaybackDevice, channels int, metrics *observe.Metrics) (*Scheduler, error) {
	if err := audio.ValidateChannels(channels); err != nil {
		return nil, err
	}
	if dec == nil || dev == nil {
		return nil, fmt.Errorf("%w: decoder and device are required", device.ErrInvalidDeviceConfig)
	}
	if queue == nil {
		queue = NewQueue()
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Scheduler{
		queue:    queue,
		dec:      dec,
		dev:      dev,
		channels: channels,
		metrics:  metrics,
		pcm:      make([]int16, limits.MaxDecodedSamples),
	}, nil
}

// Queue returns the queue the scheduler consumes.
func (s *Scheduler) Queue() *Queue {
	return s.queue
}

// Start hands Fill to the playback device.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrSchedulerRunning
	}
	s.stopped.Store(false)
	s.queue.Resume()
	if err := s.dev.Start(s.Fill); err != nil {
		s.stopped.Store(true)
		s.queue.Pause()
		return err
	}
	s.running = true

	logrus.WithFields(logrus.Fields{
		"function": "Scheduler.Start",
		"channels": s.channels,
	}).Info("Playback started")
	return nil
}

// Stop marks the scheduler stopped, releases a callback blocked on the
// empty queue and stops the device. Queued items are kept.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil
	}
	s.running = false
	s.stopped.Store(true)
	s.queue.Pause()
	err := s.dev.Stop()

	logrus.WithFields(logrus.Fields{
		"function":      "Scheduler.Stop",
		"played":        s.played.Load(),
		"decode_errors": s.decodeErrors.Load(),
	}).Info("Playback stopped")
	return err
}

// Fill is the device callback. It writes len(out) interleaved samples.
func (s *Scheduler) Fill(out []int16) {
	if s.stopped.Load() {
		clear(out)
		return
	}

	item, waited := s.queue.Next()
	ctx := context.Background()
	if waited {
		s.metrics.PlaybackStalls.Add(ctx, 1)
	}
	if item == nil || s.stopped.Load() {
		clear(out)
		return
	}

	n, err := s.decode(item)
	if err != nil {
		s.decodeErrors.Add(1)
		s.metrics.DecodeErrors.Add(ctx, 1)
		logrus.WithFields(logrus.Fields{
			"function": "Scheduler.Fill",
			"size":     len(item),
			"error":    err.Error(),
		}).Debug("Dropping undecodable payload")
		clear(out)
		return
	}

	copied := copy(out, s.pcm[:n])
	clear(out[copied:])
	s.played.Add(1)
	s.metrics.PlaybackFrames.Add(ctx, 1)
}

// decode splits off the volume byte, decodes the payload into s.pcm and
// scales it in place.
func (s *Scheduler) decode(item []byte) (int, error) {
	if len(item) < 2 {
		return 0, fmt.Errorf("%w: item of %d bytes", ErrDecode, len(item))
	}
	payload, volume := item[:len(item)-1], item[len(item)-1]

	n, err := s.dec.Decode(payload, s.pcm)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	ScaleVolume(s.pcm[:n], volume)
	return n, nil
}

// DecodeErrors returns how many items were rejected by the decoder.
func (s *Scheduler) DecodeErrors() uint64 {
	return s.decodeErrors.Load()
}

// Played returns how many items reached the device.
func (s *Scheduler) Played() uint64 {
	return s.played.Load()
}

// ScaleVolume multiplies every sample by volume/100, saturating at the int16
// range. A volume of 100 leaves the samples unchanged.
func ScaleVolume(pcm []int16, volume uint8) {
	if volume == 100 {
		return
	}
	gain := float64(volume) / 100.0
	for i, v := range pcm {
		scaled := float64(v) * gain
		switch {
		case scaled > math.MaxInt16:
			pcm[i] = math.MaxInt16
		case scaled < math.MinInt16:
			pcm[i] = math.MinInt16
		default:
			pcm[i] = int16(scaled)
		}
	}
}
