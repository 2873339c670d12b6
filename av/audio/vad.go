package audio

import (
	"context"
	"errors"
	"math"
	"sync"
	"sync/atomic"

	"github.com/opd-ai/savi/av"
	"github.com/opd-ai/savi/observe"
	"github.com/sirupsen/logrus"
)

// intensityFloor keeps pure silence from reading as zero on a level meter.
const intensityFloor = 0.0002

// DefaultQueueSize is the number of encoded frames buffered between the
// capture callback and the network sender.
const DefaultQueueSize = 64

// Intensity returns the loudness metric of an interleaved PCM frame: the RMS
// of the normalized samples plus a small floor, scaled by 100 and truncated.
// An empty frame reads as 0.
func Intensity(frame []int16) int32 {
	if len(frame) == 0 {
		return 0
	}
	var sum float64
	for _, s := range frame {
		v := float64(s) / 32767.0
		sum += v * v
	}
	rms := math.Sqrt(sum / float64(len(frame)))
	return int32((rms + intensityFloor) * 100)
}

// VoiceActivityEncoder gates captured frames on loudness and compresses the
// ones that pass. Process is called from the capture device callback and
// never blocks: encoded frames go to a bounded channel and are dropped when
// the consumer falls behind.
type VoiceActivityEncoder struct {
	enc      Encoder
	settings *av.Settings
	channels int
	metrics  *observe.Metrics

	mu      sync.Mutex // guards enc and the close of out
	bitrate int32

	intensity atomic.Int32
	dropped   atomic.Uint64
	out       chan []byte
	closed    atomic.Bool
	closeOnce sync.Once
}

// NewVoiceActivityEncoder wraps enc. A queueSize of 0 selects
// DefaultQueueSize. A nil metrics uses observe.DefaultMetrics.
func NewVoiceActivityEncoder(enc Encoder, settings *av.Settings, channels, queueSize int, metrics *observe.Metrics) (*VoiceActivityEncoder, error) {
	if err := ValidateChannels(channels); err != nil {
		return nil, err
	}
	if enc == nil {
		return nil, errors.New("nil encoder")
	}
	if settings == nil {
		settings = av.NewSettings()
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}

	v := &VoiceActivityEncoder{
		enc:      enc,
		settings: settings,
		channels: channels,
		metrics:  metrics,
		bitrate:  settings.Bitrate(),
		out:      make(chan []byte, queueSize),
	}
	if err := enc.SetBitrate(int(v.bitrate)); err != nil {
		return nil, err
	}
	return v, nil
}

// Process runs one captured frame through the gate. The frame is not
// retained.
func (v *VoiceActivityEncoder) Process(frame []int16) {
	if v.closed.Load() {
		return
	}

	level := Intensity(frame)
	v.intensity.Store(level)

	ctx := context.Background()
	if level <= v.settings.Threshold() {
		v.metrics.FramesGated.Add(ctx, 1)
		return
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	if v.closed.Load() {
		return
	}
	if b := v.settings.Bitrate(); b != v.bitrate {
		if err := v.enc.SetBitrate(int(b)); err == nil {
			v.bitrate = b
		}
	}
	data, err := v.enc.Encode(frame)
	if err != nil {
		v.dropped.Add(1)
		v.metrics.FramesDropped.Add(ctx, 1, observe.Reason("encode_error"))
		logrus.WithFields(logrus.Fields{
			"function": "VoiceActivityEncoder.Process",
			"samples":  len(frame),
			"error":    err.Error(),
		}).Debug("Frame encoding failed")
		return
	}
	v.metrics.FramesEncoded.Add(ctx, 1)

	select {
	case v.out <- data:
	default:
		v.dropped.Add(1)
		v.metrics.FramesDropped.Add(ctx, 1, observe.Reason("queue_full"))
	}
}

// Intensity returns the level of the most recently processed frame,
// regardless of whether it passed the gate.
func (v *VoiceActivityEncoder) Intensity() int32 {
	return v.intensity.Load()
}

// SetThreshold updates the gate through the shared settings.
func (v *VoiceActivityEncoder) SetThreshold(threshold int32) {
	v.settings.SetThreshold(threshold)
}

// SetBitrate updates the shared setting and applies it to the codec without
// rebuilding it.
func (v *VoiceActivityEncoder) SetBitrate(bitrate int32) error {
	if err := v.settings.SetBitrate(bitrate); err != nil {
		return err
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.enc.SetBitrate(int(bitrate)); err != nil {
		return err
	}
	v.bitrate = bitrate
	return nil
}

// Frames returns the channel of encoded frames. It is closed by Close.
func (v *VoiceActivityEncoder) Frames() <-chan []byte {
	return v.out
}

// Dropped returns how many frames passed the gate but never reached the
// output channel.
func (v *VoiceActivityEncoder) Dropped() uint64 {
	return v.dropped.Load()
}

// Close stops accepting frames, closes the output channel and releases the
// codec. The capture device must be stopped first.
func (v *VoiceActivityEncoder) Close() error {
	var err error
	v.closeOnce.Do(func() {
		v.closed.Store(true)
		v.mu.Lock()
		err = v.enc.Close()
		close(v.out)
		v.mu.Unlock()
	})
	return err
}
