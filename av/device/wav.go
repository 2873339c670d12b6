package device

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/sirupsen/logrus"
)

// resampleQuality is the beep resampler quality used when the file rate
// differs from the device rate.
const resampleQuality = 4

// WAVSource is a CaptureDevice that plays a WAV file into the capture
// callback in real time, one period per tick. It stands in for a microphone
// in headless setups. Stop pauses at the current position and a later Start
// resumes from there, or from the beginning once the file has been played
// out. Close releases the file.
type WAVSource struct {
	cfg Config
	r   io.ReadCloser

	mu       sync.Mutex
	cancel   context.CancelFunc
	done     chan struct{}
	streamer beep.StreamSeekCloser
	format   beep.Format
	closed   bool
}

// OpenWAVSource opens the WAV file at path as a capture source.
func OpenWAVSource(path string, cfg Config) (*WAVSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open wav: %w", err)
	}
	src, err := NewWAVSource(f, cfg)
	if err != nil {
		f.Close()
		return nil, err
	}
	return src, nil
}

// NewWAVSource creates a capture source reading WAV data from r. The source
// owns r and closes it on Close.
func NewWAVSource(r io.ReadCloser, cfg Config) (*WAVSource, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &WAVSource{cfg: cfg, r: r}, nil
}

// Done is closed when the current run ends, either on Stop or at end of
// file. Each Start begins a new run with a new channel.
func (w *WAVSource) Done() <-chan struct{} {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.done
}

// Start decodes the WAV header on first use and starts delivering frames to
// onFrame.
func (w *WAVSource) Start(onFrame func(pcm []int16)) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrDeviceClosed
	}
	if w.cancel != nil {
		select {
		case <-w.done:
			w.cancel()
			w.cancel = nil
		default:
			return ErrAlreadyStarted
		}
	}

	if w.streamer == nil {
		streamer, format, err := wav.Decode(w.r)
		if err != nil {
			return fmt.Errorf("decode wav: %w", err)
		}
		w.streamer, w.format = streamer, format
	} else if w.streamer.Position() >= w.streamer.Len() {
		if err := w.streamer.Seek(0); err != nil {
			return fmt.Errorf("rewind wav: %w", err)
		}
	}

	var s beep.Streamer = w.streamer
	target := beep.SampleRate(w.cfg.SampleRate)
	if w.format.SampleRate != target {
		logrus.WithFields(logrus.Fields{
			"function":  "WAVSource.Start",
			"file_rate": int(w.format.SampleRate),
			"rate":      w.cfg.SampleRate,
		}).Info("Resampling WAV input")
		s = beep.Resample(resampleQuality, w.format.SampleRate, target, w.streamer)
	}

	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	w.done = make(chan struct{})
	go w.run(ctx, s, onFrame, w.done)

	logrus.WithFields(logrus.Fields{
		"function":      "WAVSource.Start",
		"file_channels": w.format.NumChannels,
		"channels":      w.cfg.Channels,
		"position":      w.streamer.Position(),
		"period":        w.cfg.Period.String(),
	}).Info("WAV capture started")
	return nil
}
func (w *WAVSource) run(ctx context.Context, s beep.Streamer, onFrame func([]int16), done chan struct{}) {
	defer close(done)

	frames := w.cfg.FramesPerPeriod()
	samples := make([][2]float64, frames)
	pcm := make([]int16, w.cfg.FrameSamples())

	ticker := time.NewTicker(w.cfg.Period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		n, ok := s.Stream(samples)
		if n < frames {
			clear(samples[n:])
		}
		floatToPCM(samples, w.cfg.Channels, pcm)
		onFrame(pcm)

		if !ok || n < frames {
			logrus.WithFields(logrus.Fields{
				"function": "WAVSource.run",
			}).Info("WAV capture reached end of input")
			return
		}
	}
}

// Stop halts delivery and waits until the callback can no longer run. The
// file stays open so that Start can resume.
func (w *WAVSource) Stop() error {
	w.mu.Lock()
	cancel, done := w.cancel, w.done
	w.cancel = nil
	w.mu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

// Close stops delivery and releases the file. A closed source cannot be
// started again.
func (w *WAVSource) Close() error {
	if err := w.Stop(); err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true
	if w.streamer != nil {
		return w.streamer.Close()
	}
	return w.r.Close()
}
