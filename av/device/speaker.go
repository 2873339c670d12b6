package device

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/speaker"
	"github.com/sirupsen/logrus"
)

// The beep speaker is process-global and can only be initialized at one
// sample rate.
var (
	speakerMu   sync.Mutex
	speakerRate beep.SampleRate
)

func initSpeaker(rate beep.SampleRate, bufferSize int) error {
	speakerMu.Lock()
	defer speakerMu.Unlock()

	if speakerRate != 0 {
		if speakerRate != rate {
			return fmt.Errorf("%w: speaker already running at %d Hz", ErrInvalidDeviceConfig, speakerRate)
		}
		return nil
	}
	if err := speaker.Init(rate, bufferSize); err != nil {
		return fmt.Errorf("init speaker: %w", err)
	}
	speakerRate = rate
	return nil
}

// Speaker is a PlaybackDevice on the default output of the host, driven by
// the beep speaker.
type Speaker struct {
	cfg Config

	mu     sync.Mutex
	stream *pullStreamer
}

// NewSpeaker creates a speaker for the configuration. Nothing is opened
// until Start.
func NewSpeaker(cfg Config) (*Speaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Speaker{cfg: cfg}, nil
}

// Start begins requesting frames from fill, one period at a time.
func (s *Speaker) Start(fill func(out []int16)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream != nil {
		return ErrAlreadyStarted
	}

	rate := beep.SampleRate(s.cfg.SampleRate)
	if err := initSpeaker(rate, rate.N(s.cfg.Period)); err != nil {
		return err
	}

	s.stream = &pullStreamer{fill: fill, channels: s.cfg.Channels}
	speaker.Play(s.stream)

	logrus.WithFields(logrus.Fields{
		"function":    "Speaker.Start",
		"backend":     s.cfg.Backend.String(),
		"channels":    s.cfg.Channels,
		"sample_rate": s.cfg.SampleRate,
		"period":      s.cfg.Period.String(),
	}).Info("Playback device started")
	return nil
}

// Stop detaches the callback. The beep mixer holds its lock while streaming,
// so once Clear returns no callback is running or will run again.
func (s *Speaker) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stream == nil {
		return nil
	}
	s.stream.stopped.Store(true)
	speaker.Clear()
	s.stream = nil

	logrus.WithFields(logrus.Fields{
		"function": "Speaker.Stop",
	}).Info("Playback device stopped")
	return nil
}

// pullStreamer adapts a PCM fill callback to beep.Streamer.
type pullStreamer struct {
	fill     func(out []int16)
	channels int
	buf      []int16
	stopped  atomic.Bool
}

func (p *pullStreamer) Stream(samples [][2]float64) (int, bool) {
	if p.stopped.Load() {
		return 0, false
	}

	need := len(samples) * p.channels
	if cap(p.buf) < need {
		p.buf = make([]int16, need)
	}
	buf := p.buf[:need]
	clear(buf)

	p.fill(buf)
	pcmToFloat(buf, p.channels, samples)
	return len(samples), true
}

func (p *pullStreamer) Err() error { return nil }

// pcmToFloat converts interleaved int16 PCM to beep stereo samples. Mono is
// duplicated on both sides.
func pcmToFloat(pcm []int16, channels int, out [][2]float64) {
	for i := range out {
		if channels == 1 {
			v := float64(pcm[i]) / 32768
			out[i] = [2]float64{v, v}
			continue
		}
		out[i][0] = float64(pcm[2*i]) / 32768
		out[i][1] = float64(pcm[2*i+1]) / 32768
	}
}

// floatToPCM converts beep stereo samples to interleaved int16 PCM. Mono
// averages both sides.
func floatToPCM(in [][2]float64, channels int, pcm []int16) {
	for i, s := range in {
		if channels == 1 {
			pcm[i] = clampSample((s[0] + s[1]) / 2)
			continue
		}
		pcm[2*i] = clampSample(s[0])
		pcm[2*i+1] = clampSample(s[1])
	}
}

func clampSample(v float64) int16 {
	v *= 32767
	if v > 32767 {
		return 32767
	}
	if v < -32768 {
		return -32768
	}
	return int16(v)
}
