package device

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gopxl/beep"
	"github.com/gopxl/beep/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBackend(t *testing.T) {
	tests := []struct {
		name string
		want Backend
	}{
		{"PulseAudio", BackendPulseAudio},
		{"ALSA", BackendALSA},
		{"JACK", BackendJACK},
		{"CoreAudio", BackendCoreAudio},
		{"Wasapi", BackendWASAPI},
		{"DirectSound", BackendDirectSound},
		{"DSound", BackendDirectSound},
		{"WinMM", BackendWinMM},
		{"Audio4", BackendAudio4},
		{"OSS", BackendOSS},
		{"OpenSL", BackendOpenSL},
		{"sndio", BackendSndio},
		{"something else", BackendNull},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseBackend(tt.name))
		})
	}
}

func TestBackendStringRoundTrip(t *testing.T) {
	for b := range backendNames {
		assert.Equal(t, b, ParseBackend(b.String()))
	}
	assert.Equal(t, "Backend(200)", Backend(200).String())
}

func TestDefaultBackends(t *testing.T) {
	assert.Equal(t, []Backend{BackendPulseAudio, BackendALSA, BackendJACK}, DefaultBackends("linux"))
	assert.Equal(t, BackendWASAPI, DefaultBackends("windows")[0])
	assert.Equal(t, BackendCoreAudio, DefaultBackends("darwin")[0])
	assert.Equal(t, BackendSndio, DefaultBackends("openbsd")[0])
	assert.Equal(t, []Backend{BackendNull}, DefaultBackends("plan9"))
}

func TestConfigValidate(t *testing.T) {
	valid := DefaultConfig()
	require.NoError(t, valid.Validate())
	assert.Equal(t, 480, valid.FramesPerPeriod())
	assert.Equal(t, 480, valid.FrameSamples())

	stereo := valid
	stereo.Channels = 2
	require.NoError(t, stereo.Validate())
	assert.Equal(t, 960, stereo.FrameSamples())

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"three_channels", func(c *Config) { c.Channels = 3 }},
		{"zero_channels", func(c *Config) { c.Channels = 0 }},
		{"odd_rate", func(c *Config) { c.SampleRate = 44100 }},
		{"zero_period", func(c *Config) { c.Period = 0 }},
		{"tiny_period", func(c *Config) { c.Period = time.Nanosecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(&cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalidDeviceConfig)
		})
	}
}

func TestNewSpeakerRejectsInvalidConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Channels = 6

	s, err := NewSpeaker(cfg)
	assert.Nil(t, s)
	assert.ErrorIs(t, err, ErrInvalidDeviceConfig)
}

func TestPullStreamerStopsAfterFlag(t *testing.T) {
	calls := 0
	p := &pullStreamer{
		channels: 2,
		fill: func(out []int16) {
			calls++
			for i := range out {
				out[i] = 16384
			}
		},
	}

	samples := make([][2]float64, 4)
	n, ok := p.Stream(samples)
	assert.Equal(t, 4, n)
	assert.True(t, ok)
	assert.InDelta(t, 0.5, samples[3][1], 1e-9)

	p.stopped.Store(true)
	n, ok = p.Stream(samples)
	assert.Equal(t, 0, n)
	assert.False(t, ok)
	assert.Equal(t, 1, calls)
	assert.NoError(t, p.Err())
}

func TestPCMConversion(t *testing.T) {
	pcm := []int16{32767, -32768, 0, 16384}
	out := make([][2]float64, 2)
	pcmToFloat(pcm, 2, out)

	back := make([]int16, 4)
	floatToPCM(out, 2, back)
	for i := range pcm {
		assert.InDelta(t, float64(pcm[i]), float64(back[i]), 2)
	}

	mono := make([]int16, 1)
	floatToPCM([][2]float64{{1, 0}}, 1, mono)
	assert.InDelta(t, 16383, float64(mono[0]), 1)

	assert.Equal(t, int16(32767), clampSample(3))
	assert.Equal(t, int16(-32768), clampSample(-3))
}

// constStreamer yields n samples of a constant value.
type constStreamer struct {
	value float64
	left  int
}

func (c *constStreamer) Stream(samples [][2]float64) (int, bool) {
	if c.left == 0 {
		return 0, false
	}
	n := min(len(samples), c.left)
	for i := 0; i < n; i++ {
		samples[i] = [2]float64{c.value, c.value}
	}
	c.left -= n
	return n, true
}

func (c *constStreamer) Err() error { return nil }

func writeTestWAV(t *testing.T, rate, frames int, value float64) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "input.wav")
	f, err := os.Create(path)
	require.NoError(t, err)

	format := beep.Format{SampleRate: beep.SampleRate(rate), NumChannels: 1, Precision: 2}
	require.NoError(t, wav.Encode(f, &constStreamer{value: value, left: frames}, format))
	require.NoError(t, f.Close())
	return path
}

func TestWAVSourceDeliversFramesUntilEOF(t *testing.T) {
	path := writeTestWAV(t, 48000, 960, 0.5)

	src, err := OpenWAVSource(path, DefaultConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	var frames [][]int16
	require.NoError(t, src.Start(func(pcm []int16) {
		mu.Lock()
		frames = append(frames, append([]int16(nil), pcm...))
		mu.Unlock()
	}))

	select {
	case <-src.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("wav source did not finish")
	}
	require.NoError(t, src.Close())

	mu.Lock()
	defer mu.Unlock()
	require.GreaterOrEqual(t, len(frames), 2)
	for _, f := range frames {
		assert.Len(t, f, 480)
	}
	assert.InDelta(t, 16383, float64(frames[0][0]), 3)
	assert.InDelta(t, 16383, float64(frames[1][479]), 3)
}

func TestWAVSourceStopIsObservedByCallback(t *testing.T) {
	path := writeTestWAV(t, 48000, 48000, 0.1)

	src, err := OpenWAVSource(path, DefaultConfig())
	require.NoError(t, err)

	var mu sync.Mutex
	stopped := false
	late := false
	require.NoError(t, src.Start(func(pcm []int16) {
		mu.Lock()
		if stopped {
			late = true
		}
		mu.Unlock()
	}))

	time.Sleep(35 * time.Millisecond)
	require.NoError(t, src.Stop())
	mu.Lock()
	stopped = true
	mu.Unlock()

	time.Sleep(30 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.False(t, late, "callback ran after Stop returned")
	require.NoError(t, src.Close())
}

func TestWAVSourceStartAfterStopResumes(t *testing.T) {
	path := writeTestWAV(t, 48000, 48000, 0.1)

	src, err := OpenWAVSource(path, DefaultConfig())
	require.NoError(t, err)
	defer src.Close()

	frames := make(chan struct{}, 256)
	onFrame := func([]int16) {
		select {
		case frames <- struct{}{}:
		default:
		}
	}

	require.NoError(t, src.Start(onFrame))
	assert.ErrorIs(t, src.Start(onFrame), ErrAlreadyStarted)
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame before Stop")
	}
	require.NoError(t, src.Stop())
	<-src.Done()

	for len(frames) > 0 {
		<-frames
	}
	require.NoError(t, src.Start(onFrame))
	select {
	case <-frames:
	case <-time.After(time.Second):
		t.Fatal("no frame after restart")
	}
	require.NoError(t, src.Stop())
}

func TestWAVSourceStartAfterEOFRewinds(t *testing.T) {
	path := writeTestWAV(t, 48000, 480, 0.5)

	src, err := OpenWAVSource(path, DefaultConfig())
	require.NoError(t, err)
	defer src.Close()

	var mu sync.Mutex
	var first []int16
	onFrame := func(pcm []int16) {
		mu.Lock()
		if first == nil {
			first = append([]int16(nil), pcm...)
		}
		mu.Unlock()
	}

	for run := 0; run < 2; run++ {
		mu.Lock()
		first = nil
		mu.Unlock()

		require.NoError(t, src.Start(onFrame))
		select {
		case <-src.Done():
		case <-time.After(2 * time.Second):
			t.Fatalf("run %d did not reach end of file", run)
		}

		mu.Lock()
		require.NotNil(t, first, "run %d delivered nothing", run)
		assert.InDelta(t, 16383, float64(first[0]), 3, "run %d", run)
		mu.Unlock()
	}
}

func TestWAVSourceStartAfterClose(t *testing.T) {
	path := writeTestWAV(t, 48000, 480, 0.5)

	src, err := OpenWAVSource(path, DefaultConfig())
	require.NoError(t, err)
	require.NoError(t, src.Close())
	require.NoError(t, src.Close())
	assert.ErrorIs(t, src.Start(func([]int16) {}), ErrDeviceClosed)
}

func TestOpenWAVSourceMissingFile(t *testing.T) {
	_, err := OpenWAVSource(filepath.Join(t.TempDir(), "missing.wav"), DefaultConfig())
	assert.Error(t, err)
}
