package savi

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/opd-ai/savi/av/audio"
	"github.com/opd-ai/savi/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// passthroughEncoder emits the first samples of a frame as bytes.
type passthroughEncoder struct{}

func (passthroughEncoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 4)
	for i := range out {
		out[i] = byte(pcm[i] >> 8)
	}
	return out, nil
}
func (passthroughEncoder) SetBitrate(int) error { return nil }
func (passthroughEncoder) Close() error         { return nil }

// passthroughDecoder turns bytes back into samples.
type passthroughDecoder struct{}

func (passthroughDecoder) Decode(data []byte, pcm []int16) (int, error) {
	for i, b := range data {
		pcm[i] = int16(b) << 8
	}
	return len(data), nil
}

// manualDevice hands its callback to the test.
type manualDevice struct {
	mu sync.Mutex
	cb func([]int16)
}

func (d *manualDevice) Start(cb func([]int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = cb
	return nil
}

func (d *manualDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cb = nil
	return nil
}

func (d *manualDevice) callback() func([]int16) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.cb
}

func loopbackOptions(username string) *Options {
	cfg := config.Default()
	cfg.Network.BindAddress = "127.0.0.1:0"
	cfg.Network.PollInterval = 5 * time.Millisecond
	cfg.Signaling.ListenAddress = "127.0.0.1"
	cfg.Audio.PlaybackChannels = 1

	opts := NewOptions()
	opts.Config = cfg
	opts.Username = username
	opts.NewEncoder = func(int, int, int) (audio.Encoder, error) { return passthroughEncoder{}, nil }
	opts.NewDecoder = func(int, int) (audio.Decoder, error) { return passthroughDecoder{}, nil }
	return opts
}

func newSession(t *testing.T, username string) *Session {
	t.Helper()
	s, err := New(loopbackOptions(username))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSession_HostAndConnect(t *testing.T) {
	ctx := context.Background()
	host := newSession(t, "ana")
	guest := newSession(t, "bo")

	info, err := host.Host(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, info.Key)
	assert.Contains(t, info.ListenAddress, "127.0.0.1:")

	require.NoError(t, guest.Connect(ctx, info.ListenAddress, info.Key))

	require.Eventually(t, func() bool { return host.Ready() && guest.Ready() },
		3*time.Second, 10*time.Millisecond)

	_, err = host.Host(ctx)
	assert.ErrorIs(t, err, ErrAlreadyJoined)
}

func TestSession_VoiceFlowsEndToEnd(t *testing.T) {
	ctx := context.Background()
	host := newSession(t, "ana")
	guest := newSession(t, "bo")

	mic := &manualDevice{}
	require.NoError(t, host.StartCapture(mic))
	out := &manualDevice{}
	require.NoError(t, guest.StartPlayback(out))

	info, err := host.Host(ctx)
	require.NoError(t, err)
	require.NoError(t, guest.Connect(ctx, info.ListenAddress, info.Key))
	require.Eventually(t, func() bool { return host.Ready() && guest.Ready() },
		3*time.Second, 10*time.Millisecond)

	frame := make([]int16, 480)
	for i := range frame {
		frame[i] = 0x1200
	}
	// Keep talking until at least two frames sit in the guest's queue.
	require.Eventually(t, func() bool {
		mic.callback()(frame)
		return guest.queue.Len() >= 2
	}, 3*time.Second, 5*time.Millisecond)
	assert.Greater(t, host.Intensity(), int32(0))

	pcm := make([]int16, 8)
	out.callback()(pcm)
	assert.Equal(t, []int16{0x1200, 0x1200, 0x1200, 0x1200, 0, 0, 0, 0}, pcm)
}

func TestSession_CaptureBeforeReadyIsDropped(t *testing.T) {
	s := newSession(t, "ana")
	mic := &manualDevice{}
	require.NoError(t, s.StartCapture(mic))
	assert.ErrorIs(t, s.StartCapture(mic), audio.ErrCaptureRunning)

	frame := make([]int16, 480)
	for i := range frame {
		frame[i] = 20000
	}
	mic.callback()(frame)
	assert.Greater(t, s.Intensity(), int32(50))

	require.NoError(t, s.StopCapture())
	require.NoError(t, s.StartCapture(mic), "capture restarts after stop")
}

func TestSession_RuntimeSettings(t *testing.T) {
	s := newSession(t, "ana")

	s.SetThreshold(40)
	assert.Equal(t, int32(40), s.settings.Threshold())
	s.SetVolume(30)
	assert.Equal(t, uint8(30), s.settings.Volume())
	require.NoError(t, s.SetBitrate(24000))
	assert.Equal(t, int32(24000), s.settings.Bitrate())
	assert.Error(t, s.SetBitrate(1))
	assert.Equal(t, int32(0), s.Intensity())
}

func TestSession_ConnectErrors(t *testing.T) {
	s := newSession(t, "ana")
	assert.Error(t, s.Connect(context.Background(), "no-port", "key"))
	assert.Error(t, s.Connect(context.Background(), "127.0.0.1:1", ""))
}

func TestSession_CloseIsIdempotent(t *testing.T) {
	s, err := New(loopbackOptions("ana"))
	require.NoError(t, err)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())

	_, err = s.Host(context.Background())
	assert.ErrorIs(t, err, ErrSessionClosed)
}
