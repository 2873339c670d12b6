package playback

import (
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDecoder emits the payload bytes as samples of value 1000*b.
type fakeDecoder struct{}

func (fakeDecoder) Decode(data []byte, pcm []int16) (int, error) {
	if len(data) > 0 && data[0] == 0xFF {
		return 0, errors.New("corrupt")
	}
	for i, b := range data {
		pcm[i] = int16(b) * 1000
	}
	return len(data), nil
}

// fakeDevice records the fill callback so tests can drive it.
type fakeDevice struct {
	mu      sync.Mutex
	fill    func([]int16)
	stopped bool
}

func (d *fakeDevice) Start(fill func([]int16)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fill = fill
	d.stopped = false
	return nil
}

func (d *fakeDevice) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stopped = true
	return nil
}

func newTestScheduler(t *testing.T) (*Scheduler, *fakeDevice) {
	t.Helper()
	dev := &fakeDevice{}
	s, err := NewScheduler(nil, fakeDecoder{}, dev, 1, nil)
	require.NoError(t, err)
	require.NoError(t, s.Start())
	t.Cleanup(func() { _ = s.Stop() })
	return s, dev
}

func TestNewScheduler_RejectsChannels(t *testing.T) {
	_, err := NewScheduler(nil, fakeDecoder{}, &fakeDevice{}, 0, nil)
	assert.Error(t, err)
}

func TestFill_DecodesAndScales(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Queue().Push([]byte{1, 2, 3, 50}, []byte{4, 100})

	out := []int16{9, 9, 9, 9, 9}
	s.Fill(out)

	assert.Equal(t, []int16{500, 1000, 1500, 0, 0}, out)
	assert.Equal(t, uint64(1), s.Played())
	assert.Equal(t, 1, s.Queue().Len())
}

func TestFill_TruncatesToRequestedLength(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Queue().Push([]byte{1, 2, 3, 4, 100}, []byte{1, 100})

	out := make([]int16, 2)
	s.Fill(out)
	assert.Equal(t, []int16{1000, 2000}, out)
}

func TestFill_SingleItemOutputsSilence(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Queue().Push([]byte{1, 100})

	out := []int16{5, 5}
	s.Fill(out)
	assert.Equal(t, []int16{0, 0}, out)
	assert.Equal(t, uint64(0), s.Played())
}

func TestFill_DecodeErrorZeroFills(t *testing.T) {
	s, _ := newTestScheduler(t)
	s.Queue().Push([]byte{0xFF, 100}, []byte{1, 100}, []byte{2, 100})

	out := []int16{5, 5}
	s.Fill(out)
	assert.Equal(t, []int16{0, 0}, out)
	assert.Equal(t, uint64(1), s.DecodeErrors())

	s.Fill(out)
	assert.Equal(t, []int16{1000, 0}, out, "next item still plays")
}

func TestStop_ReleasesBlockedCallback(t *testing.T) {
	s, _ := newTestScheduler(t)

	done := make(chan struct{})
	go func() {
		s.Fill(make([]int16, 4))
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, s.Stop())

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Stop did not release the callback")
	}
}

func TestStop_BeforeCallbackReachesQueue(t *testing.T) {
	s, _ := newTestScheduler(t)

	// A callback that passed its stopped check before Stop ran still reaches
	// the queue afterwards; it must not block there.
	require.NoError(t, s.Stop())

	done := make(chan []byte, 1)
	go func() {
		item, _ := s.Queue().Next()
		done <- item
	}()

	select {
	case item := <-done:
		assert.Nil(t, item)
	case <-time.After(time.Second):
		t.Fatal("callback blocked on the queue after Stop")
	}
}

func TestStart_AfterStopPlaysAgain(t *testing.T) {
	s, _ := newTestScheduler(t)
	require.NoError(t, s.Stop())
	require.NoError(t, s.Start())

	s.Queue().Push([]byte{2, 100}, []byte{3, 100})
	out := make([]int16, 1)
	s.Fill(out)
	assert.Equal(t, []int16{2000}, out)
}

func TestStart_Twice(t *testing.T) {
	s, _ := newTestScheduler(t)
	assert.ErrorIs(t, s.Start(), ErrSchedulerRunning)
}

func TestScaleVolume(t *testing.T) {
	tests := []struct {
		name   string
		in     []int16
		volume uint8
		want   []int16
	}{
		{"unity", []int16{100, -100}, 100, []int16{100, -100}},
		{"mute", []int16{100, -100}, 0, []int16{0, 0}},
		{"half", []int16{100, -100}, 50, []int16{50, -50}},
		{"saturates", []int16{math.MaxInt16, math.MinInt16}, 255, []int16{math.MaxInt16, math.MinInt16}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pcm := append([]int16(nil), tt.in...)
			ScaleVolume(pcm, tt.volume)
			assert.Equal(t, tt.want, pcm)
		})
	}
}
