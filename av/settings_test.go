package av

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewSettingsDefaults(t *testing.T) {
	s := NewSettings()

	assert.Equal(t, int32(DefaultThreshold), s.Threshold())
	assert.Equal(t, int32(DefaultBitrate), s.Bitrate())
	assert.Equal(t, uint8(DefaultVolume), s.Volume())
}

func TestSettingsSetters(t *testing.T) {
	s := NewSettings()

	s.SetThreshold(12)
	assert.Equal(t, int32(12), s.Threshold())

	assert.NoError(t, s.SetBitrate(64000))
	assert.Equal(t, int32(64000), s.Bitrate())

	s.SetVolume(255)
	assert.Equal(t, uint8(255), s.Volume())
}

func TestSettingsRejectsBitrateOutOfRange(t *testing.T) {
	s := NewSettings()

	assert.ErrorIs(t, s.SetBitrate(10), ErrInvalidBitRate)
	assert.ErrorIs(t, s.SetBitrate(MaxBitrate+1), ErrInvalidBitRate)
	assert.Equal(t, int32(DefaultBitrate), s.Bitrate())
}

func TestSettingsConcurrentAccess(t *testing.T) {
	s := NewSettings()
	var wg sync.WaitGroup

	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				s.SetThreshold(int32(j))
				s.SetVolume(uint8(i))
				_ = s.Threshold()
				_ = s.Volume()
			}
		}(i)
	}
	wg.Wait()
}
