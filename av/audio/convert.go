package audio

import (
	"github.com/gopxl/beep"
)

// resampleQuality is the beep resampler quality used for decoder output.
const resampleQuality = 4

// ConvertPCM rewrites interleaved PCM from (inRate, inChannels) into out at
// (outRate, outChannels) and returns the number of samples written. Mono is
// duplicated onto both sides; stereo is averaged down to mono. The output is
// truncated to len(out).
func ConvertPCM(in []int16, inChannels, inRate int, out []int16, outChannels, outRate int) int {
	if len(in) == 0 || inChannels <= 0 || outChannels <= 0 || inRate <= 0 || outRate <= 0 {
		return 0
	}

	frames := toStereo(in, inChannels)
	if inRate != outRate {
		frames = resample(frames, inRate, outRate)
	}

	n := len(frames)
	if limit := len(out) / outChannels; n > limit {
		n = limit
	}
	for i := 0; i < n; i++ {
		f := frames[i]
		if outChannels == 1 {
			out[i] = floatSample((f[0] + f[1]) / 2)
			continue
		}
		out[2*i] = floatSample(f[0])
		out[2*i+1] = floatSample(f[1])
	}
	return n * outChannels
}

func toStereo(in []int16, channels int) [][2]float64 {
	frames := make([][2]float64, len(in)/channels)
	for i := range frames {
		if channels == 1 {
			v := float64(in[i]) / 32768
			frames[i] = [2]float64{v, v}
			continue
		}
		frames[i][0] = float64(in[i*channels]) / 32768
		frames[i][1] = float64(in[i*channels+1]) / 32768
	}
	return frames
}

// resample converts one decoded packet. Each packet is resampled on its own;
// the resampler's edge samples are zero padded.
func resample(frames [][2]float64, inRate, outRate int) [][2]float64 {
	want := len(frames) * outRate / inRate
	src := &frameStreamer{frames: frames}
	r := beep.Resample(resampleQuality, beep.SampleRate(inRate), beep.SampleRate(outRate), src)

	out := make([][2]float64, want)
	got := 0
	for got < want {
		n, ok := r.Stream(out[got:])
		got += n
		if !ok || n == 0 {
			break
		}
	}
	return out
}

// frameStreamer plays a fixed slice of frames once.
type frameStreamer struct {
	frames [][2]float64
	pos    int
}

func (s *frameStreamer) Stream(samples [][2]float64) (int, bool) {
	if s.pos >= len(s.frames) {
		return 0, false
	}
	n := copy(samples, s.frames[s.pos:])
	s.pos += n
	return n, true
}

func (s *frameStreamer) Err() error { return nil }

func floatSample(v float64) int16 {
	v *= 32767
	switch {
	case v > 32767:
		return 32767
	case v < -32768:
		return -32768
	}
	return int16(v)
}
