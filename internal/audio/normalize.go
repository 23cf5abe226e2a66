// Package audio converts native-format capture buffers into canonical
// float32 samples at the engine's working sample rate.
package audio

import (
	"encoding/binary"
	"fmt"
)

// Normalizer converts interleaved little-endian int16 PCM of arbitrary
// sample rate and channel count into per-channel float32 samples in
// [-1.0, 1.0] at a fixed target rate.
type Normalizer struct {
	targetRate int
}

func NewNormalizer(targetRate int) *Normalizer {
	return &Normalizer{targetRate: targetRate}
}

// TargetRate returns the working sample rate all output is normalized to.
func (n *Normalizer) TargetRate() int {
	return n.targetRate
}

// Normalize decodes pcm and returns one float32 slice per channel, each
// resampled to the target rate. The input is not retained.
func (n *Normalizer) Normalize(pcm []byte, sampleRate, channels int) ([][]float32, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("normalize: invalid sample rate %d", sampleRate)
	}
	if channels <= 0 {
		return nil, fmt.Errorf("normalize: invalid channel count %d", channels)
	}
	if len(pcm)%(2*channels) != 0 {
		return nil, fmt.Errorf("normalize: pcm payload not aligned to %d-channel int16 frames", channels)
	}

	frames := len(pcm) / (2 * channels)
	out := make([][]float32, channels)
	for ch := 0; ch < channels; ch++ {
		samples := make([]float32, frames)
		for i := 0; i < frames; i++ {
			idx := (i*channels + ch) * 2
			s := int16(binary.LittleEndian.Uint16(pcm[idx:]))
			samples[i] = float32(s) / 32768.0
		}
		out[ch] = Resample(samples, sampleRate, n.targetRate)
	}
	return out, nil
}

// Downmix averages an arbitrary number of channels into a single mono
// stream. Channels of unequal length are mixed up to the shortest.
func Downmix(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	if len(channels) == 1 {
		return channels[0]
	}
	n := len(channels[0])
	for _, ch := range channels[1:] {
		if len(ch) < n {
			n = len(ch)
		}
	}
	out := make([]float32, n)
	scale := float32(1) / float32(len(channels))
	for i := 0; i < n; i++ {
		var sum float32
		for _, ch := range channels {
			sum += ch[i]
		}
		out[i] = sum * scale
	}
	return out
}

// Resample converts samples from srcRate to dstRate using linear
// interpolation. The input is returned unchanged when no conversion is
// needed.
func Resample(samples []float32, srcRate, dstRate int) []float32 {
	if srcRate <= 0 || dstRate <= 0 || srcRate == dstRate || len(samples) < 2 {
		return samples
	}
	dstLen := int(int64(len(samples)) * int64(dstRate) / int64(srcRate))
	if dstLen == 0 {
		return nil
	}

	out := make([]float32, dstLen)
	ratio := float64(srcRate) / float64(dstRate)
	for i := 0; i < dstLen; i++ {
		srcPos := float64(i) * ratio
		srcIdx := int(srcPos)
		frac := float32(srcPos - float64(srcIdx))

		s0 := samples[srcIdx]
		s1 := s0
		if srcIdx+1 < len(samples) {
			s1 = samples[srcIdx+1]
		}
		out[i] = s0*(1-frac) + s1*frac
	}
	return out
}

// EncodePCM16 converts float32 samples back to little-endian int16 PCM.
// Values outside [-1, 1] are clamped.
func EncodePCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * 32767)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}
