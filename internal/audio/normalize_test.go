package audio

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcm16(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

func TestNormalizeMono(t *testing.T) {
	n := NewNormalizer(16000)
	chans, err := n.Normalize(pcm16(0, 16384, -16384, 32767), 16000, 1)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chans) != 1 {
		t.Fatalf("expected 1 channel, got %d", len(chans))
	}
	got := chans[0]
	want := []float32{0, 0.5, -0.5, 32767.0 / 32768.0}
	if len(got) != len(want) {
		t.Fatalf("expected %d samples, got %d", len(want), len(got))
	}
	for i := range want {
		if math.Abs(float64(got[i]-want[i])) > 1e-4 {
			t.Fatalf("sample %d: got %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNormalizeSplitsInterleavedChannels(t *testing.T) {
	n := NewNormalizer(16000)
	// L R L R interleaved
	chans, err := n.Normalize(pcm16(100, -100, 200, -200), 16000, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chans) != 2 {
		t.Fatalf("expected 2 channels, got %d", len(chans))
	}
	if chans[0][0] <= 0 || chans[0][1] <= 0 {
		t.Fatalf("left channel should be positive: %v", chans[0])
	}
	if chans[1][0] >= 0 || chans[1][1] >= 0 {
		t.Fatalf("right channel should be negative: %v", chans[1])
	}
}

func TestNormalizeRejectsMisaligned(t *testing.T) {
	n := NewNormalizer(16000)
	if _, err := n.Normalize([]byte{1, 2, 3}, 16000, 1); err == nil {
		t.Fatal("expected error for odd byte count")
	}
	if _, err := n.Normalize(pcm16(1), 16000, 2); err == nil {
		t.Fatal("expected error for half a stereo frame")
	}
}

func TestResampleHalvesSampleCount(t *testing.T) {
	in := make([]float32, 320)
	for i := range in {
		in[i] = float32(math.Sin(float64(i) / 10))
	}
	out := Resample(in, 32000, 16000)
	if len(out) != 160 {
		t.Fatalf("expected 160 samples after 2:1 resample, got %d", len(out))
	}
}

func TestResampleIdentity(t *testing.T) {
	in := []float32{0.1, 0.2, 0.3}
	out := Resample(in, 16000, 16000)
	if len(out) != 3 || out[2] != 0.3 {
		t.Fatalf("expected identity resample, got %v", out)
	}
}

func TestDownmixAverages(t *testing.T) {
	out := Downmix([][]float32{{1, 0, -1}, {0, 0, -1}})
	want := []float32{0.5, 0, -1}
	for i := range want {
		if out[i] != want[i] {
			t.Fatalf("sample %d: got %v, want %v", i, out[i], want[i])
		}
	}
}

func TestEncodePCM16RoundTrip(t *testing.T) {
	in := []float32{0, 0.5, -0.5, 2.0}
	pcm := EncodePCM16(in)
	if len(pcm) != 8 {
		t.Fatalf("expected 8 bytes, got %d", len(pcm))
	}
	last := int16(binary.LittleEndian.Uint16(pcm[6:]))
	if last != 32767 {
		t.Fatalf("expected clamp to 32767, got %d", last)
	}
}
