package vad

import (
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

const testRate = 16000

// genWindow builds a window where frac of the samples alternate at ±amp and
// the remainder are zero.
func genWindow(n int, frac float64, amp float32) []float32 {
	out := make([]float32, n)
	active := int(float64(n) * frac)
	for i := 0; i < active; i++ {
		if i%2 == 0 {
			out[i] = amp
		} else {
			out[i] = -amp
		}
	}
	return out
}

func silence(n int) []float32 {
	return make([]float32, n)
}

func TestClassifyPrimaryRatioAlwaysSpeech(t *testing.T) {
	tests := []struct {
		name string
		frac float64
		amp  float32
	}{
		{"just above primary", 0.16, 0.03},
		{"clear speech", 0.50, 0.05},
		{"loud speech", 0.80, 0.30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDetector(config.DefaultVAD(), testRate)
			dec := d.Classify(genWindow(testRate, tt.frac, tt.amp), time.Now())
			if !dec.Speech {
				t.Fatalf("expected speech for speech ratio %.2f, got silence (ratio=%.3f)", tt.frac, dec.SpeechRatio)
			}
		})
	}
}

func TestClassifyPureSilence(t *testing.T) {
	d := NewDetector(config.DefaultVAD(), testRate)
	// 3 seconds of near-zero amplitude.
	dec := d.Classify(silence(3*testRate), time.Now())
	if dec.Speech {
		t.Fatal("expected silence for an all-zero window")
	}
	if dec.SilenceRatio < 0.99 {
		t.Fatalf("expected silence ratio ~1, got %.3f", dec.SilenceRatio)
	}
}

func TestClassifyMetrics(t *testing.T) {
	d := NewDetector(config.DefaultVAD(), testRate)
	dec := d.Classify(genWindow(1000, 0.5, 0.05), time.Now())
	if dec.SpeechRatio < 0.45 || dec.SpeechRatio > 0.55 {
		t.Fatalf("speech ratio = %.3f, want ~0.5", dec.SpeechRatio)
	}
	if dec.ActivityRatio < dec.SpeechRatio {
		t.Fatalf("activity ratio %.3f should be >= speech ratio %.3f", dec.ActivityRatio, dec.SpeechRatio)
	}
	if dec.LoudRatio != 0 {
		t.Fatalf("no samples above loud floor expected, got %.3f", dec.LoudRatio)
	}
}

func TestSmoothingMajorityBridgesOneWeakWindow(t *testing.T) {
	d := NewDetector(config.DefaultVAD(), testRate)
	now := time.Now()

	// Two solid speech windows fill the history with raw speech votes.
	d.Classify(genWindow(1000, 0.2, 0.05), now)
	d.Classify(genWindow(1000, 0.2, 0.05), now.Add(62*time.Millisecond))

	// A weak window that is neither clearly speech nor extremely silent.
	dec := d.Classify(genWindow(1000, 0.04, 0.05), now.Add(125*time.Millisecond))
	if !dec.Speech {
		t.Fatal("expected majority vote to carry a weak window after two speech windows")
	}
}

func TestSmoothingExtremeSilenceOverridesMajority(t *testing.T) {
	cfg := config.DefaultVAD()
	cfg.PersistenceWindowMS = 0 // isolate the smoothing behaviour
	cfg.MinRecentSpeechMS = 1 << 30
	d := NewDetector(cfg, testRate)
	now := time.Now()

	d.Classify(genWindow(1000, 0.2, 0.05), now)
	d.Classify(genWindow(1000, 0.2, 0.05), now.Add(62*time.Millisecond))

	dec := d.Classify(silence(1000), now.Add(125*time.Millisecond))
	if dec.Speech {
		t.Fatal("an all-zero window must be silence regardless of history")
	}
}

func TestPersistenceExtension(t *testing.T) {
	d := NewDetector(config.DefaultVAD(), testRate)
	now := time.Now()

	// One second of clear speech, then a silent window shortly after.
	if dec := d.Classify(genWindow(testRate, 0.5, 0.05), now); !dec.Speech {
		t.Fatal("setup: expected speech")
	}
	dec := d.Classify(silence(testRate), now.Add(time.Second))
	if !dec.Speech {
		t.Fatal("expected persistence to report speech through a short pause")
	}

	// Well outside the persistence window the extension no longer applies.
	dec = d.Classify(silence(testRate), now.Add(10*time.Second))
	if dec.Speech {
		t.Fatal("expected silence once the persistence window has lapsed")
	}
}

func TestResetClearsState(t *testing.T) {
	d := NewDetector(config.DefaultVAD(), testRate)
	now := time.Now()
	d.Classify(genWindow(testRate, 0.5, 0.05), now)
	d.Reset()

	dec := d.Classify(silence(testRate), now.Add(100*time.Millisecond))
	if dec.Speech {
		t.Fatal("expected no persistence carry-over after reset")
	}
}

func TestBoundaryAfterSpeech(t *testing.T) {
	b := NewBoundaryDetector(700)
	now := time.Now()

	if b.Detect(true, time.Second, now) {
		t.Fatal("boundary must not fire during speech")
	}
	// One second of silence inside the window exceeds the 700ms minimum.
	if !b.Detect(false, time.Second, now.Add(time.Second)) {
		t.Fatal("expected boundary after sustained silence")
	}
	// Reported exactly once.
	if b.Detect(false, time.Second, now.Add(2*time.Second)) {
		t.Fatal("boundary must only be reported once per utterance")
	}
}

func TestBoundaryRequiresPriorSpeech(t *testing.T) {
	b := NewBoundaryDetector(700)
	now := time.Now()
	if b.Detect(false, 3*time.Second, now) {
		t.Fatal("boundary must not fire without prior speech")
	}
}

func TestBoundaryAccumulatesShortSilences(t *testing.T) {
	b := NewBoundaryDetector(700)
	now := time.Now()

	b.Detect(true, 200*time.Millisecond, now)
	if b.Detect(false, 200*time.Millisecond, now.Add(200*time.Millisecond)) {
		t.Fatal("200ms of silence should not complete a 700ms boundary")
	}
	if !b.Detect(false, 200*time.Millisecond, now.Add(900*time.Millisecond)) {
		t.Fatal("expected boundary once accumulated silence exceeds the minimum")
	}
}
