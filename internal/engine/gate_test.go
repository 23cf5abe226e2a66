package engine

import (
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/vad"
)

func speechDecision(ratio float64) vad.Decision {
	return vad.Decision{Speech: ratio > 0.1, SpeechRatio: ratio}
}

func TestGateDispatchesClearSpeech(t *testing.T) {
	g := NewQualityGate(config.DefaultGate(), 1500*time.Millisecond)
	v := g.Check(speechDecision(0.5), false, 3*time.Second, time.Now())
	if !v.Dispatch {
		t.Fatalf("clear speech should dispatch, got %+v", v)
	}
}

func TestGateRejectsPureSilence(t *testing.T) {
	g := NewQualityGate(config.DefaultGate(), 1500*time.Millisecond)
	v := g.Check(vad.Decision{Speech: false, SpeechRatio: 0}, false, 3*time.Second, time.Now())
	if v.Dispatch {
		t.Fatal("pure silence must not dispatch")
	}
}

func TestGateBoundaryDispatchesDespiteSilence(t *testing.T) {
	g := NewQualityGate(config.DefaultGate(), 1500*time.Millisecond)
	now := time.Now()

	if v := g.Check(speechDecision(0.5), false, 2*time.Second, now); !v.Dispatch {
		t.Fatal("speech window should dispatch")
	}
	// Next window is silence but a boundary fired; it dispatches once the
	// rate limit has passed.
	v := g.Check(vad.Decision{SpeechRatio: 0}, true, 1*time.Second, now.Add(2*time.Second))
	if !v.Dispatch {
		t.Fatal("boundary window should dispatch")
	}
}

func TestGateRateLimit(t *testing.T) {
	g := NewQualityGate(config.DefaultGate(), 1500*time.Millisecond)
	now := time.Now()

	if v := g.Check(speechDecision(0.5), false, 3*time.Second, now); !v.Dispatch {
		t.Fatal("first window should dispatch")
	}
	if v := g.Check(speechDecision(0.5), false, 3*time.Second, now.Add(500*time.Millisecond)); v.Dispatch {
		t.Fatal("second window inside the rate limit must not dispatch")
	}
	if v := g.Check(speechDecision(0.5), false, 3*time.Second, now.Add(2*time.Second)); !v.Dispatch {
		t.Fatal("window after the rate limit should dispatch")
	}
}

func TestGateMinimumWindowDuration(t *testing.T) {
	g := NewQualityGate(config.DefaultGate(), 0)
	v := g.Check(speechDecision(0.5), false, 500*time.Millisecond, time.Now())
	if v.Dispatch {
		t.Fatal("window below minimum duration must not dispatch on ratio alone")
	}
}

func TestGateForcedDispatchAfterStarvation(t *testing.T) {
	cfg := config.DefaultGate()
	g := NewQualityGate(cfg, 0)
	now := time.Now()

	// Short windows never satisfy the minimum duration, so only the forced
	// path can dispatch.
	if v := g.Check(speechDecision(0.5), false, 500*time.Millisecond, now); v.Dispatch {
		t.Fatal("short window should not dispatch before the forced timeout")
	}
	forced := time.Duration(cfg.ForcedTimeoutMS) * time.Millisecond
	v := g.Check(speechDecision(0.5), false, 500*time.Millisecond, now.Add(forced+time.Second))
	if !v.Dispatch {
		t.Fatal("forced timeout with a strong ratio should dispatch")
	}
}

func TestGateSilenceModeFromWeakDispatches(t *testing.T) {
	cfg := config.DefaultGate()
	cfg.MaxLowQuality = 3
	g := NewQualityGate(cfg, 0)
	now := time.Now()

	// Ratio clears the quality floor but not the secondary floor, so each
	// dispatch counts as low quality.
	weak := speechDecision(0.11)

	if v := g.Check(weak, false, 3*time.Second, now); !v.Dispatch {
		t.Fatal("first weak window should still dispatch")
	}
	if v := g.Check(weak, false, 3*time.Second, now.Add(time.Second)); !v.Dispatch {
		t.Fatal("second weak window should still dispatch")
	}

	v := g.Check(weak, false, 3*time.Second, now.Add(2*time.Second))
	if v.Dispatch || !v.EnteredSilence {
		t.Fatalf("third weak window should activate silence mode, got %+v", v)
	}

	// A strong window inside the timeout stays suppressed.
	strong := speechDecision(0.6)
	if v := g.Check(strong, false, 3*time.Second, now.Add(3*time.Second)); v.Dispatch {
		t.Fatal("silence mode must suppress even strong windows")
	}

	// Once the timeout elapses, dispatch resumes.
	after := now.Add(2*time.Second + time.Duration(cfg.SilenceTimeoutMS)*time.Millisecond + time.Second)
	if v := g.Check(strong, false, 3*time.Second, after); !v.Dispatch {
		t.Fatal("dispatch should resume after the silence timeout")
	}
}

func TestGateGoodResultResetsCounter(t *testing.T) {
	cfg := config.DefaultGate()
	cfg.MaxLowQuality = 3
	g := NewQualityGate(cfg, 0)
	now := time.Now()

	g.Check(speechDecision(0.11), false, 3*time.Second, now)
	g.Check(speechDecision(0.11), false, 3*time.Second, now.Add(time.Second))
	if got := g.LowQualityCount(); got != 2 {
		t.Fatalf("counter = %d, want 2", got)
	}

	// Real text came back; the consecutive low-quality run is broken.
	g.NoteGoodResult()
	if got := g.LowQualityCount(); got != 0 {
		t.Fatalf("counter after good result = %d, want 0", got)
	}

	v := g.Check(speechDecision(0.11), false, 3*time.Second, now.Add(3*time.Second))
	if !v.Dispatch || v.EnteredSilence {
		t.Fatalf("counter should have restarted, got %+v", v)
	}
}

func TestGateBlankResultsActivateSilence(t *testing.T) {
	cfg := config.DefaultGate()
	cfg.MaxLowQuality = 3
	g := NewQualityGate(cfg, 0)
	now := time.Now()

	if g.NoteLowQualityResult(now) {
		t.Fatal("first blank result should not activate silence mode")
	}
	if g.NoteLowQualityResult(now.Add(time.Second)) {
		t.Fatal("second blank result should not activate silence mode")
	}
	if !g.NoteLowQualityResult(now.Add(2 * time.Second)) {
		t.Fatal("third blank result should activate silence mode")
	}
	if !g.SilenceActive(now.Add(3 * time.Second)) {
		t.Fatal("silence mode should be active")
	}
	after := now.Add(2*time.Second + time.Duration(cfg.SilenceTimeoutMS)*time.Millisecond + time.Second)
	if g.SilenceActive(after) {
		t.Fatal("silence mode should expire after the timeout")
	}
}

func TestGateRecentSilence(t *testing.T) {
	cfg := config.DefaultGate()
	cfg.MaxLowQuality = 1
	g := NewQualityGate(cfg, 0)
	now := time.Now()

	g.NoteLowQualityResult(now)
	if !g.RecentSilence(now.Add(time.Second)) {
		t.Fatal("active silence mode counts as recent")
	}

	timeout := time.Duration(cfg.SilenceTimeoutMS) * time.Millisecond
	exit := now.Add(timeout + time.Second)
	if g.SilenceActive(exit) {
		t.Fatal("mode should have expired")
	}
	if !g.RecentSilence(exit.Add(time.Second)) {
		t.Fatal("just-expired silence mode still counts as recent")
	}
	if g.RecentSilence(exit.Add(timeout + time.Second)) {
		t.Fatal("silence mode far in the past is not recent")
	}
}
