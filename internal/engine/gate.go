package engine

import (
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/vad"
)

// Verdict is the quality gate's decision for one window.
type Verdict struct {
	// Dispatch reports whether the window should go to the backend.
	Dispatch bool
	// EnteredSilence reports that this check activated silence mode. The
	// caller must clear carried sentence context when it is set.
	EnteredSilence bool
}

// QualityGate decides whether a window is worth a backend call and runs the
// anti-hallucination silence-mode state machine. Transcription backends run
// on noise or silence invent plausible text, so repeated weak windows or
// blank results trigger a cool-down instead of post-hoc correction.
//
// Not safe for concurrent use; each stream owns one gate.
type QualityGate struct {
	cfg       config.GateConfig
	rateLimit time.Duration

	lowQuality    int
	silenceActive bool
	silenceSince  time.Time
	silenceExited time.Time

	lastDispatch time.Time
	firstCheck   time.Time
}

// NewQualityGate builds a gate with the stream's inter-dispatch rate limit.
// Mono and dual streams carry different limits; the caller picks.
func NewQualityGate(cfg config.GateConfig, rateLimit time.Duration) *QualityGate {
	return &QualityGate{cfg: cfg, rateLimit: rateLimit}
}

// Check evaluates one window. Decision order: silence mode first, then the
// allowed-dispatch conditions, then the rate limit, then the low-quality
// accounting that can flip the gate into silence mode.
func (g *QualityGate) Check(d vad.Decision, boundary bool, windowDur time.Duration, now time.Time) Verdict {
	if g.firstCheck.IsZero() {
		g.firstCheck = now
	}
	if g.expireSilence(now) {
		return Verdict{}
	}

	allowed := g.allowed(d, boundary, windowDur, now)
	if !allowed {
		return Verdict{}
	}
	if !g.lastDispatch.IsZero() && now.Sub(g.lastDispatch) < g.rateLimit {
		return Verdict{}
	}

	// Weak-ratio dispatches and blank backend results feed one consecutive
	// run; only a good result (NoteGoodResult) breaks it. Resetting on a
	// strong ratio here would let hallucinated text on loud noise slip past
	// the cool-down indefinitely.
	if d.SpeechRatio < g.cfg.SecondaryFloor {
		g.lowQuality++
		if g.lowQuality >= g.cfg.MaxLowQuality {
			g.enterSilence(now)
			return Verdict{EnteredSilence: true}
		}
	}

	g.lastDispatch = now
	return Verdict{Dispatch: true}
}

// NoteLowQualityResult feeds a blank or stripped-to-empty backend result
// into the low-quality counter. Returns true when this activates silence
// mode; the caller must clear carried context.
func (g *QualityGate) NoteLowQualityResult(now time.Time) bool {
	if g.silenceActive {
		return false
	}
	g.lowQuality++
	if g.lowQuality >= g.cfg.MaxLowQuality {
		g.enterSilence(now)
		return true
	}
	return false
}

// NoteGoodResult resets the consecutive-low-quality run after real text
// came back.
func (g *QualityGate) NoteGoodResult() {
	g.lowQuality = 0
}

func (g *QualityGate) LowQualityCount() int {
	return g.lowQuality
}

// SilenceActive reports whether silence mode currently suppresses dispatch,
// expiring the mode if its timeout has elapsed.
func (g *QualityGate) SilenceActive(now time.Time) bool {
	return g.expireSilence(now)
}

// RecentSilence reports whether silence mode is active or ended within one
// timeout period. Context carried from such a span is untrustworthy.
func (g *QualityGate) RecentSilence(now time.Time) bool {
	if g.silenceActive {
		return true
	}
	if g.silenceExited.IsZero() {
		return false
	}
	return now.Sub(g.silenceExited) < g.silenceTimeout()
}

func (g *QualityGate) Reset() {
	g.lowQuality = 0
	g.silenceActive = false
	g.silenceSince = time.Time{}
	g.silenceExited = time.Time{}
	g.lastDispatch = time.Time{}
	g.firstCheck = time.Time{}
}

func (g *QualityGate) allowed(d vad.Decision, boundary bool, windowDur time.Duration, now time.Time) bool {
	minWindow := time.Duration(g.cfg.MinWindowMS) * time.Millisecond
	if d.SpeechRatio >= g.cfg.QualityFloor && windowDur >= minWindow {
		return true
	}
	if boundary {
		return true
	}
	// Starvation escape: ambiguous audio that never clears the quality floor
	// still dispatches eventually, at a much stricter ratio.
	forced := time.Duration(g.cfg.ForcedTimeoutMS) * time.Millisecond
	since := g.firstCheck
	if !g.lastDispatch.IsZero() {
		since = g.lastDispatch
	}
	if d.SpeechRatio >= g.cfg.ForcedFloor && now.Sub(since) >= forced {
		return true
	}
	return false
}

// expireSilence reports whether silence mode is still active, clearing all
// mode state once the timeout elapses.
func (g *QualityGate) expireSilence(now time.Time) bool {
	if !g.silenceActive {
		return false
	}
	if now.Sub(g.silenceSince) < g.silenceTimeout() {
		return true
	}
	g.silenceActive = false
	g.silenceExited = now
	g.lowQuality = 0
	return false
}

func (g *QualityGate) enterSilence(now time.Time) {
	g.silenceActive = true
	g.silenceSince = now
	g.lowQuality = 0
}

func (g *QualityGate) silenceTimeout() time.Duration {
	return time.Duration(g.cfg.SilenceTimeoutMS) * time.Millisecond
}
