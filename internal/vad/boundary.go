package vad

import "time"

// BoundaryDetector reports "speech, then sustained silence" exactly once per
// utterance. It is the alternate dispatch trigger for windows that sit below
// the currently-speaking bar but represent a just-completed utterance.
type BoundaryDetector struct {
	minSilence time.Duration

	sawSpeech    bool
	silenceStart time.Time
}

func NewBoundaryDetector(minSilenceMS int) *BoundaryDetector {
	return &BoundaryDetector{minSilence: time.Duration(minSilenceMS) * time.Millisecond}
}

// Detect consumes the current window's decision and reports whether a speech
// boundary completed at now. windowDur is the duration of audio the decision
// covers; silence inside the window counts toward the timer, so a single long
// silent window can complete a boundary on its own.
func (b *BoundaryDetector) Detect(speech bool, windowDur time.Duration, now time.Time) bool {
	if speech {
		b.sawSpeech = true
		b.silenceStart = time.Time{}
		return false
	}
	if !b.sawSpeech {
		return false
	}
	if b.silenceStart.IsZero() {
		b.silenceStart = now.Add(-windowDur)
	}
	if now.Sub(b.silenceStart) >= b.minSilence {
		// Report once, then rearm for the next utterance.
		b.sawSpeech = false
		b.silenceStart = time.Time{}
		return true
	}
	return false
}

// Reset clears all boundary state.
func (b *BoundaryDetector) Reset() {
	b.sawSpeech = false
	b.silenceStart = time.Time{}
}
