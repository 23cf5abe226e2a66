// Package vad classifies windows of audio samples as speech or silence
// using multi-threshold energy analysis, short-history smoothing, and a
// persistence window that bridges natural pauses.
package vad

import (
	"math"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Decision is the classification of one window plus the metrics that
// produced it. Only the Speech boolean outlives the window; the metrics are
// consumed by the quality gate and then discarded.
type Decision struct {
	Speech        bool
	SpeechRatio   float64
	SilenceRatio  float64
	ActivityRatio float64
	MusicRatio    float64
	LoudRatio     float64
	EnergyStdDev  float64
}

type speechSpan struct {
	at  time.Time
	dur time.Duration
}

// Detector holds per-stream classification state. It is not safe for
// concurrent use; each stream owns exactly one Detector and calls it from a
// single goroutine.
type Detector struct {
	cfg        config.VADConfig
	sampleRate int

	history []bool
	recent  []speechSpan
}

func NewDetector(cfg config.VADConfig, sampleRate int) *Detector {
	return &Detector{
		cfg:        cfg,
		sampleRate: sampleRate,
		history:    make([]bool, 0, cfg.HistorySize),
	}
}

// Classify computes the window metrics and applies the decision rules in
// priority order, followed by majority-vote smoothing and the persistence
// extension.
func (d *Detector) Classify(window []float32, now time.Time) Decision {
	dec := d.measure(window)

	raw := d.rawDecision(dec)
	d.pushHistory(raw)

	dec.Speech = d.smooth(raw, dec)

	windowDur := time.Duration(float64(len(window)) / float64(d.sampleRate) * float64(time.Second))
	if dec.Speech {
		d.recent = append(d.recent, speechSpan{at: now, dur: windowDur})
	}
	d.pruneRecent(now)

	if !dec.Speech && d.persistSpeech(now) {
		dec.Speech = true
	}
	return dec
}

// Reset clears history and persistence state, e.g. on mode change.
func (d *Detector) Reset() {
	d.history = d.history[:0]
	d.recent = nil
}

func (d *Detector) measure(window []float32) Decision {
	if len(window) == 0 {
		return Decision{SilenceRatio: 1}
	}

	var silent, speech, music, loud int
	var sum float64
	abs := make([]float64, len(window))
	for i, s := range window {
		a := math.Abs(float64(s))
		abs[i] = a
		sum += a
		if a < d.cfg.SilenceFloor {
			silent++
		}
		if a > d.cfg.SpeechFloor {
			speech++
		}
		if a > d.cfg.MusicFloor {
			music++
		}
		if a > d.cfg.LoudFloor {
			loud++
		}
	}

	n := float64(len(window))
	mean := sum / n
	var variance float64
	for _, a := range abs {
		diff := a - mean
		variance += diff * diff
	}

	return Decision{
		SilenceRatio:  float64(silent) / n,
		SpeechRatio:   float64(speech) / n,
		MusicRatio:    float64(music) / n,
		LoudRatio:     float64(loud) / n,
		ActivityRatio: 1 - float64(silent)/n,
		EnergyStdDev:  math.Sqrt(variance / n),
	}
}

// rawDecision evaluates the prioritized rules; the first match wins.
func (d *Detector) rawDecision(m Decision) bool {
	c := d.cfg
	switch {
	case m.SpeechRatio >= c.PrimarySpeechRatio:
		// Clear speech.
		return true
	case m.ActivityRatio >= c.ActivityRatio && m.EnergyStdDev < c.MaxEnergyStdDev && m.SpeechRatio > c.SecondarySpeechRatio:
		// Sustained conversational tone.
		return true
	case m.LoudRatio > c.LoudRatio && m.ActivityRatio > c.ActivityRatio && m.SpeechRatio > c.TertiarySpeechRatio:
		// Loud, clear audio.
		return true
	case m.MusicRatio > c.MusicRatio && m.SpeechRatio > c.LowSpeechRatio:
		// Speech over music.
		return true
	default:
		return false
	}
}

func (d *Detector) pushHistory(raw bool) {
	d.history = append(d.history, raw)
	if len(d.history) > d.cfg.HistorySize {
		d.history = d.history[len(d.history)-d.cfg.HistorySize:]
	}
}

// smooth applies a majority vote over recent raw decisions unless the
// current metrics are extreme enough to stand on their own.
func (d *Detector) smooth(raw bool, m Decision) bool {
	if m.SpeechRatio >= d.cfg.AlwaysSpeechRatio || m.LoudRatio >= d.cfg.AlwaysLoudRatio {
		return true
	}
	if m.ActivityRatio < d.cfg.AlwaysSilenceActivity && m.SpeechRatio < d.cfg.AlwaysSilenceSpeech {
		return false
	}
	if len(d.history) < d.cfg.HistorySize {
		return raw
	}
	votes := 0
	for _, h := range d.history {
		if h {
			votes++
		}
	}
	return votes*2 > len(d.history)
}

func (d *Detector) pruneRecent(now time.Time) {
	cutoff := now.Add(-time.Duration(d.cfg.PersistenceWindowMS) * time.Millisecond)
	keep := d.recent[:0]
	for _, s := range d.recent {
		if !s.at.Before(cutoff) {
			keep = append(keep, s)
		}
	}
	d.recent = keep
}

// persistSpeech reports whether enough speech occurred inside the
// persistence window to keep reporting speech through a short pause.
func (d *Detector) persistSpeech(now time.Time) bool {
	if len(d.recent) == 0 {
		return false
	}
	var total time.Duration
	for _, s := range d.recent {
		total += s.dur
	}
	return total >= time.Duration(d.cfg.MinRecentSpeechMS)*time.Millisecond
}
