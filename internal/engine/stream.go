package engine

import (
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/refine"
	"github.com/loqalabs/loqa-scribe/internal/vad"
)

// Stream identifiers. Mono mode runs a single stream; dual mode runs left
// and right as fully independent pipelines.
const (
	StreamMono  = "mono"
	StreamLeft  = "left"
	StreamRight = "right"
)

// stream bundles the per-channel pipeline state: accumulator, VAD history,
// boundary timer, quality gate, refinement continuity, and the carried
// sentence context. Owned exclusively by the engine run goroutine.
type stream struct {
	id       string
	channel  int
	language string
	speaker  string

	windowDur time.Duration

	acc      *Accumulator
	det      *vad.Detector
	boundary *vad.BoundaryDetector
	gate     *QualityGate
	refiner  *refine.Processor

	// context is the carried sentence hint forwarded to the backend. Cleared
	// whenever silence mode activates or the last emission was not carryable.
	context string
}

func newStream(id string, channel int, language, speaker string, cfg config.EngineConfig, windowMS, rateLimitMS int) *stream {
	capacity := cfg.SampleRate * windowMS / 1000
	return &stream{
		id:        id,
		channel:   channel,
		language:  language,
		speaker:   speaker,
		windowDur: time.Duration(windowMS) * time.Millisecond,
		acc:       NewAccumulator(capacity),
		det:       vad.NewDetector(cfg.VAD, cfg.SampleRate),
		boundary:  vad.NewBoundaryDetector(cfg.VAD.BoundarySilenceMS),
		gate:      NewQualityGate(cfg.Gate, time.Duration(rateLimitMS)*time.Millisecond),
		refiner:   refine.NewProcessor(cfg.Refine),
	}
}

// clearContext drops the carried sentence hint and the refinement
// continuity state together. Used on silence-mode entry.
func (s *stream) clearContext() {
	s.context = ""
	s.refiner.Reset()
}
