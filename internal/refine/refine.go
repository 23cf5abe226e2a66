// Package refine cleans raw backend output and decides what, if anything,
// a stream emits. It absorbs blank-audio sentinels, drops near-term
// duplicates, and turns prefix-extensions of the previous output into
// delta-only emissions so sentence flow survives window boundaries.
package refine

import (
	"regexp"
	"strings"
	"time"
	"unicode"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// Result classifies what Process decided for one raw transcript.
type Result struct {
	// Text is the string to emit. Empty when nothing should be emitted.
	Text string
	// IsExtension marks Text as the newly appended tail of the previous
	// emission rather than a standalone utterance.
	IsExtension bool
	// Blank reports that the raw text reduced to nothing after sentinel
	// stripping. Blank results feed the quality gate's low-quality counter.
	Blank bool
	// Duplicate reports that the text repeated the previous emission inside
	// the recency window.
	Duplicate bool
}

var (
	// regexTimestamp matches VTT/SRT style timestamps some backends leak,
	// e.g. [00:00:00.000 --> 00:00:04.000].
	regexTimestamp = regexp.MustCompile(`\[\d{2}:\d{2}:\d{2}\.\d{3}\s-->\s\d{2}:\d{2}:\d{2}\.\d{3}\]`)

	// regexSpaceBeforePunct collapses stray spaces before closing punctuation.
	regexSpaceBeforePunct = regexp.MustCompile(`\s+([.,!?;:])`)

	regexMultiSpace = regexp.MustCompile(`\s{2,}`)
)

// sentinels are non-speech tokens a model emits when run on silence or
// noise. Matched case-insensitively after trimming.
var sentinels = []string{
	"[blank_audio]",
	"[blank audio]",
	"[inaudible]",
	"[silence]",
	"[music]",
	"[sound]",
	"[noise]",
	"(inaudible)",
	"(silence)",
	"*silence*",
}

// contractions is the fixed word-substitution table for repairing dropped
// apostrophes. Ambiguous forms (its, were, well) are deliberately absent.
var contractions = map[string]string{
	"dont":    "don't",
	"doesnt":  "doesn't",
	"didnt":   "didn't",
	"cant":    "can't",
	"couldnt": "couldn't",
	"wont":    "won't",
	"wouldnt": "wouldn't",
	"isnt":    "isn't",
	"wasnt":   "wasn't",
	"arent":   "aren't",
	"havent":  "haven't",
	"hasnt":   "hasn't",
	"im":      "I'm",
	"ive":     "I've",
	"youre":   "you're",
	"youve":   "you've",
	"theyre":  "they're",
	"theyve":  "they've",
	"thats":   "that's",
	"theres":  "there's",
	"whats":   "what's",
}

// Processor holds the per-stream continuity state. Not safe for concurrent
// use; each stream owns one Processor driven from a single goroutine.
type Processor struct {
	cfg config.RefineConfig

	lastText string
	lastAt   time.Time
}

func NewProcessor(cfg config.RefineConfig) *Processor {
	return &Processor{cfg: cfg}
}

// Process refines rawText and decides whether to emit. State is updated for
// every non-blank, non-duplicate emission.
func (p *Processor) Process(rawText string, now time.Time) Result {
	text := Normalize(rawText)
	if text == "" {
		return Result{Blank: true}
	}

	dupWindow := time.Duration(p.cfg.DuplicateWindowMS) * time.Millisecond
	if p.lastText != "" && now.Sub(p.lastAt) <= dupWindow && strings.EqualFold(text, p.lastText) {
		return Result{Duplicate: true}
	}

	if delta, ok := p.extensionDelta(text); ok {
		p.lastText = text
		p.lastAt = now
		return Result{Text: delta, IsExtension: true}
	}

	p.lastText = text
	p.lastAt = now
	return Result{Text: text}
}

// Reset clears continuity state, e.g. when a stream is torn down or silence
// mode activates.
func (p *Processor) Reset() {
	p.lastText = ""
	p.lastAt = time.Time{}
}

// extensionDelta reports the newly appended substring when text extends the
// previous emission. The previous text must have substantial length and the
// delta must be more than a stray character.
func (p *Processor) extensionDelta(text string) (string, bool) {
	prev := p.lastText
	if len(prev) < p.cfg.MinExtensionBase || len(text) <= len(prev) {
		return "", false
	}
	if !strings.HasPrefix(text, prev) {
		return "", false
	}
	delta := strings.TrimSpace(text[len(prev):])
	if len(delta) < p.cfg.MinExtensionDelta {
		return "", false
	}
	first := []rune(delta)[0]
	if !unicode.IsLetter(first) {
		return "", false
	}
	return delta, true
}

// Carryable reports whether emitted text qualifies as sentence context for
// the next dispatch: short, single-token, and unpunctuated. Poor
// fragments must not poison future continuity hints; the engine adds its
// own quality checks on top.
func (p *Processor) Carryable(text string) bool {
	if text == "" || len(text) > p.cfg.MaxContextLen {
		return false
	}
	if strings.ContainsAny(text, " \t\n") {
		return false
	}
	return !strings.ContainsAny(text, ".!?,;:")
}

// Normalize strips sentinel tokens and applies the light text cleanup:
// contraction repair, leading capitalization, punctuation spacing. It never
// appends sentence-final punctuation.
func Normalize(text string) string {
	text = regexTimestamp.ReplaceAllString(text, "")
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	lower := strings.ToLower(text)
	for _, s := range sentinels {
		lower = strings.ReplaceAll(lower, s, "")
	}
	if strings.TrimSpace(lower) == "" {
		return ""
	}
	// Sentinels removed above worked on a lowered copy; strip them from the
	// original while preserving its case.
	for _, s := range sentinels {
		text = removeFold(text, s)
	}
	text = strings.TrimSpace(text)
	// Bare ellipsis dots are a silence artifact, not text. Mid-sentence
	// ellipses survive because real words remain around them.
	if text == "" || onlyDots(text) {
		return ""
	}

	text = repairContractions(text)
	text = regexSpaceBeforePunct.ReplaceAllString(text, "$1")
	text = regexMultiSpace.ReplaceAllString(text, " ")
	text = capitalizeFirst(text)
	return strings.TrimSpace(text)
}

func onlyDots(s string) bool {
	for _, r := range s {
		if r != '.' && !unicode.IsSpace(r) {
			return false
		}
	}
	return true
}

func removeFold(s, token string) string {
	for {
		idx := indexFold(s, token)
		if idx < 0 {
			return s
		}
		s = s[:idx] + s[idx+len(token):]
	}
}

func indexFold(s, token string) int {
	return strings.Index(strings.ToLower(s), strings.ToLower(token))
}

func repairContractions(text string) string {
	words := strings.Fields(text)
	for i, w := range words {
		trimmed := strings.TrimRight(w, ".,!?;:")
		suffix := w[len(trimmed):]
		if repl, ok := contractions[strings.ToLower(trimmed)]; ok {
			if trimmed != "" && unicode.IsUpper([]rune(trimmed)[0]) {
				repl = capitalizeFirst(repl)
			}
			words[i] = repl + suffix
		}
	}
	return strings.Join(words, " ")
}

func capitalizeFirst(text string) string {
	runes := []rune(text)
	if len(runes) == 0 {
		return text
	}
	if unicode.IsLower(runes[0]) {
		runes[0] = unicode.ToUpper(runes[0])
	}
	return string(runes)
}
