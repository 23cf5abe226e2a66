package refine

import (
	"testing"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

func TestNormalizeSentinels(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"blank audio only", "[BLANK_AUDIO]", ""},
		{"blank audio lowercase", "[blank_audio]", ""},
		{"inaudible", "(inaudible)", ""},
		{"silence star", "*silence*", ""},
		{"ellipsis only", "...", ""},
		{"ellipsis after sentinel", "[BLANK_AUDIO] ...", ""},
		{"spaced dots only", ". . .", ""},
		{"mid-sentence ellipsis kept", "Wait... what was that", "Wait... what was that"},
		{"trailing ellipsis kept", "I was thinking...", "I was thinking..."},
		{"whitespace only", "   \n\t ", ""},
		{"sentinel with speech", "[BLANK_AUDIO] hello there", "Hello there"},
		{"timestamp leak", "[00:00:00.000 --> 00:00:04.000] hello", "Hello"},
		{"plain text untouched", "The weather is nice today.", "The weather is nice today."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestNormalizeCleanup(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"contraction", "dont stop now", "Don't stop now"},
		{"contraction capitalized", "Dont stop", "Don't stop"},
		{"contraction with punctuation", "i said thats it.", "I said that's it."},
		{"leading lowercase", "hello world", "Hello world"},
		{"space before punctuation", "hello , world !", "Hello, world!"},
		{"collapse spaces", "too   many    spaces", "Too many spaces"},
		{"no forced final punctuation", "unfinished thought", "Unfinished thought"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Normalize(tt.in); got != tt.want {
				t.Errorf("Normalize(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestProcessBlank(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	res := p.Process("[BLANK_AUDIO]", time.Now())
	if !res.Blank {
		t.Fatal("expected blank result")
	}
	if res.Text != "" {
		t.Errorf("blank result carried text %q", res.Text)
	}
}

func TestProcessDuplicateWithinWindow(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	now := time.Now()

	first := p.Process("hello world", now)
	if first.Text != "Hello world" || first.Duplicate {
		t.Fatalf("first emission wrong: %+v", first)
	}

	dup := p.Process("Hello world", now.Add(2*time.Second))
	if !dup.Duplicate {
		t.Fatalf("expected duplicate, got %+v", dup)
	}

	// Outside the recency window the same text emits again.
	later := p.Process("hello world", now.Add(10*time.Second))
	if later.Duplicate || later.Text != "Hello world" {
		t.Fatalf("expected re-emission after window, got %+v", later)
	}
}

func TestProcessExtension(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	now := time.Now()

	p.Process("The quick brown", now)
	res := p.Process("The quick brown fox jumps", now.Add(time.Second))
	if !res.IsExtension {
		t.Fatalf("expected extension, got %+v", res)
	}
	if res.Text != "fox jumps" {
		t.Errorf("extension delta = %q, want %q", res.Text, "fox jumps")
	}

	// The stored text is the full extended form, so a further extension
	// yields only the newest tail.
	res = p.Process("The quick brown fox jumps high", now.Add(2*time.Second))
	if !res.IsExtension || res.Text != "high" {
		t.Fatalf("chained extension = %+v", res)
	}
}

func TestProcessExtensionRejectsTinyDelta(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	now := time.Now()

	p.Process("The quick brown fox", now)
	res := p.Process("The quick brown fox x", now.Add(time.Second))
	if res.IsExtension {
		t.Fatalf("tiny delta should not be an extension: %+v", res)
	}
	if res.Text != "The quick brown fox x" {
		t.Errorf("expected full re-emission, got %q", res.Text)
	}
}

func TestProcessExtensionRequiresSubstantialBase(t *testing.T) {
	cfg := config.DefaultRefine()
	p := NewProcessor(cfg)
	now := time.Now()

	p.Process("Hi", now)
	res := p.Process("Hi there friend", now.Add(time.Second))
	if res.IsExtension {
		t.Fatalf("short base should not trigger extension: %+v", res)
	}
}

func TestProcessExtensionDeltaMustStartWithLetter(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	now := time.Now()

	p.Process("Count to ten", now)
	res := p.Process("Count to ten 12345", now.Add(time.Second))
	if res.IsExtension {
		t.Fatalf("numeric delta should not be an extension: %+v", res)
	}
}

func TestReset(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	now := time.Now()

	p.Process("hello world", now)
	p.Reset()

	res := p.Process("hello world", now.Add(time.Second))
	if res.Duplicate {
		t.Fatal("duplicate state should not survive Reset")
	}
}

func TestCarryable(t *testing.T) {
	p := NewProcessor(config.DefaultRefine())
	tests := []struct {
		text string
		want bool
	}{
		{"Okay", true},
		{"Hello", true},
		{"", false},
		{"two words", false},
		{"Done.", false},
		{"Really?", false},
		{"Okay,", false},
		{"However;", false},
		{"Note:", false},
		{"Averyverylongsingletoken", false},
	}
	for _, tt := range tests {
		if got := p.Carryable(tt.text); got != tt.want {
			t.Errorf("Carryable(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}
