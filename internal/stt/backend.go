// Package stt abstracts transcription backends behind a single interface.
// Backends are assumed non-reentrant: the engine serializes all Transcribe
// calls through one worker, so implementations do not need internal locking
// beyond protecting their own handle lifecycle.
package stt

import (
	"context"
	"errors"
)

var (
	// ErrBackendUnavailable indicates the backend could not be reached or
	// initialized.
	ErrBackendUnavailable = errors.New("stt: backend unavailable")

	// ErrBackendTimeout indicates a transcription call did not return in
	// time. A timed-out backend must be reinitialized, not retried.
	ErrBackendTimeout = errors.New("stt: backend timeout")

	// ErrEmptyResult indicates the backend returned no usable text.
	ErrEmptyResult = errors.New("stt: empty result")
)

// Backend converts a window of float32 samples into text. The prompt carries
// recent sentence context as a continuity hint; backends may ignore it.
type Backend interface {
	Transcribe(ctx context.Context, samples []float32, language, prompt string) (string, error)
	Close() error
}
