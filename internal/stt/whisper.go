// Native whisper.cpp backend via the CGO bindings. The whisper.cpp static
// library (libwhisper.a) and headers must be available at link time via
// LIBRARY_PATH and C_INCLUDE_PATH.

package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

type whisperBackend struct {
	model    whisperlib.Model
	language string
	log      *slog.Logger
}

// NewWhisperBackend loads a whisper.cpp model from modelPath. The model is
// loaded once and reused for every window; each Transcribe call creates a
// fresh context because whisper contexts are not reusable across languages.
func NewWhisperBackend(modelPath, defaultLanguage string, log *slog.Logger) (Backend, error) {
	if modelPath == "" {
		return nil, fmt.Errorf("%w: model path is empty", ErrBackendUnavailable)
	}
	model, err := whisperlib.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("%w: load model %q: %v", ErrBackendUnavailable, modelPath, err)
	}
	return &whisperBackend{model: model, language: defaultLanguage, log: log}, nil
}

func (b *whisperBackend) Transcribe(ctx context.Context, samples []float32, language, prompt string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrBackendTimeout, err)
	}

	wctx, err := b.model.NewContext()
	if err != nil {
		return "", fmt.Errorf("%w: create context: %v", ErrBackendUnavailable, err)
	}

	lang := language
	if lang == "" {
		lang = b.language
	}
	if err := wctx.SetLanguage(lang); err != nil {
		b.log.Warn("whisper: failed to set language, using model default",
			slog.String("language", lang), slog.String("error", err.Error()))
	}
	if prompt != "" {
		wctx.SetInitialPrompt(prompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return "", fmt.Errorf("%w: process audio: %v", ErrBackendUnavailable, err)
	}

	var parts []string
	for {
		segment, err := wctx.NextSegment()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return "", fmt.Errorf("read segment: %w", err)
		}
		if text := strings.TrimSpace(segment.Text); text != "" {
			parts = append(parts, text)
		}
	}
	if len(parts) == 0 {
		return "", ErrEmptyResult
	}
	return strings.Join(parts, " "), nil
}

func (b *whisperBackend) Close() error {
	if b.model != nil {
		return b.model.Close()
	}
	return nil
}
