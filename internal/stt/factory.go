package stt

import (
	"fmt"
	"log/slog"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

// New constructs the backend selected by cfg.Mode. Initialization failures
// are fatal: the caller must not start recording without a backend.
func New(cfg config.BackendConfig, sampleRate int, log *slog.Logger) (Backend, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockBackend(), nil
	case "exec":
		return NewExecBackend(cfg, sampleRate)
	case "whisper":
		return NewWhisperBackend(cfg.ModelPath, "", log)
	default:
		return nil, fmt.Errorf("unsupported backend mode %q", cfg.Mode)
	}
}
