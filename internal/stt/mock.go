package stt

import (
	"context"
	"fmt"
)

type mockBackend struct{}

// NewMockBackend returns a backend that echoes window metadata. Useful for
// development and for exercising the pipeline without a speech model.
func NewMockBackend() Backend {
	return &mockBackend{}
}

func (m *mockBackend) Transcribe(_ context.Context, samples []float32, language, _ string) (string, error) {
	return fmt.Sprintf("[%s transcript samples=%d]", language, len(samples)), nil
}

func (m *mockBackend) Close() error {
	return nil
}
