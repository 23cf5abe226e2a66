package stt

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"

	gaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/mattn/go-shellwords"

	"github.com/loqalabs/loqa-scribe/internal/config"
)

type execBackend struct {
	cmd []string
	cfg config.BackendConfig

	sampleRate int
}

type execResult struct {
	Text string `json:"text"`
}

// NewExecBackend wraps an external recognizer subprocess. The command is
// invoked once per window with the samples written to a temporary WAV file;
// it must print {"text": "..."} on stdout.
func NewExecBackend(cfg config.BackendConfig, sampleRate int) (Backend, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(cfg.Command)
	if err != nil {
		return nil, fmt.Errorf("parse backend command: %w", err)
	}
	if len(args) == 0 {
		return nil, errors.New("backend command is empty")
	}
	return &execBackend{cmd: args, cfg: cfg, sampleRate: sampleRate}, nil
}

func (b *execBackend) Transcribe(ctx context.Context, samples []float32, language, prompt string) (string, error) {
	file, err := os.CreateTemp(os.TempDir(), "scribe_stt_*.wav")
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	defer os.Remove(file.Name())
	defer file.Close()

	if err := writeWav(file, samples, b.sampleRate); err != nil {
		return "", err
	}

	cmdArgs := append([]string{}, b.cmd[1:]...)
	cmdArgs = append(cmdArgs, "--audio", file.Name())
	if b.cfg.ModelPath != "" {
		cmdArgs = append(cmdArgs, "--model", b.cfg.ModelPath)
	}
	if language != "" {
		cmdArgs = append(cmdArgs, "--language", language)
	}
	if prompt != "" {
		cmdArgs = append(cmdArgs, "--prompt", prompt)
	}

	command := exec.CommandContext(ctx, b.cmd[0], cmdArgs...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		if ctx.Err() != nil {
			return "", fmt.Errorf("%w: %v", ErrBackendTimeout, ctx.Err())
		}
		return "", fmt.Errorf("%w: %v: %s", ErrBackendUnavailable, err, stderr.String())
	}

	var resp execResult
	if err := json.Unmarshal(stdout.Bytes(), &resp); err != nil {
		return "", fmt.Errorf("decode backend response: %w", err)
	}
	if resp.Text == "" {
		return "", ErrEmptyResult
	}
	return resp.Text, nil
}

func (b *execBackend) Close() error {
	return nil
}

func writeWav(file *os.File, samples []float32, sampleRate int) error {
	buffer := &gaudio.IntBuffer{Format: &gaudio.Format{NumChannels: 1, SampleRate: sampleRate}}
	data := make([]int, len(samples))
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		data[i] = int(s * 32767)
	}
	buffer.Data = data

	enc := wav.NewEncoder(file, sampleRate, 16, 1, 1)
	if err := enc.Write(buffer); err != nil {
		return fmt.Errorf("write wav: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close wav encoder: %w", err)
	}
	return nil
}
