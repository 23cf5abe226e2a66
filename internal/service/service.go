// Package service bridges the bus and the engine: it consumes audio frames
// from NATS, runs one engine per capture session, and publishes refined
// text events while persisting them to the transcript store.
package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/loqalabs/loqa-scribe/internal/bus"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/engine"
	"github.com/loqalabs/loqa-scribe/internal/protocol"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/transcriptstore"
)

const storeWriteTimeout = 5 * time.Second

type Service struct {
	cfg   config.Config
	bus   *bus.Client
	store *transcriptstore.Store
	log   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	sub    *nats.Subscription

	mu       sync.Mutex
	sessions map[string]*engine.Engine
	wg       sync.WaitGroup
	ready    bool
}

func NewService(parent context.Context, cfg config.Config, busClient *bus.Client, store *transcriptstore.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		store:    store,
		log:      log.With(slog.String("component", "service")),
		ctx:      ctx,
		cancel:   cancel,
		sessions: make(map[string]*engine.Engine),
	}
}

func (s *Service) Start() error {
	subject := protocol.SubjectAudioFramePrefix + ".>"
	sub, err := s.bus.Subscribe(subject, s.handleFrame)
	if err != nil {
		return fmt.Errorf("subscribe audio frames: %w", err)
	}
	s.sub = sub
	s.ready = true
	s.log.Info("listening for audio frames", slog.String("subject", subject))
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}

	s.mu.Lock()
	engines := make([]*engine.Engine, 0, len(s.sessions))
	for _, eng := range s.sessions {
		engines = append(engines, eng)
	}
	s.sessions = make(map[string]*engine.Engine)
	s.mu.Unlock()

	for _, eng := range engines {
		if err := eng.Stop(); err != nil {
			s.log.Warn("engine stop failed", slogError(err))
		}
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return s.ready
}

func (s *Service) handleFrame(msg *nats.Msg) {
	var frame protocol.AudioFrame
	if err := json.Unmarshal(msg.Data, &frame); err != nil {
		s.log.Warn("failed to decode audio frame", slogError(err))
		return
	}
	if frame.SessionID == "" {
		frame.SessionID = uuid.NewString()
	}

	eng, err := s.sessionEngine(frame.SessionID)
	if err != nil {
		s.log.Error("failed to start session engine",
			slog.String("session_id", frame.SessionID), slogError(err))
		return
	}

	eng.Push(frame.PCM, frame.SampleRate, frame.Channels)

	if frame.Final {
		s.endSession(frame.SessionID)
	}
}

// sessionEngine returns the running engine for a session, creating it with
// a fresh backend on first frame. Each session owns its backend; the engine
// releases it on Stop.
func (s *Service) sessionEngine(sessionID string) (*engine.Engine, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if eng, ok := s.sessions[sessionID]; ok {
		return eng, nil
	}

	backend, err := stt.New(s.cfg.Backend, s.cfg.Engine.SampleRate, s.log)
	if err != nil {
		return nil, fmt.Errorf("create backend: %w", err)
	}

	timeout := time.Duration(s.cfg.Backend.TimeoutMS) * time.Millisecond
	eng, err := engine.New(s.cfg.Engine, backend, timeout, s.log, func(ev engine.TextEvent) {
		s.publishText(sessionID, ev)
	})
	if err != nil {
		backend.Close()
		return nil, err
	}
	if err := eng.Start(s.ctx); err != nil {
		backend.Close()
		return nil, err
	}

	if err := s.store.EnsureSession(s.ctx, sessionID, s.cfg.Engine.Mode); err != nil {
		s.log.Warn("failed to record session", slog.String("session_id", sessionID), slogError(err))
	}

	s.sessions[sessionID] = eng
	s.log.Info("session started",
		slog.String("session_id", sessionID),
		slog.String("mode", s.cfg.Engine.Mode))
	return eng, nil
}

func (s *Service) endSession(sessionID string) {
	s.mu.Lock()
	eng, ok := s.sessions[sessionID]
	delete(s.sessions, sessionID)
	s.mu.Unlock()
	if !ok {
		return
	}

	// Stop drains in-flight dispatches, so the final window's text is
	// published before the session disappears.
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := eng.Stop(); err != nil {
			s.log.Warn("engine stop failed", slog.String("session_id", sessionID), slogError(err))
		}
		s.log.Info("session ended", slog.String("session_id", sessionID))
	}()
}

// publishText runs on the engine goroutine; it must stay quick and must not
// call back into the engine.
func (s *Service) publishText(sessionID string, ev engine.TextEvent) {
	out := protocol.TextEvent{
		SessionID:   sessionID,
		Channel:     ev.Stream,
		Speaker:     ev.Speaker,
		Language:    ev.Language,
		Text:        ev.Text,
		RawText:     ev.RawText,
		IsExtension: ev.IsExtension,
		Timestamp:   ev.Timestamp.UTC(),
	}
	subject := protocol.SubjectTextPrefix + "." + ev.Stream
	if err := s.bus.PublishJSON(subject, out); err != nil {
		s.log.Warn("failed to publish text event", slogError(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeWriteTimeout)
	defer cancel()
	err := s.store.Append(ctx, transcriptstore.Transcript{
		SessionID:   sessionID,
		Stream:      ev.Stream,
		Channel:     ev.Channel,
		Speaker:     ev.Speaker,
		Language:    ev.Language,
		Text:        ev.Text,
		IsExtension: ev.IsExtension,
		CreatedAt:   ev.Timestamp.UTC(),
	})
	if err != nil {
		s.log.Warn("failed to persist transcript", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
