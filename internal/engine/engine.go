// Package engine runs the speech segmentation pipeline: channel routing,
// window accumulation, voice activity detection, quality gating, serialized
// transcription dispatch, and text refinement.
//
// All per-stream mutable state is owned by a single run goroutine. Audio
// frames, configuration changes, and backend results all flow through that
// goroutine, so no stream state is ever touched from two contexts. The only
// suspending path is the dispatcher worker, which serializes backend calls
// across streams in arrival order.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/audio"
	"github.com/loqalabs/loqa-scribe/internal/config"
	"github.com/loqalabs/loqa-scribe/internal/stt"
	"github.com/loqalabs/loqa-scribe/internal/vad"
)

// ErrUnsupportedMode rejects a mode change the current input cannot serve.
var ErrUnsupportedMode = errors.New("unsupported engine mode")

const (
	intakeBuffer  = 64
	dispatchQueue = 8
)

// TextEvent is delivered to the OnText handler for every emitted text.
type TextEvent struct {
	Stream      string
	Channel     int
	Speaker     string
	Language    string
	Text        string
	RawText     string
	IsExtension bool
	Timestamp   time.Time
}

// TextHandler receives emitted text. Invoked from the engine run goroutine;
// implementations must not block for long and must not call back into the
// engine's synchronous setters.
type TextHandler func(TextEvent)

type frame struct {
	pcm        []byte
	sampleRate int
	channels   int
}

type ctrlKind int

const (
	ctrlSetMode ctrlKind = iota
	ctrlSetLanguage
	ctrlSetSpeaker
)

type ctrlMsg struct {
	kind          ctrlKind
	mode          string
	inputChannels int
	channel       int
	value         string
	reply         chan error
}

// Engine is the audio-to-text pipeline for one capture session.
type Engine struct {
	cfg     config.EngineConfig
	backend stt.Backend
	timeout time.Duration
	log     *slog.Logger
	onText  TextHandler

	norm    *audio.Normalizer
	metrics *metrics

	intake chan frame
	ctrl   chan ctrlMsg
	stopCh chan struct{}
	doneCh chan struct{}

	started  atomic.Bool
	stopped  atomic.Bool
	stopOnce sync.Once

	// Fields below are owned by the run goroutine.
	mode       string
	streams    []*stream
	generation uint64
	disp       *dispatcher
	down       bool
	runErr     error
}

// New builds an engine around an already-initialized backend. Backend
// initialization failures belong to the caller; recording must not start
// without a working backend.
func New(cfg config.EngineConfig, backend stt.Backend, backendTimeout time.Duration, log *slog.Logger, onText TextHandler) (*Engine, error) {
	if onText == nil {
		return nil, errors.New("text handler is required")
	}
	m, err := newMetrics()
	if err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		backend: backend,
		timeout: backendTimeout,
		log:     log.With(slog.String("component", "engine")),
		onText:  onText,
		norm:    audio.NewNormalizer(cfg.SampleRate),
		metrics: m,
		intake:  make(chan frame, intakeBuffer),
		ctrl:    make(chan ctrlMsg),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
		mode:    cfg.Mode,
	}
	e.buildStreams(cfg.Mode)
	return e, nil
}

// Start launches the run goroutine and the dispatcher worker. The context
// cancels the engine the same way Stop does.
func (e *Engine) Start(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return errors.New("engine already started")
	}
	e.disp = newDispatcher(e.backend, e.timeout, dispatchQueue, e.log)
	go e.run(ctx)
	e.log.Info("engine started",
		slog.String("mode", e.mode),
		slog.Int("sample_rate", e.cfg.SampleRate))
	return nil
}

// Stop halts intake, drains in-flight dispatches, flushes their results,
// and releases the backend before returning. A stopped engine stays
// stopped; restart means building a new one.
func (e *Engine) Stop() error {
	if !e.started.Load() {
		return nil
	}
	e.stopOnce.Do(func() {
		e.stopped.Store(true)
		close(e.stopCh)
	})
	<-e.doneCh
	return e.runErr
}

// Push hands a raw PCM frame to the pipeline without blocking. Frames
// arriving faster than the run loop drains them are dropped with a warning;
// audio capture cadence must never stall on this call.
func (e *Engine) Push(pcm []byte, sampleRate, channels int) {
	if e.stopped.Load() || !e.started.Load() {
		return
	}
	select {
	case e.intake <- frame{pcm: pcm, sampleRate: sampleRate, channels: channels}:
	default:
		e.metrics.addDropped()
		e.log.Warn("intake full, dropping frame", slog.Int("bytes", len(pcm)))
	}
}

// SetMode switches between mono and dual routing. Dual requires at least
// two input channels. On success all stream state is torn down and rebuilt;
// on failure the previous streams are retained untouched.
func (e *Engine) SetMode(mode string, inputChannels int) error {
	return e.control(ctrlMsg{kind: ctrlSetMode, mode: mode, inputChannels: inputChannels})
}

// SetLanguage changes the transcription language for one channel.
func (e *Engine) SetLanguage(channel int, code string) error {
	return e.control(ctrlMsg{kind: ctrlSetLanguage, channel: channel, value: code})
}

// SetSpeakerLabel changes the speaker attribution for one channel.
func (e *Engine) SetSpeakerLabel(channel int, name string) error {
	return e.control(ctrlMsg{kind: ctrlSetSpeaker, channel: channel, value: name})
}

func (e *Engine) control(msg ctrlMsg) error {
	if !e.started.Load() {
		return e.applyCtrl(msg)
	}
	if e.stopped.Load() {
		return errors.New("engine stopped")
	}
	msg.reply = make(chan error, 1)
	select {
	case e.ctrl <- msg:
		return <-msg.reply
	case <-e.doneCh:
		return errors.New("engine stopped")
	}
}

func (e *Engine) run(ctx context.Context) {
	defer close(e.doneCh)

	for {
		select {
		case <-ctx.Done():
			e.shutdown()
			return
		case <-e.stopCh:
			e.shutdown()
			return
		case f := <-e.intake:
			e.handleFrame(f, time.Now())
		case msg := <-e.ctrl:
			msg.reply <- e.applyCtrl(msg)
		case res, ok := <-e.disp.Results():
			if ok {
				e.handleResult(res, time.Now())
			}
		}
	}
}

// shutdown drains the dispatch queue so in-flight windows still produce
// their text, then releases the backend.
func (e *Engine) shutdown() {
	e.stopped.Store(true)
	e.disp.close()
	for res := range e.disp.Results() {
		e.handleResult(res, time.Now())
	}
	if err := e.backend.Close(); err != nil {
		e.runErr = fmt.Errorf("close backend: %w", err)
		e.log.Error("backend close failed", slog.String("error", err.Error()))
	}
	e.log.Info("engine stopped")
}

func (e *Engine) handleFrame(f frame, now time.Time) {
	channels, err := e.norm.Normalize(f.pcm, f.sampleRate, f.channels)
	if err != nil {
		e.log.Warn("dropping malformed frame", slog.String("error", err.Error()))
		return
	}

	switch e.mode {
	case config.ModeMono:
		e.streams[0].acc.Push(audio.Downmix(channels))
	case config.ModeDual:
		if len(channels) < 2 {
			e.log.Warn("dual mode frame with too few channels", slog.Int("channels", len(channels)))
			return
		}
		e.streams[0].acc.Push(channels[0])
		e.streams[1].acc.Push(channels[1])
	}

	for _, s := range e.streams {
		for {
			window, ok := s.acc.Extract()
			if !ok {
				break
			}
			e.processWindow(s, window, now)
		}
	}
}

func (e *Engine) processWindow(s *stream, window []float32, now time.Time) {
	e.metrics.addWindow(s.id)

	decision := s.det.Classify(window, now)
	boundary := s.boundary.Detect(decision.Speech, s.windowDur, now)
	verdict := s.gate.Check(decision, boundary, s.windowDur, now)

	if verdict.EnteredSilence {
		e.enterSilence(s, decision)
		return
	}
	if !verdict.Dispatch {
		e.metrics.addSuppression(s.id)
		return
	}

	prompt := s.context
	if s.gate.RecentSilence(now) || s.gate.LowQualityCount() > 0 {
		prompt = ""
	}

	if !e.disp.enqueue(request{
		streamID:   s.id,
		generation: e.generation,
		samples:    window,
		language:   s.language,
		prompt:     prompt,
		enqueued:   now,
	}) {
		e.metrics.addSuppression(s.id)
		e.log.Warn("dispatch queue rejected window",
			slog.String("stream", s.id),
			slog.Bool("backend_down", e.disp.Down()))
		return
	}
	e.metrics.addDispatch(s.id)
}

func (e *Engine) enterSilence(s *stream, decision vad.Decision) {
	s.clearContext()
	e.metrics.addSilenceEnter(s.id)
	e.log.Info("silence mode activated",
		slog.String("stream", s.id),
		slog.Float64("speech_ratio", decision.SpeechRatio))
}

func (e *Engine) handleResult(res result, now time.Time) {
	if res.generation != e.generation {
		return // stale result from before a mode switch
	}
	s := e.streamByID(res.streamID)
	if s == nil {
		return
	}

	if res.err != nil {
		e.handleResultError(s, res.err, now)
		return
	}

	r := s.refiner.Process(res.text, now)
	switch {
	case r.Blank:
		e.noteLowQuality(s, now)
	case r.Duplicate:
		e.log.Debug("dropping duplicate text", slog.String("stream", s.id))
	case r.Text != "":
		lowBefore := s.gate.LowQualityCount()
		s.gate.NoteGoodResult()

		e.metrics.addEmitted(s.id)
		e.onText(TextEvent{
			Stream:      s.id,
			Channel:     s.channel,
			Speaker:     s.speaker,
			Language:    s.language,
			Text:        r.Text,
			RawText:     res.text,
			IsExtension: r.IsExtension,
			Timestamp:   now,
		})

		if lowBefore == 0 && !s.gate.RecentSilence(now) && s.refiner.Carryable(r.Text) {
			s.context = r.Text
		} else {
			s.context = ""
		}
	}
}

func (e *Engine) handleResultError(s *stream, err error, now time.Time) {
	switch {
	case errors.Is(err, ErrBackendDown):
		if !e.down {
			e.down = true
			e.log.Error("backend is down, dispatch disabled until restart",
				slog.String("stream", s.id))
		}
		e.metrics.addBackendError(s.id)
	case errors.Is(err, stt.ErrEmptyResult):
		e.noteLowQuality(s, now)
	default:
		e.metrics.addBackendError(s.id)
		e.log.Warn("transcription failed",
			slog.String("stream", s.id),
			slog.String("error", err.Error()))
	}
}

func (e *Engine) noteLowQuality(s *stream, now time.Time) {
	if s.gate.NoteLowQualityResult(now) {
		s.clearContext()
		e.metrics.addSilenceEnter(s.id)
		e.log.Info("silence mode activated by low quality results",
			slog.String("stream", s.id))
	}
}

func (e *Engine) applyCtrl(msg ctrlMsg) error {
	switch msg.kind {
	case ctrlSetMode:
		return e.applySetMode(msg.mode, msg.inputChannels)
	case ctrlSetLanguage:
		s := e.streamByChannel(msg.channel)
		if s == nil {
			return fmt.Errorf("no stream for channel %d", msg.channel)
		}
		s.language = msg.value
		return nil
	case ctrlSetSpeaker:
		s := e.streamByChannel(msg.channel)
		if s == nil {
			return fmt.Errorf("no stream for channel %d", msg.channel)
		}
		s.speaker = msg.value
		return nil
	default:
		return fmt.Errorf("unknown control message %d", msg.kind)
	}
}

func (e *Engine) applySetMode(mode string, inputChannels int) error {
	switch mode {
	case config.ModeMono:
	case config.ModeDual:
		if inputChannels < 2 {
			return fmt.Errorf("%w: dual mode needs 2 input channels, have %d", ErrUnsupportedMode, inputChannels)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedMode, mode)
	}

	// A mode switch rebuilds every stream from scratch; in-flight results
	// from the old streams are invalidated by the generation bump.
	e.generation++
	e.mode = mode
	e.buildStreams(mode)
	e.log.Info("mode changed", slog.String("mode", mode))
	return nil
}

func (e *Engine) buildStreams(mode string) {
	switch mode {
	case config.ModeDual:
		e.streams = []*stream{
			newStream(StreamLeft, 0, e.cfg.LeftLanguage, e.cfg.LeftSpeaker, e.cfg, e.cfg.DualWindowMS, e.cfg.Gate.DualRateLimitMS),
			newStream(StreamRight, 1, e.cfg.RightLanguage, e.cfg.RightSpeaker, e.cfg, e.cfg.DualWindowMS, e.cfg.Gate.DualRateLimitMS),
		}
	default:
		e.streams = []*stream{
			newStream(StreamMono, 0, e.cfg.Language, e.cfg.LeftSpeaker, e.cfg, e.cfg.MonoWindowMS, e.cfg.Gate.MonoRateLimitMS),
		}
	}
}

func (e *Engine) streamByID(id string) *stream {
	for _, s := range e.streams {
		if s.id == id {
			return s
		}
	}
	return nil
}

func (e *Engine) streamByChannel(channel int) *stream {
	for _, s := range e.streams {
		if s.channel == channel {
			return s
		}
	}
	return nil
}
