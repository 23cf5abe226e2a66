package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-scribe/internal/stt"
)

// ErrBackendDown marks the dispatcher's fatal state after a hung backend
// call. A down backend is never retried; the engine must be rebuilt with a
// fresh backend instance.
var ErrBackendDown = errors.New("transcription backend down, reinitialization required")

// request is one window queued for transcription.
type request struct {
	streamID   string
	generation uint64
	samples    []float32
	language   string
	prompt     string
	enqueued   time.Time
}

// result carries a transcription outcome back to the engine run loop.
type result struct {
	streamID   string
	generation uint64
	text       string
	err        error
}

// dispatcher serializes all backend calls through one worker goroutine.
// Windows from different streams queue in arrival order; the backend is
// assumed non-reentrant and stateful, so calls never overlap.
type dispatcher struct {
	backend stt.Backend
	timeout time.Duration
	log     *slog.Logger

	queue   chan request
	results chan result

	down      atomic.Bool
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func newDispatcher(backend stt.Backend, timeout time.Duration, queueSize int, log *slog.Logger) *dispatcher {
	d := &dispatcher{
		backend: backend,
		timeout: timeout,
		log:     log,
		queue:   make(chan request, queueSize),
		results: make(chan result, queueSize),
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// enqueue adds a request without blocking. Returns false when the queue is
// full or the backend is down; the caller drops the window.
func (d *dispatcher) enqueue(req request) bool {
	if d.down.Load() {
		return false
	}
	select {
	case d.queue <- req:
		return true
	default:
		return false
	}
}

// Results delivers one result per successfully enqueued request, in order.
// The channel closes after close() once the queue drains.
func (d *dispatcher) Results() <-chan result {
	return d.results
}

func (d *dispatcher) Down() bool {
	return d.down.Load()
}

// close stops intake and lets the worker drain the queue. Safe to call more
// than once. The results channel closes when draining finishes.
func (d *dispatcher) close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
}

func (d *dispatcher) run() {
	defer d.wg.Done()
	defer close(d.results)

	for req := range d.queue {
		if d.down.Load() {
			d.results <- result{streamID: req.streamID, generation: req.generation, err: ErrBackendDown}
			continue
		}

		start := time.Now()
		text, err := d.call(req)

		if errors.Is(err, stt.ErrBackendTimeout) {
			// A non-returning backend call is fatal. Retrying would stack
			// requests behind a wedged call and stall every stream.
			d.down.Store(true)
			d.log.Error("backend call timed out, marking backend down",
				slog.String("stream", req.streamID),
				slog.Duration("timeout", d.timeout))
			err = errors.Join(ErrBackendDown, err)
		} else if err == nil {
			d.log.Debug("window transcribed",
				slog.String("stream", req.streamID),
				slog.Duration("latency", time.Since(start)),
				slog.Duration("queued", start.Sub(req.enqueued)))
		}

		d.results <- result{
			streamID:   req.streamID,
			generation: req.generation,
			text:       text,
			err:        err,
		}
	}
}

// call runs one backend invocation under the dispatcher deadline. Backends
// are not trusted to honor context cancellation mid-call (the native whisper
// bindings block inside Process), so the call runs on its own goroutine and
// the worker abandons it once the deadline passes. The abandoned goroutine
// writes into a buffered channel and exits on its own; the backend instance
// is discarded anyway, since a timed-out backend requires reinitialization.
func (d *dispatcher) call(req request) (string, error) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	type outcome struct {
		text string
		err  error
	}
	done := make(chan outcome, 1)
	go func() {
		text, err := d.backend.Transcribe(ctx, req.samples, req.language, req.prompt)
		done <- outcome{text: text, err: err}
	}()

	select {
	case out := <-done:
		return out.text, out.err
	case <-ctx.Done():
		return "", stt.ErrBackendTimeout
	}
}
