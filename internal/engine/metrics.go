package engine

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// metrics holds the engine's otel instruments. All counters carry a stream
// attribute so mono and dual channels stay distinguishable.
type metrics struct {
	windows       metric.Int64Counter
	dispatches    metric.Int64Counter
	suppressions  metric.Int64Counter
	silenceEnters metric.Int64Counter
	emitted       metric.Int64Counter
	dropped       metric.Int64Counter
	backendErrors metric.Int64Counter
}

func newMetrics() (*metrics, error) {
	meter := otel.Meter("github.com/loqalabs/loqa-scribe/engine")

	m := &metrics{}
	var err error
	if m.windows, err = meter.Int64Counter("scribe.engine.windows",
		metric.WithDescription("Analysis windows extracted from the accumulators")); err != nil {
		return nil, fmt.Errorf("create windows counter: %w", err)
	}
	if m.dispatches, err = meter.Int64Counter("scribe.engine.dispatches",
		metric.WithDescription("Windows sent to the transcription backend")); err != nil {
		return nil, fmt.Errorf("create dispatches counter: %w", err)
	}
	if m.suppressions, err = meter.Int64Counter("scribe.engine.suppressions",
		metric.WithDescription("Windows rejected by the quality gate")); err != nil {
		return nil, fmt.Errorf("create suppressions counter: %w", err)
	}
	if m.silenceEnters, err = meter.Int64Counter("scribe.engine.silence_mode_activations",
		metric.WithDescription("Silence-mode cool-downs triggered")); err != nil {
		return nil, fmt.Errorf("create silence counter: %w", err)
	}
	if m.emitted, err = meter.Int64Counter("scribe.engine.text_emitted",
		metric.WithDescription("Text events emitted after refinement")); err != nil {
		return nil, fmt.Errorf("create emitted counter: %w", err)
	}
	if m.dropped, err = meter.Int64Counter("scribe.engine.frames_dropped",
		metric.WithDescription("Audio frames dropped because intake was full")); err != nil {
		return nil, fmt.Errorf("create dropped counter: %w", err)
	}
	if m.backendErrors, err = meter.Int64Counter("scribe.engine.backend_errors",
		metric.WithDescription("Transcription backend failures")); err != nil {
		return nil, fmt.Errorf("create backend errors counter: %w", err)
	}
	return m, nil
}

func streamAttr(id string) metric.AddOption {
	return metric.WithAttributes(attribute.String("stream", id))
}

func (m *metrics) addWindow(id string) {
	m.windows.Add(context.Background(), 1, streamAttr(id))
}

func (m *metrics) addDispatch(id string) {
	m.dispatches.Add(context.Background(), 1, streamAttr(id))
}

func (m *metrics) addSuppression(id string) {
	m.suppressions.Add(context.Background(), 1, streamAttr(id))
}

func (m *metrics) addSilenceEnter(id string) {
	m.silenceEnters.Add(context.Background(), 1, streamAttr(id))
}

func (m *metrics) addEmitted(id string) {
	m.emitted.Add(context.Background(), 1, streamAttr(id))
}

func (m *metrics) addDropped() {
	m.dropped.Add(context.Background(), 1)
}

func (m *metrics) addBackendError(id string) {
	m.backendErrors.Add(context.Background(), 1, streamAttr(id))
}
