package protocol

import "time"

// AudioFrame represents PCM audio data streamed from capture devices.
// PCM is little-endian signed 16-bit, interleaved when Channels > 1.
type AudioFrame struct {
	SessionID  string `json:"session_id"`
	Sequence   int    `json:"sequence"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
	PCM        []byte `json:"pcm"`
	Final      bool   `json:"final"`
}

// TextEvent represents refined transcription output broadcast on the bus.
// One event is published per dispatch that survives the blank-audio and
// duplicate filters.
type TextEvent struct {
	SessionID   string    `json:"session_id"`
	Channel     string    `json:"channel"`
	Speaker     string    `json:"speaker,omitempty"`
	Language    string    `json:"language"`
	Text        string    `json:"text"`
	RawText     string    `json:"raw_text"`
	IsExtension bool      `json:"is_extension"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectAudioFramePrefix = "audio.frame"
	SubjectTextPrefix       = "scribe.text"
)
