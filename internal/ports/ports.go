package ports

import (
	"context"
	"io"

	"hotmic/internal/domain"
)

// AudioConfig describes how the microphone should be opened.
type AudioConfig struct {
	Device      string
	SampleRate  int
	FrameSize   int
	InputFormat string
}

// FrameSink receives raw PCM from a capture callback. Offer must never block;
// a frame it cannot accept is reported with domain.ErrQueueOverflow.
type FrameSink interface {
	Offer(pcm []byte) error
}

// AudioStream is an open capture stream. Close releases the device and is idempotent.
type AudioStream interface {
	io.Closer
	SampleRate() int
}

// AudioSource opens capture streams that deliver frames into a sink.
type AudioSource interface {
	Open(ctx context.Context, cfg AudioConfig, sink FrameSink) (AudioStream, error)
}

// Recognizer is one engine handle. Results are JSON objects with optional
// "text" (final) or "partial" (interim) fields.
type Recognizer interface {
	// AcceptWaveform submits PCM and reports whether an utterance boundary was reached.
	AcceptWaveform(pcm []byte) (bool, error)
	Result() ([]byte, error)
	PartialResult() ([]byte, error)
	FinalResult() ([]byte, error)
	Close() error
}

// RecognitionEngine creates fresh recognizers, one per recording.
type RecognitionEngine interface {
	NewRecognizer(ctx context.Context, sampleRate int) (Recognizer, error)
}

// RulesEngine rewrites transcripts using deterministic rules.
type RulesEngine interface {
	Apply(text string) (string, error)
}

// Clipboard writes text into the system clipboard.
type Clipboard interface {
	SetText(ctx context.Context, text string) error
}

// EventSink receives ordered display actions.
type EventSink interface {
	Emit(event domain.UIEvent)
}

// Notifier surfaces a short message to the desktop.
type Notifier interface {
	Notify(title string, message string) error
}

// AudioWriter persists the raw audio of one recording.
type AudioWriter interface {
	Write(pcm []byte) error
	Close() error
}

// SessionRecorder creates a writer per recording session.
type SessionRecorder interface {
	Begin(sessionID string, sampleRate int) (AudioWriter, error)
}
