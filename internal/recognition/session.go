package recognition

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

// MinRecordingDuration is the default gate before any audio reaches the engine.
const MinRecordingDuration = 500 * time.Millisecond

// Config controls batching for one session.
type Config struct {
	MinDuration   time.Duration
	BatchFrames   int
	MaxBatchDelay time.Duration
	// Now overrides the clock, mainly for tests.
	Now func() time.Time
}

func (c Config) withDefaults() Config {
	if c.MinDuration < 0 {
		c.MinDuration = 0
	}
	if c.BatchFrames <= 0 {
		c.BatchFrames = 4
	}
	if c.MaxBatchDelay <= 0 {
		c.MaxBatchDelay = MinRecordingDuration
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	return c
}

// Session wraps one recognizer from toggle-on to toggle-off. It is owned by a
// single goroutine and is not safe for concurrent use.
type Session struct {
	id      string
	cfg     Config
	started time.Time
	rec     ports.Recognizer

	pending       bytes.Buffer
	pendingFrames int
	lastFeed      time.Time

	segments []string
	partial  string
	captured bool
	finished bool
}

// Start opens a fresh recognizer. Recognizer state is never shared between sessions.
func Start(ctx context.Context, engine ports.RecognitionEngine, sampleRate int, cfg Config) (*Session, error) {
	cfg = cfg.withDefaults()
	rec, err := engine.NewRecognizer(ctx, sampleRate)
	if err != nil {
		return nil, domain.EngineError("open recognizer", err)
	}
	now := cfg.Now()
	s := &Session{
		id:       uuid.NewString(),
		cfg:      cfg,
		started:  now,
		rec:      rec,
		lastFeed: now,
	}
	slog.Debug("recognition session started", "session_id", s.id, "sample_rate", sampleRate)
	return s, nil
}

func (s *Session) ID() string { return s.id }

func (s *Session) StartedAt() time.Time { return s.started }

// Captured reports whether any audio reached the session.
func (s *Session) Captured() bool { return s.captured }

func (s *Session) Finished() bool { return s.finished }

// Partial returns the current tentative text.
func (s *Session) Partial() string { return s.partial }

// Segments returns a copy of the committed segments.
func (s *Session) Segments() []string {
	return append([]string(nil), s.segments...)
}

// Transcript joins committed segments and the current partial with single spaces.
func (s *Session) Transcript() string {
	parts := make([]string, 0, len(s.segments)+1)
	parts = append(parts, s.segments...)
	if s.partial != "" {
		parts = append(parts, s.partial)
	}
	return strings.Join(parts, " ")
}

// Add buffers one preprocessed frame and feeds the pending batch when the
// batching policy allows it. The bool result reports whether a feed happened.
func (s *Session) Add(pcm []byte) (domain.RecognitionUpdate, bool, error) {
	if s.finished || len(pcm) == 0 {
		return domain.RecognitionUpdate{}, false, nil
	}
	s.pending.Write(pcm)
	s.pendingFrames++
	s.captured = true
	return s.feedIfDue(true)
}

// Poll feeds pending audio once the batch delay elapsed even if no new frames arrived.
func (s *Session) Poll() (domain.RecognitionUpdate, bool, error) {
	if s.finished {
		return domain.RecognitionUpdate{}, false, nil
	}
	return s.feedIfDue(false)
}

func (s *Session) feedIfDue(countFrames bool) (domain.RecognitionUpdate, bool, error) {
	if s.pending.Len() == 0 {
		return domain.RecognitionUpdate{}, false, nil
	}
	now := s.cfg.Now()
	if now.Sub(s.started) < s.cfg.MinDuration {
		return domain.RecognitionUpdate{}, false, nil
	}
	full := countFrames && s.pendingFrames >= s.cfg.BatchFrames
	late := now.Sub(s.lastFeed) >= s.cfg.MaxBatchDelay
	if !full && !late {
		return domain.RecognitionUpdate{}, false, nil
	}
	update, err := s.Feed(s.takePending())
	return update, err == nil, err
}

func (s *Session) takePending() []byte {
	batch := append([]byte(nil), s.pending.Bytes()...)
	s.pending.Reset()
	s.pendingFrames = 0
	return batch
}

// Feed submits a batch directly. On an utterance boundary the committed text
// is appended and the partial cleared; otherwise the partial is replaced.
// A failed feed leaves the transcript untouched.
func (s *Session) Feed(batch []byte) (domain.RecognitionUpdate, error) {
	if s.finished {
		return domain.RecognitionUpdate{Kind: domain.UpdateKindFinal}, nil
	}
	s.lastFeed = s.cfg.Now()
	if len(batch) > 0 {
		s.captured = true
	}

	boundary, err := s.rec.AcceptWaveform(batch)
	if err != nil {
		return domain.RecognitionUpdate{}, domain.EngineError("accept waveform", err)
	}

	if boundary {
		raw, err := s.rec.Result()
		if err != nil {
			return domain.RecognitionUpdate{}, domain.EngineError("result", err)
		}
		r, err := parseResult(raw)
		if err != nil {
			return domain.RecognitionUpdate{}, domain.EngineError("result", err)
		}
		s.commit(r.Text)
		s.partial = ""
		return domain.RecognitionUpdate{Kind: domain.UpdateKindFinal, Text: r.Text}, nil
	}

	raw, err := s.rec.PartialResult()
	if err != nil {
		return domain.RecognitionUpdate{}, domain.EngineError("partial result", err)
	}
	r, err := parseResult(raw)
	if err != nil {
		return domain.RecognitionUpdate{}, domain.EngineError("partial result", err)
	}
	s.partial = r.Partial
	return domain.RecognitionUpdate{Kind: domain.UpdateKindPartial, Text: r.Partial}, nil
}

// Finish flushes pending audio, requests the final result when audio was
// captured, and releases the recognizer. Later calls return an empty Final
// without touching the engine. Errors are joined; collected text is kept.
func (s *Session) Finish() (domain.RecognitionUpdate, error) {
	if s.finished {
		return domain.RecognitionUpdate{Kind: domain.UpdateKindFinal}, nil
	}

	var errs []error
	if s.pending.Len() > 0 {
		if _, err := s.Feed(s.takePending()); err != nil {
			errs = append(errs, err)
		}
	}
	s.finished = true

	var text string
	if s.captured {
		var err error
		text, err = s.finalText()
		if err != nil {
			errs = append(errs, err)
			// keep what the engine already showed
			text = s.partial
		}
	}
	s.commit(text)
	s.partial = ""

	if err := s.rec.Close(); err != nil {
		errs = append(errs, domain.EngineError("close recognizer", err))
	}

	slog.Debug("recognition session finished",
		"session_id", s.id,
		"segments", len(s.segments),
		"duration", s.cfg.Now().Sub(s.started).String(),
	)
	return domain.RecognitionUpdate{Kind: domain.UpdateKindFinal, Text: text}, errors.Join(errs...)
}

func (s *Session) finalText() (string, error) {
	raw, err := s.rec.FinalResult()
	if err != nil {
		return "", domain.EngineError("final result", err)
	}
	r, err := parseResult(raw)
	if err != nil {
		return "", domain.EngineError("final result", err)
	}
	return r.Text, nil
}

func (s *Session) commit(text string) {
	text = strings.TrimSpace(text)
	if text != "" {
		s.segments = append(s.segments, text)
	}
}
