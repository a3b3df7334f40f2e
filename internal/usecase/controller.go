package usecase

import (
	"context"
	"log/slog"
	"time"

	"hotmic/internal/audio"
	"hotmic/internal/domain"
	"hotmic/internal/metrics"
	"hotmic/internal/ports"
	"hotmic/internal/recognition"
)

const finalizeTimeout = 5 * time.Second

// FrameQueue is the consumer side of the capture queue.
type FrameQueue interface {
	Frames() <-chan audio.Frame
	Drain() int
}

// Observer receives controller metrics.
type Observer interface {
	EngineError()
	SessionFinished(outcome string)
	ObserveFeed(d time.Duration)
	SetRecording(on bool)
}

// Config controls recording behavior.
type Config struct {
	SampleRate   int
	Session      recognition.Config
	PollInterval time.Duration
}

type Option func(*RecordingController)

// WithRecorder dumps each session's raw audio.
func WithRecorder(recorder ports.SessionRecorder) Option {
	return func(c *RecordingController) { c.recorder = recorder }
}

// WithNotifier announces copied transcripts.
func WithNotifier(notifier ports.Notifier) Option {
	return func(c *RecordingController) { c.notifier = notifier }
}

func WithObserver(observer Observer) Option {
	return func(c *RecordingController) { c.observer = observer }
}

// RecordingController is the toggle state machine. All of its state is owned
// by the goroutine calling Run; the exported transition methods exist for
// that goroutine and for tests.
type RecordingController struct {
	engine    ports.RecognitionEngine
	queue     FrameQueue
	events    ports.EventSink
	finalizer transcriptFinalizer
	recorder  ports.SessionRecorder
	notifier  ports.Notifier
	observer  Observer
	cfg       Config

	state    domain.RecorderState
	session  *recognition.Session
	dump     ports.AudioWriter
	rendered string
}

func NewRecordingController(
	engine ports.RecognitionEngine,
	queue FrameQueue,
	rules ports.RulesEngine,
	clipboard ports.Clipboard,
	events ports.EventSink,
	cfg Config,
	opts ...Option,
) *RecordingController {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 100 * time.Millisecond
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	c := &RecordingController{
		engine:    engine,
		queue:     queue,
		events:    events,
		finalizer: newTranscriptFinalizer(rules, clipboard),
		observer:  nopObserver{},
		cfg:       cfg,
		state:     domain.RecorderStateIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the current lifecycle state.
func (c *RecordingController) State() domain.RecorderState {
	return c.state
}

// Session returns the live session, or nil when idle.
func (c *RecordingController) Session() *recognition.Session {
	return c.session
}

// Run drives the state machine until a quit signal arrives or ctx is done.
// A live session is finalized before Exit is emitted.
func (c *RecordingController) Run(ctx context.Context, signals <-chan domain.Signal) {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	frames := c.queue.Frames()
	slog.Info("recording controller ready", "sample_rate", c.cfg.SampleRate)

	for {
		select {
		case <-ctx.Done():
			c.Terminate(context.WithoutCancel(ctx))
			return
		case signal, ok := <-signals:
			if !ok {
				signals = nil
				continue
			}
			switch signal {
			case domain.SignalToggle:
				c.Toggle(ctx)
			case domain.SignalQuit:
				c.Terminate(ctx)
				return
			}
		case frame := <-frames:
			c.HandleFrame(frame)
		case <-ticker.C:
			c.Poll()
		}
	}
}

// Toggle starts a session when idle and finalizes it when recording.
func (c *RecordingController) Toggle(ctx context.Context) (domain.StopResult, error) {
	switch c.state {
	case domain.RecorderStateIdle:
		return domain.StopResult{}, c.start(ctx)
	case domain.RecorderStateRecording:
		return c.stop(ctx), nil
	default:
		return domain.StopResult{}, nil
	}
}

// Terminate finalizes any live session and emits Exit. Later calls do nothing.
func (c *RecordingController) Terminate(ctx context.Context) {
	if c.state == domain.RecorderStateTerminated {
		return
	}
	if c.state == domain.RecorderStateRecording {
		c.stop(ctx)
	}
	c.state = domain.RecorderStateTerminated
	c.events.Emit(domain.UIEvent{Kind: domain.UIEventExit})
	slog.Info("recording controller stopped")
}

func (c *RecordingController) start(ctx context.Context) error {
	if n := c.queue.Drain(); n > 0 {
		slog.Debug("discarded residual audio", "frames", n)
	}

	session, err := recognition.Start(ctx, c.engine, c.cfg.SampleRate, c.cfg.Session)
	if err != nil {
		c.observer.EngineError()
		slog.Error("failed to start recognition session", "error", err)
		c.notify("hotmic", "Speech recognition is unavailable")
		return err
	}

	c.session = session
	c.rendered = ""
	c.state = domain.RecorderStateRecording
	c.observer.SetRecording(true)

	if c.recorder != nil {
		dump, err := c.recorder.Begin(session.ID(), c.cfg.SampleRate)
		if err != nil {
			slog.Warn("audio dump disabled for session", "session_id", session.ID(), "error", err)
		} else {
			c.dump = dump
		}
	}

	slog.Info("recording started", "session_id", session.ID())
	c.events.Emit(domain.UIEvent{Kind: domain.UIEventShow})
	return nil
}

func (c *RecordingController) stop(ctx context.Context) domain.StopResult {
	session := c.session
	c.session = nil
	c.state = domain.RecorderStateIdle
	c.observer.SetRecording(false)

	if _, err := session.Finish(); err != nil {
		c.observer.EngineError()
		slog.Warn("recognition finish failed", "session_id", session.ID(), "error", err)
	}
	c.closeDump(session.ID())

	result := domain.StopResult{SessionID: session.ID(), Captured: session.Captured()}
	raw := session.Transcript()
	outcome := metrics.OutcomeEmpty
	if raw != "" {
		finalizeCtx, cancel := context.WithTimeout(ctx, finalizeTimeout)
		result, outcome = c.finalizer.Finalize(finalizeCtx, session.ID(), raw)
		cancel()
		result.Captured = session.Captured()
		c.events.Emit(domain.UIEvent{Kind: domain.UIEventUpdateText, Text: result.FinalTranscript})
		if result.Copied {
			c.notify("Copied to clipboard", result.FinalTranscript)
		}
	}
	c.observer.SessionFinished(outcome)
	c.events.Emit(domain.UIEvent{Kind: domain.UIEventHide})

	slog.Info("recording stopped",
		"session_id", session.ID(),
		"outcome", outcome,
		"duration", time.Since(session.StartedAt()).Round(time.Millisecond).String(),
	)
	return result
}

// HandleFrame preprocesses one captured frame and hands it to the live session.
// Frames are discarded while idle.
func (c *RecordingController) HandleFrame(frame audio.Frame) {
	if c.state != domain.RecorderStateRecording {
		return
	}
	if c.dump != nil {
		if err := c.dump.Write(frame.Data); err != nil {
			slog.Warn("audio dump write failed, disabling dump", "session_id", c.session.ID(), "error", err)
			c.closeDump(c.session.ID())
		}
	}

	processed := audio.ProcessFrame(frame)
	began := time.Now()
	_, fed, err := c.session.Add(processed.Data)
	c.afterFeed(began, fed, err)
}

// Poll applies the time-based batching rule when no frames arrive.
func (c *RecordingController) Poll() {
	if c.state != domain.RecorderStateRecording {
		return
	}
	began := time.Now()
	_, fed, err := c.session.Poll()
	c.afterFeed(began, fed, err)
}

func (c *RecordingController) afterFeed(began time.Time, fed bool, err error) {
	if err != nil {
		c.observer.EngineError()
		slog.Warn("recognition feed failed", "session_id", c.session.ID(), "error", err)
		return
	}
	if !fed {
		return
	}
	c.observer.ObserveFeed(time.Since(began))
	c.publish()
}

func (c *RecordingController) publish() {
	text := c.session.Transcript()
	if text == c.rendered {
		return
	}
	c.rendered = text
	c.events.Emit(domain.UIEvent{Kind: domain.UIEventUpdateText, Text: text})
}

func (c *RecordingController) closeDump(sessionID string) {
	if c.dump == nil {
		return
	}
	if err := c.dump.Close(); err != nil {
		slog.Warn("failed to close audio dump", "session_id", sessionID, "error", err)
	}
	c.dump = nil
}

func (c *RecordingController) notify(title string, message string) {
	if c.notifier == nil {
		return
	}
	if err := c.notifier.Notify(title, message); err != nil {
		slog.Debug("notification failed", "error", err)
	}
}

type nopObserver struct{}

func (nopObserver) EngineError()              {}
func (nopObserver) SessionFinished(string)    {}
func (nopObserver) ObserveFeed(time.Duration) {}
func (nopObserver) SetRecording(bool)         {}
