package usecase

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"hotmic/internal/audio"
	"hotmic/internal/domain"
	"hotmic/internal/metrics"
	"hotmic/internal/ports"
	"hotmic/internal/recognition"
)

func TestControllerScenarioToggleOnFeedToggleOff(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(100, 0)}
	rec := &fakeRecognizer{
		partials: []string{`{"partial":"hello"}`},
		final:    `{"text":"hello world"}`,
	}
	engine := &fakeEngine{recognizers: []*fakeRecognizer{rec}}
	clipboard := &fakeClipboard{}
	events := &fakeEventSink{}
	observer := &fakeObserver{}

	c := NewRecordingController(engine, audio.NewQueue(8, nil), &fakeRules{transform: strings.ToUpper}, clipboard, events,
		Config{Session: sessionConfig(clock, 4)}, WithObserver(observer))

	mustToggle(t, c)
	if c.State() != domain.RecorderStateRecording {
		t.Fatalf("expected recording, got %s", c.State())
	}

	clock.advance(300 * time.Millisecond)
	c.HandleFrame(frameOf(0, 0))
	if len(rec.accepted) != 0 {
		t.Fatalf("engine fed before minimum duration")
	}

	clock.advance(300 * time.Millisecond)
	c.HandleFrame(frameOf(1000, -1000))
	if len(rec.accepted) != 1 {
		t.Fatalf("expected one feed at 0.6s, got %d", len(rec.accepted))
	}

	clock.advance(400 * time.Millisecond)
	result := mustToggle(t, c)

	if rec.finalCalls != 1 {
		t.Fatalf("expected exactly one final result request, got %d", rec.finalCalls)
	}
	if result.RawTranscript != "hello world" || result.FinalTranscript != "HELLO WORLD" || !result.Copied {
		t.Fatalf("unexpected result: %+v", result)
	}
	if clipboard.writes() != 1 || clipboard.last() != "HELLO WORLD" {
		t.Fatalf("expected one clipboard write, got %d %q", clipboard.writes(), clipboard.last())
	}
	assertEvents(t, events.snapshot(),
		domain.UIEvent{Kind: domain.UIEventShow},
		domain.UIEvent{Kind: domain.UIEventUpdateText, Text: "hello"},
		domain.UIEvent{Kind: domain.UIEventUpdateText, Text: "HELLO WORLD"},
		domain.UIEvent{Kind: domain.UIEventHide},
	)
	if c.State() != domain.RecorderStateIdle || c.Session() != nil {
		t.Fatalf("expected idle without session")
	}
	if observer.outcomes[metrics.OutcomeCopied] != 1 || observer.feeds != 1 {
		t.Fatalf("unexpected observer state: %+v", observer)
	}
}

func TestControllerRapidDoubleToggleStartsCleanSession(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	first := &fakeRecognizer{partials: []string{`{"partial":"stale"}`}}
	second := &fakeRecognizer{}
	engine := &fakeEngine{recognizers: []*fakeRecognizer{first, second}}
	queue := audio.NewQueue(8, nil)
	c := NewRecordingController(engine, queue, nil, &fakeClipboard{}, &fakeEventSink{}, Config{Session: sessionConfig(clock, 1)})

	mustToggle(t, c)
	firstID := c.Session().ID()
	clock.advance(time.Second)
	c.HandleFrame(frameOf(500))
	mustToggle(t, c)

	// audio captured while the previous session was finalizing
	queue.Offer(pcmOf(1, 2, 3))
	queue.Offer(pcmOf(4, 5, 6))

	mustToggle(t, c)
	session := c.Session()
	if session == nil || session.ID() == firstID {
		t.Fatalf("expected a new session")
	}
	if session.Transcript() != "" || session.Partial() != "" || session.Captured() {
		t.Fatalf("expected clean session, got %q captured=%v", session.Transcript(), session.Captured())
	}
	if queue.Len() != 0 {
		t.Fatalf("expected residual frames to be drained, %d left", queue.Len())
	}
	if engine.created != 2 {
		t.Fatalf("expected a fresh recognizer, got %d", engine.created)
	}
}

func TestControllerFeedFailureDoesNotStall(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	rec := &fakeRecognizer{
		acceptErrs: []error{errors.New("i/o timeout")},
		partials:   []string{`{"partial":"still here"}`},
	}
	events := &fakeEventSink{}
	observer := &fakeObserver{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, audio.NewQueue(8, nil), nil,
		&fakeClipboard{}, events, Config{Session: sessionConfig(clock, 1)}, WithObserver(observer))

	mustToggle(t, c)
	clock.advance(time.Second)
	c.HandleFrame(frameOf(100))
	if observer.engineErrors != 1 {
		t.Fatalf("expected engine error to be counted")
	}

	clock.advance(time.Second)
	c.HandleFrame(frameOf(100))
	if len(rec.accepted) != 1 {
		t.Fatalf("expected next batch to be fed, got %d", len(rec.accepted))
	}
	assertEvents(t, events.snapshot(),
		domain.UIEvent{Kind: domain.UIEventShow},
		domain.UIEvent{Kind: domain.UIEventUpdateText, Text: "still here"},
	)
	if c.State() != domain.RecorderStateRecording {
		t.Fatalf("expected to keep recording, got %s", c.State())
	}
}

func TestControllerFinishFailureStillReturnsToIdle(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	rec := &fakeRecognizer{
		partials: []string{`{"partial":"keep me"}`},
		finalErr: errors.New("connection reset"),
	}
	clipboard := &fakeClipboard{}
	events := &fakeEventSink{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, audio.NewQueue(8, nil), nil,
		clipboard, events, Config{Session: sessionConfig(clock, 1)})

	mustToggle(t, c)
	clock.advance(time.Second)
	c.HandleFrame(frameOf(100))
	result := mustToggle(t, c)

	if c.State() != domain.RecorderStateIdle {
		t.Fatalf("expected idle after failed finish")
	}
	if result.FinalTranscript != "keep me" || clipboard.last() != "keep me" {
		t.Fatalf("expected collected text to survive, got %+v", result)
	}
	events.assertLast(t, domain.UIEvent{Kind: domain.UIEventHide})
}

func TestControllerEmptyTranscriptSkipsClipboard(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{}
	clipboard := &fakeClipboard{}
	events := &fakeEventSink{}
	observer := &fakeObserver{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, audio.NewQueue(8, nil), nil,
		clipboard, events, Config{Session: sessionConfig(&fakeClock{now: time.Unix(0, 0)}, 1)}, WithObserver(observer))

	mustToggle(t, c)
	result := mustToggle(t, c)

	if result.Copied || clipboard.writes() != 0 {
		t.Fatalf("expected no clipboard write")
	}
	if rec.finalCalls != 0 {
		t.Fatalf("expected no final result without captured audio")
	}
	assertEvents(t, events.snapshot(),
		domain.UIEvent{Kind: domain.UIEventShow},
		domain.UIEvent{Kind: domain.UIEventHide},
	)
	if observer.outcomes[metrics.OutcomeEmpty] != 1 {
		t.Fatalf("expected empty outcome, got %+v", observer.outcomes)
	}
}

func TestControllerUpdateTextOnlyOnChange(t *testing.T) {
	t.Parallel()

	clock := &fakeClock{now: time.Unix(0, 0)}
	rec := &fakeRecognizer{partials: []string{`{"partial":"one"}`, `{"partial":"one"}`, `{"partial":"one two"}`}}
	events := &fakeEventSink{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, audio.NewQueue(8, nil), nil,
		&fakeClipboard{}, events, Config{Session: sessionConfig(clock, 1)})

	mustToggle(t, c)
	clock.advance(time.Second)
	for i := 0; i < 3; i++ {
		c.HandleFrame(frameOf(100))
	}
	assertEvents(t, events.snapshot(),
		domain.UIEvent{Kind: domain.UIEventShow},
		domain.UIEvent{Kind: domain.UIEventUpdateText, Text: "one"},
		domain.UIEvent{Kind: domain.UIEventUpdateText, Text: "one two"},
	)
}

func TestControllerDiscardsFramesWhileIdle(t *testing.T) {
	t.Parallel()

	engine := &fakeEngine{}
	c := NewRecordingController(engine, audio.NewQueue(8, nil), nil, &fakeClipboard{}, &fakeEventSink{}, Config{})
	c.HandleFrame(frameOf(1, 2, 3))
	c.Poll()
	if engine.created != 0 {
		t.Fatalf("idle controller touched the engine")
	}
}

func TestControllerEngineUnavailableStaysIdle(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	observer := &fakeObserver{}
	notifier := &fakeNotifier{}
	c := NewRecordingController(&fakeEngine{err: errors.New("connection refused")}, audio.NewQueue(8, nil), nil,
		&fakeClipboard{}, events, Config{}, WithObserver(observer), WithNotifier(notifier))

	if _, err := c.Toggle(context.Background()); !errors.Is(err, domain.ErrEngine) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if c.State() != domain.RecorderStateIdle || len(events.snapshot()) != 0 {
		t.Fatalf("expected idle without UI events")
	}
	if observer.engineErrors != 1 || len(notifier.messages) != 1 {
		t.Fatalf("expected failure to be counted and announced")
	}
}

func TestControllerRulesFailureCopiesRawTranscript(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{final: `{"text":"raw words"}`}
	clipboard := &fakeClipboard{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, audio.NewQueue(8, nil),
		&fakeRules{err: errors.New("bad rules")}, clipboard, &fakeEventSink{},
		Config{Session: sessionConfig(&fakeClock{now: time.Unix(0, 0)}, 1)})

	mustToggle(t, c)
	c.HandleFrame(frameOf(100))
	result := mustToggle(t, c)
	if result.FinalTranscript != "raw words" || clipboard.last() != "raw words" {
		t.Fatalf("expected raw transcript fallback, got %+v", result)
	}
}

func TestControllerClipboardFailureIsNonFatal(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{final: `{"text":"words"}`}
	events := &fakeEventSink{}
	observer := &fakeObserver{}
	notifier := &fakeNotifier{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, audio.NewQueue(8, nil), nil,
		&fakeClipboard{err: errors.New("clipboard down")}, events,
		Config{Session: sessionConfig(&fakeClock{now: time.Unix(0, 0)}, 1)},
		WithObserver(observer), WithNotifier(notifier))

	mustToggle(t, c)
	c.HandleFrame(frameOf(100))
	result := mustToggle(t, c)

	if result.Copied {
		t.Fatalf("expected copied=false")
	}
	if observer.outcomes[metrics.OutcomeClipboardFailed] != 1 {
		t.Fatalf("expected clipboard_failed outcome, got %+v", observer.outcomes)
	}
	if len(notifier.messages) != 0 {
		t.Fatalf("must not announce a failed copy")
	}
	events.assertLast(t, domain.UIEvent{Kind: domain.UIEventHide})
}

func TestControllerDumpsRawAudio(t *testing.T) {
	t.Parallel()

	recorder := &fakeRecorder{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{{}}}, audio.NewQueue(8, nil), nil,
		&fakeClipboard{}, &fakeEventSink{}, Config{SampleRate: 8000, Session: sessionConfig(&fakeClock{now: time.Unix(0, 0)}, 100)},
		WithRecorder(recorder))

	mustToggle(t, c)
	c.HandleFrame(frameOf(10, 20))
	c.HandleFrame(frameOf(30))
	mustToggle(t, c)

	if recorder.rate != 8000 || recorder.sessionID == "" {
		t.Fatalf("unexpected dump setup: %+v", recorder)
	}
	if recorder.writer.bytes != 6 || !recorder.writer.closed {
		t.Fatalf("expected 6 raw bytes and a closed dump, got %+v", recorder.writer)
	}
}

func TestControllerRunHandlesSignalsAndFrames(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{
		boundaries: []bool{true},
		results:    []string{`{"text":"from the loop"}`},
	}
	queue := audio.NewQueue(8, nil)
	clipboard := &fakeClipboard{}
	events := &fakeEventSink{}
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, queue, nil, clipboard, events,
		Config{PollInterval: 5 * time.Millisecond, Session: recognition.Config{BatchFrames: 1}})

	signals := make(chan domain.Signal)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(context.Background(), signals)
	}()

	signals <- domain.SignalToggle
	waitFor(t, func() bool { return events.contains(domain.UIEvent{Kind: domain.UIEventShow}) })
	queue.Offer(pcmOf(100, 200))
	waitFor(t, func() bool { return events.contains(domain.UIEvent{Kind: domain.UIEventUpdateText, Text: "from the loop"}) })
	signals <- domain.SignalToggle
	signals <- domain.SignalQuit

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop on quit")
	}
	if clipboard.last() != "from the loop" {
		t.Fatalf("unexpected clipboard text: %q", clipboard.last())
	}
	events.assertLast(t, domain.UIEvent{Kind: domain.UIEventExit})
	if c.State() != domain.RecorderStateTerminated {
		t.Fatalf("expected terminated, got %s", c.State())
	}
}

func TestControllerCancelFinalizesLiveSession(t *testing.T) {
	t.Parallel()

	rec := &fakeRecognizer{final: `{"text":"unfinished thought"}`}
	clipboard := &fakeClipboard{}
	events := &fakeEventSink{}
	queue := audio.NewQueue(8, nil)
	c := NewRecordingController(&fakeEngine{recognizers: []*fakeRecognizer{rec}}, queue, nil, clipboard, events,
		Config{PollInterval: 5 * time.Millisecond, Session: recognition.Config{BatchFrames: 1}})

	ctx, cancel := context.WithCancel(context.Background())
	signals := make(chan domain.Signal)
	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Run(ctx, signals)
	}()

	signals <- domain.SignalToggle
	waitFor(t, func() bool { return events.contains(domain.UIEvent{Kind: domain.UIEventShow}) })
	queue.Offer(pcmOf(100))
	waitFor(t, func() bool { return rec.acceptedCount() > 0 })
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("controller did not stop on cancel")
	}
	if clipboard.last() != "unfinished thought" {
		t.Fatalf("expected live session to be finalized, got %q", clipboard.last())
	}
	got := events.snapshot()
	if len(got) < 2 || got[len(got)-2].Kind != domain.UIEventHide || got[len(got)-1].Kind != domain.UIEventExit {
		t.Fatalf("expected hide then exit, got %+v", got)
	}
}

func TestTerminateIsIdempotent(t *testing.T) {
	t.Parallel()

	events := &fakeEventSink{}
	c := NewRecordingController(&fakeEngine{}, audio.NewQueue(1, nil), nil, &fakeClipboard{}, events, Config{})
	c.Terminate(context.Background())
	c.Terminate(context.Background())
	if _, err := c.Toggle(context.Background()); err != nil {
		t.Fatalf("toggle after terminate must be ignored, got %v", err)
	}
	assertEvents(t, events.snapshot(), domain.UIEvent{Kind: domain.UIEventExit})
}

func mustToggle(t *testing.T, c *RecordingController) domain.StopResult {
	t.Helper()
	result, err := c.Toggle(context.Background())
	if err != nil {
		t.Fatalf("toggle failed: %v", err)
	}
	return result
}

func sessionConfig(clock *fakeClock, batchFrames int) recognition.Config {
	return recognition.Config{
		MinDuration:   500 * time.Millisecond,
		BatchFrames:   batchFrames,
		MaxBatchDelay: 500 * time.Millisecond,
		Now:           clock.Now,
	}
}

func assertEvents(t *testing.T, got []domain.UIEvent, want ...domain.UIEvent) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("expected %d events, got %+v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event %d: expected %+v, got %+v", i, want[i], got[i])
		}
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met in time")
}

func frameOf(samples ...int16) audio.Frame {
	return audio.Frame{Data: pcmOf(samples...), Captured: time.Now()}
}

func pcmOf(samples ...int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[i*2] = byte(uint16(s))
		out[i*2+1] = byte(uint16(s) >> 8)
	}
	return out
}

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now = c.now.Add(d) }

type fakeEngine struct {
	recognizers []*fakeRecognizer
	err         error
	created     int
}

func (e *fakeEngine) NewRecognizer(context.Context, int) (ports.Recognizer, error) {
	if e.err != nil {
		return nil, e.err
	}
	e.created++
	if len(e.recognizers) == 0 {
		return &fakeRecognizer{}, nil
	}
	next := e.recognizers[0]
	e.recognizers = e.recognizers[1:]
	return next, nil
}

type fakeRecognizer struct {
	mu         sync.Mutex
	boundaries []bool
	results    []string
	partials   []string
	final      string
	acceptErrs []error
	finalErr   error

	accepted   [][]byte
	finalCalls int
}

func (r *fakeRecognizer) AcceptWaveform(pcm []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.acceptErrs) > 0 {
		err := r.acceptErrs[0]
		r.acceptErrs = r.acceptErrs[1:]
		return false, err
	}
	r.accepted = append(r.accepted, append([]byte(nil), pcm...))
	if len(r.boundaries) == 0 {
		return false, nil
	}
	boundary := r.boundaries[0]
	r.boundaries = r.boundaries[1:]
	return boundary, nil
}

func (r *fakeRecognizer) Result() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(&r.results), nil
}

func (r *fakeRecognizer) PartialResult() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return pop(&r.partials), nil
}

func (r *fakeRecognizer) FinalResult() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalCalls++
	if r.finalErr != nil {
		return nil, r.finalErr
	}
	if r.final == "" {
		return []byte(`{"text":""}`), nil
	}
	return []byte(r.final), nil
}

func (r *fakeRecognizer) Close() error { return nil }

func (r *fakeRecognizer) acceptedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.accepted)
}

func pop(queue *[]string) []byte {
	if len(*queue) == 0 {
		return []byte(`{}`)
	}
	next := (*queue)[0]
	*queue = (*queue)[1:]
	return []byte(next)
}

type fakeRules struct {
	transform func(string) string
	err       error
}

func (f *fakeRules) Apply(text string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if f.transform == nil {
		return text, nil
	}
	return f.transform(text), nil
}

type fakeClipboard struct {
	mu    sync.Mutex
	texts []string
	err   error
}

func (f *fakeClipboard) SetText(_ context.Context, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.texts = append(f.texts, text)
	return nil
}

func (f *fakeClipboard) writes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

func (f *fakeClipboard) last() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.texts) == 0 {
		return ""
	}
	return f.texts[len(f.texts)-1]
}

type fakeEventSink struct {
	mu     sync.Mutex
	events []domain.UIEvent
}

func (f *fakeEventSink) Emit(event domain.UIEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
}

func (f *fakeEventSink) snapshot() []domain.UIEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.UIEvent(nil), f.events...)
}

func (f *fakeEventSink) contains(event domain.UIEvent) bool {
	for _, got := range f.snapshot() {
		if got == event {
			return true
		}
	}
	return false
}

func (f *fakeEventSink) assertLast(t *testing.T, want domain.UIEvent) {
	t.Helper()
	got := f.snapshot()
	if len(got) == 0 || got[len(got)-1] != want {
		t.Fatalf("expected last event %+v, got %+v", want, got)
	}
}

type fakeObserver struct {
	engineErrors int
	feeds        int
	outcomes     map[string]int
	recording    bool
}

func (f *fakeObserver) EngineError() { f.engineErrors++ }

func (f *fakeObserver) SessionFinished(outcome string) {
	if f.outcomes == nil {
		f.outcomes = make(map[string]int)
	}
	f.outcomes[outcome]++
}

func (f *fakeObserver) ObserveFeed(time.Duration) { f.feeds++ }

func (f *fakeObserver) SetRecording(on bool) { f.recording = on }

type fakeNotifier struct {
	messages []string
}

func (f *fakeNotifier) Notify(_ string, message string) error {
	f.messages = append(f.messages, message)
	return nil
}

type fakeRecorder struct {
	sessionID string
	rate      int
	writer    *fakeWriter
}

func (f *fakeRecorder) Begin(sessionID string, sampleRate int) (ports.AudioWriter, error) {
	f.sessionID = sessionID
	f.rate = sampleRate
	f.writer = &fakeWriter{}
	return f.writer, nil
}

type fakeWriter struct {
	bytes  int
	closed bool
}

func (f *fakeWriter) Write(pcm []byte) error {
	f.bytes += len(pcm)
	return nil
}

func (f *fakeWriter) Close() error {
	f.closed = true
	return nil
}
