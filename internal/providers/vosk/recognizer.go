package vosk

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"hotmic/internal/ports"
)

var (
	errClosed       = errors.New("recognizer is closed")
	errReplyTimeout = errors.New("timed out waiting for the recognition server")
)

// Config controls the vosk-server websocket connection.
type Config struct {
	URL     string
	Timeout time.Duration
}

// Engine implements ports.RecognitionEngine against a vosk-server endpoint.
// Every recognizer gets its own websocket connection.
type Engine struct {
	cfg    Config
	dialer *websocket.Dialer
}

func NewEngine(cfg Config) *Engine {
	if cfg.URL == "" {
		cfg.URL = "ws://localhost:2700"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = cfg.Timeout
	return &Engine{cfg: cfg, dialer: &dialer}
}

func (e *Engine) NewRecognizer(ctx context.Context, sampleRate int) (ports.Recognizer, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	endpoint, err := normalizeURL(e.cfg.URL)
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, e.cfg.Timeout)
	defer cancel()

	conn, _, err := e.dialer.DialContext(dialCtx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognition server %s: %w", endpoint, err)
	}

	rec := newRecognizer(conn, e.cfg.Timeout)
	if err := rec.writeJSON(configMessage{Config: streamConfig{SampleRate: sampleRate}}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to send recognizer config: %w", err)
	}
	rec.wg.Add(1)
	go rec.readLoop()
	return rec, nil
}

type configMessage struct {
	Config streamConfig `json:"config"`
}

type streamConfig struct {
	SampleRate int `json:"sample_rate"`
}

// recognizer speaks the synchronous vosk-server protocol: every binary audio
// message is answered by exactly one JSON result. Replies are read on their
// own goroutine so a reply that misses the timeout is skipped when it finally
// arrives instead of breaking the connection.
type recognizer struct {
	conn    *websocket.Conn
	timeout time.Duration
	replies chan []byte
	done    chan struct{}
	wg      sync.WaitGroup

	errMu   sync.Mutex
	readErr error

	mu      sync.Mutex
	result  []byte
	partial []byte
	owed    int
	closed  bool
	eofSent bool
}

func newRecognizer(conn *websocket.Conn, timeout time.Duration) *recognizer {
	return &recognizer{
		conn:    conn,
		timeout: timeout,
		replies: make(chan []byte, 16),
		done:    make(chan struct{}),
	}
}

func (r *recognizer) AcceptWaveform(pcm []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.eofSent {
		return false, errClosed
	}
	if err := r.write(websocket.BinaryMessage, pcm); err != nil {
		return false, fmt.Errorf("failed to send audio: %w", err)
	}
	payload, late, err := r.await()
	if err != nil {
		return false, err
	}

	boundary, err := isFinal(payload)
	if err != nil {
		return false, err
	}
	if late != "" {
		// A late reply closed an utterance: commit its text now.
		if boundary {
			payload = textResult(joinText(late, textOf(payload)))
		} else {
			payload = textResult(late)
		}
		boundary = true
	}
	if boundary {
		r.result = payload
		r.partial = nil
	} else {
		r.partial = payload
	}
	return boundary, nil
}

func (r *recognizer) Result() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return resultOrEmpty(r.result), nil
}

func (r *recognizer) PartialResult() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return resultOrEmpty(r.partial), nil
}

// FinalResult sends the end-of-stream marker and reads the last result.
func (r *recognizer) FinalResult() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed || r.eofSent {
		return nil, errClosed
	}
	r.eofSent = true
	if err := r.write(websocket.TextMessage, []byte(`{"eof" : 1}`)); err != nil {
		return nil, fmt.Errorf("failed to send end of stream: %w", err)
	}
	payload, late, err := r.await()
	if err != nil {
		return nil, err
	}
	if late != "" {
		payload = textResult(joinText(late, textOf(payload)))
	}
	r.result = payload
	r.partial = nil
	return payload, nil
}

func (r *recognizer) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	close(r.done)

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	_ = r.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(r.timeout))
	err := r.conn.Close()
	r.wg.Wait()
	return err
}

func (r *recognizer) readLoop() {
	defer r.wg.Done()
	defer close(r.replies)

	for {
		kind, payload, err := r.conn.ReadMessage()
		if err != nil {
			r.setErr(err)
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		select {
		case r.replies <- payload:
		case <-r.done:
			return
		}
	}
}

// await returns the reply to the request just written. Replies still owed by
// earlier timed-out requests are consumed first; the committed text they carry
// is returned as late so it is not lost. Callers hold r.mu.
func (r *recognizer) await() ([]byte, string, error) {
	timer := time.NewTimer(r.timeout)
	defer timer.Stop()

	var late string
	for {
		select {
		case payload, ok := <-r.replies:
			if !ok {
				return nil, late, fmt.Errorf("failed to read recognition result: %w", r.err())
			}
			if r.owed > 0 {
				r.owed--
				late = joinText(late, textOf(payload))
				continue
			}
			return payload, late, nil
		case <-timer.C:
			r.owed++
			return nil, late, fmt.Errorf("failed to read recognition result: %w", errReplyTimeout)
		}
	}
}

func (r *recognizer) setErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.readErr == nil {
		r.readErr = err
	}
}

func (r *recognizer) err() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	if r.readErr == nil {
		return errClosed
	}
	return r.readErr
}

func (r *recognizer) writeJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(websocket.TextMessage, payload)
}

func (r *recognizer) write(kind int, payload []byte) error {
	if err := r.conn.SetWriteDeadline(time.Now().Add(r.timeout)); err != nil {
		return err
	}
	return r.conn.WriteMessage(kind, payload)
}

// isFinal reports whether a result carries committed text. vosk-server
// answers with a "text" field on utterance boundaries and "partial" otherwise.
func isFinal(payload []byte) (bool, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(payload, &fields); err != nil {
		return false, fmt.Errorf("invalid recognition result: %w", err)
	}
	_, ok := fields["text"]
	return ok, nil
}

// textOf returns the committed text of a result, or "" for partials.
func textOf(payload []byte) string {
	var res struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(payload, &res); err != nil {
		return ""
	}
	return strings.TrimSpace(res.Text)
}

func textResult(text string) []byte {
	payload, _ := json.Marshal(struct {
		Text string `json:"text"`
	}{Text: text})
	return payload
}

func joinText(a string, b string) string {
	switch {
	case a == "":
		return b
	case b == "":
		return a
	default:
		return a + " " + b
	}
}

func resultOrEmpty(payload []byte) []byte {
	if len(payload) == 0 {
		return []byte(`{}`)
	}
	return append([]byte(nil), payload...)
}

func normalizeURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "https://") {
		raw = "wss://" + strings.TrimPrefix(raw, "https://")
	} else if strings.HasPrefix(raw, "http://") {
		raw = "ws://" + strings.TrimPrefix(raw, "http://")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("invalid recognition server URL: %w", err)
	}
	if parsed.Scheme != "ws" && parsed.Scheme != "wss" {
		return "", fmt.Errorf("invalid recognition server URL %q: scheme must be ws or wss", raw)
	}
	return parsed.String(), nil
}
