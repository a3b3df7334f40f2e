package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"hotmic/internal/ports"
)

// WAVRecorder dumps the raw captured audio of each recording to its own WAV file.
type WAVRecorder struct {
	dir string
}

func NewWAVRecorder(dir string) *WAVRecorder {
	return &WAVRecorder{dir: dir}
}

// Path returns the file a session's audio is written to.
func (r *WAVRecorder) Path(sessionID string) string {
	return filepath.Join(r.dir, fmt.Sprintf("hotmic-%s.wav", sessionID))
}

func (r *WAVRecorder) Begin(sessionID string, sampleRate int) (ports.AudioWriter, error) {
	if sampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", sampleRate)
	}
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create dump dir failed: %w", err)
	}

	path := r.Path(sessionID)
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create wav failed: %w", err)
	}

	return &wavWriter{
		path:   path,
		file:   file,
		enc:    wav.NewEncoder(file, sampleRate, 16, 1, 1),
		format: &goaudio.Format{NumChannels: 1, SampleRate: sampleRate},
	}, nil
}

type wavWriter struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	enc    *wav.Encoder
	format *goaudio.Format
	closed bool
}

func (w *wavWriter) Write(pcm []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return errors.New("wav writer is closed")
	}

	n := len(pcm) / 2
	if n == 0 {
		return nil
	}
	data := make([]int, n)
	for i := 0; i < n; i++ {
		data[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	buf := &goaudio.IntBuffer{Format: w.format, Data: data, SourceBitDepth: 16}
	if err := w.enc.Write(buf); err != nil {
		return fmt.Errorf("wav write failed: %w", err)
	}
	return nil
}

func (w *wavWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	encErr := w.enc.Close()
	fileErr := w.file.Close()
	if encErr != nil {
		return fmt.Errorf("wav close failed: %w", encErr)
	}
	return fileErr
}
