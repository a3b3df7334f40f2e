package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"hotmic/internal/domain"
	"hotmic/internal/ports"
)

// FFMPEGSource captures microphone PCM by reading s16le from an ffmpeg child process.
type FFMPEGSource struct {
	command     string
	startupWait time.Duration
}

func NewFFMPEGSource(command string) *FFMPEGSource {
	if command == "" {
		command = "ffmpeg"
	}
	return &FFMPEGSource{command: command, startupWait: 250 * time.Millisecond}
}

func (c *FFMPEGSource) Open(ctx context.Context, cfg ports.AudioConfig, sink ports.FrameSink) (ports.AudioStream, error) {
	if sink == nil {
		return nil, errors.New("frame sink is required")
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.FrameSize <= 0 {
		cfg.FrameSize = 8000
	}
	if cfg.InputFormat == "" {
		cfg.InputFormat = "pulse"
	}
	if isDefaultDevice(cfg.Device) {
		cfg.Device = "default"
	}

	args := []string{
		"-nostdin",
		"-hide_banner",
		"-loglevel", "warning",
		"-f", cfg.InputFormat,
		"-i", cfg.Device,
		"-ac", "1",
		"-ar", strconv.Itoa(cfg.SampleRate),
		"-f", "s16le",
		"-",
	}

	cmd := exec.CommandContext(ctx, c.command, args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &domain.DeviceError{Device: cfg.Device, Err: fmt.Errorf("failed to create ffmpeg stdout pipe: %w", err)}
	}
	if err := cmd.Start(); err != nil {
		return nil, &domain.DeviceError{Device: cfg.Device, Err: fmt.Errorf("failed to start ffmpeg: %w", err)}
	}

	waitErr := make(chan error, 1)
	go func() {
		waitErr <- cmd.Wait()
		close(waitErr)
	}()

	select {
	case err := <-waitErr:
		if err != nil {
			return nil, &domain.DeviceError{Device: cfg.Device, Err: fmt.Errorf("ffmpeg exited before capture started: %w: %s", err, trimmed(stderr.String()))}
		}
		return nil, &domain.DeviceError{Device: cfg.Device, Err: errors.New("ffmpeg exited before capture started")}
	case <-time.After(c.startupWait):
	}

	stream := &ffmpegStream{
		stdout:   stdout,
		stderr:   stderr,
		process:  cmd.Process,
		waitErr:  waitErr,
		rate:     cfg.SampleRate,
		readDone: make(chan struct{}),
	}
	go stream.readLoop(cfg.FrameSize*2, sink)

	slog.Info("audio capture started", "backend", "ffmpeg", "device", cfg.Device, "sample_rate", cfg.SampleRate, "frame_size", cfg.FrameSize)
	return stream, nil
}

type ffmpegStream struct {
	stdout io.ReadCloser
	stderr *lockedBuffer

	process *os.Process
	waitErr <-chan error
	rate    int

	readDone chan struct{}

	stopOnce sync.Once
	stopErr  error
}

func (s *ffmpegStream) SampleRate() int { return s.rate }

// readLoop slices stdout into fixed-size frames. A short final read is
// delivered as-is so no captured audio is lost on shutdown.
func (s *ffmpegStream) readLoop(frameBytes int, sink ports.FrameSink) {
	defer close(s.readDone)

	buf := make([]byte, frameBytes)
	for {
		n, err := io.ReadFull(s.stdout, buf)
		if n > 0 {
			_ = sink.Offer(buf[:n])
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, os.ErrClosed) {
				slog.Warn("ffmpeg capture read failed", "error", err)
			}
			return
		}
	}
}

func (s *ffmpegStream) Close() error {
	s.stopOnce.Do(func() {
		if s.process != nil {
			_ = s.process.Signal(os.Interrupt)
		}

		select {
		case err, ok := <-s.waitErr:
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		case <-time.After(1200 * time.Millisecond):
			if s.process != nil {
				_ = s.process.Kill()
			}
			err, ok := <-s.waitErr
			if ok {
				s.stopErr = normalizeStopErr(err)
			}
		}

		if closeErr := s.stdout.Close(); closeErr != nil && !errors.Is(closeErr, os.ErrClosed) {
			if s.stopErr == nil {
				s.stopErr = closeErr
			}
		}
		<-s.readDone

		if s.stopErr != nil && s.stderr.Len() > 0 {
			s.stopErr = fmt.Errorf("%w: %s", s.stopErr, trimmed(s.stderr.String()))
		}
		slog.Info("audio capture stopped", "backend", "ffmpeg")
	})

	return s.stopErr
}

func normalizeStopErr(err error) error {
	if err == nil {
		return nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return nil
	}
	return err
}

func trimmed(input string) string {
	return string(bytes.TrimSpace([]byte(input)))
}

// lockedBuffer lets the child's stderr be written while Close reads it.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func (b *lockedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Len()
}
