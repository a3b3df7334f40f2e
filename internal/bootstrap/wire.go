package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"hotmic/internal/audio"
	"hotmic/internal/clipboard"
	"hotmic/internal/config"
	"hotmic/internal/domain"
	"hotmic/internal/hotkey"
	"hotmic/internal/metrics"
	"hotmic/internal/notify"
	"hotmic/internal/ports"
	"hotmic/internal/providers/vosk"
	"hotmic/internal/recognition"
	"hotmic/internal/rules"
	"hotmic/internal/ui"
	"hotmic/internal/usecase"
)

// KeyListener forwards OS key events until ctx is done.
type KeyListener interface {
	Listen(ctx context.Context, out chan<- hotkey.KeyEvent)
}

// Services is the assembled runtime graph. Close releases the audio stream.
type Services struct {
	Config     config.Config
	Controller *usecase.RecordingController
	Frames     *audio.Queue
	Events     *ui.Queue
	Detector   *hotkey.Detector
	Listener   KeyListener
	Stream     ports.AudioStream
	Metrics    *metrics.Metrics

	closeOnce sync.Once
	closeErr  error
}

// Build wires every dependency and opens the capture stream. Device
// failures are returned as *domain.DeviceError.
func Build(ctx context.Context, cfg config.Config) (*Services, error) {
	toggle, err := hotkey.ParseCombination(cfg.Hotkey.Toggle)
	if err != nil {
		return nil, fmt.Errorf("toggle hotkey: %w", err)
	}
	quit, err := hotkey.ParseCombination(cfg.Hotkey.Quit)
	if err != nil {
		return nil, fmt.Errorf("quit hotkey: %w", err)
	}
	if toggle.Equal(quit) {
		return nil, errors.New("toggle and quit hotkeys must differ")
	}

	rulesEngine, err := rules.Load(cfg.Rules.Path, cfg.Rules.IterationLimit)
	if err != nil {
		return nil, err
	}

	source, err := NewAudioSource(cfg.Audio)
	if err != nil {
		return nil, err
	}

	m := metrics.New()
	frames := audio.NewQueue(cfg.Audio.QueueSize, m)
	stream, err := source.Open(ctx, ports.AudioConfig{
		Device:      cfg.Audio.Device,
		SampleRate:  cfg.Audio.SampleRate,
		FrameSize:   cfg.Audio.FrameSize,
		InputFormat: cfg.Audio.InputFormat,
	}, frames)
	if err != nil {
		return nil, err
	}

	events := ui.NewQueue()
	opts := []usecase.Option{
		usecase.WithObserver(m),
		usecase.WithNotifier(notify.NewDesktop(cfg.Notify.Enabled)),
	}
	if cfg.Record.DumpDir != "" {
		opts = append(opts, usecase.WithRecorder(audio.NewWAVRecorder(cfg.Record.DumpDir)))
	}

	controller := usecase.NewRecordingController(
		vosk.NewEngine(vosk.Config{URL: cfg.Engine.URL, Timeout: cfg.Engine.Timeout}),
		frames,
		rulesEngine,
		clipboard.NewSystem(),
		events,
		usecase.Config{
			SampleRate: stream.SampleRate(),
			Session: recognition.Config{
				MinDuration:   cfg.Session.MinDuration,
				BatchFrames:   cfg.Session.BatchFrames,
				MaxBatchDelay: cfg.Session.MaxBatchDelay,
			},
			PollInterval: cfg.Session.PollInterval,
		},
		opts...,
	)

	return &Services{
		Config:     cfg,
		Controller: controller,
		Frames:     frames,
		Events:     events,
		Detector:   hotkey.NewDetector(toggle, quit),
		Listener:   hotkey.NewHookListener(),
		Stream:     stream,
		Metrics:    m,
	}, nil
}

// NewAudioSource selects the capture backend.
func NewAudioSource(cfg config.AudioConfig) (ports.AudioSource, error) {
	switch strings.ToLower(cfg.Backend) {
	case "", "portaudio":
		return audio.NewPortAudioSource(), nil
	case "ffmpeg":
		return audio.NewFFMPEGSource(cfg.FFMPEGCommand), nil
	default:
		return nil, fmt.Errorf("unsupported audio backend %q", cfg.Backend)
	}
}

// Run starts the key listener, detector and optional metrics endpoint, then
// drives the controller until it terminates. Background work is stopped
// before Run returns.
func (s *Services) Run(ctx context.Context) {
	bgCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	keys := make(chan hotkey.KeyEvent, 64)
	signals := make(chan domain.Signal, 4)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Listener.Listen(bgCtx, keys)
	}()
	go func() {
		defer wg.Done()
		s.Detector.Run(bgCtx, keys, signals)
	}()

	if addr := s.Config.Metrics.Listen; addr != "" {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Metrics.Serve(bgCtx, addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("metrics endpoint failed", "addr", addr, "error", err)
			}
		}()
	}

	slog.Info("ready",
		"toggle", s.Detector.Toggle().String(),
		"engine", s.Config.Engine.URL,
		"sample_rate", s.Stream.SampleRate(),
	)
	s.Controller.Run(ctx, signals)

	cancel()
	wg.Wait()
}

// Close releases the capture device. It is safe to call more than once.
func (s *Services) Close() error {
	s.closeOnce.Do(func() {
		if s.Stream != nil {
			s.closeErr = s.Stream.Close()
		}
		if dropped := s.Frames.Dropped(); dropped > 0 {
			slog.Warn("audio frames were dropped during the run", "dropped", dropped)
		}
	})
	return s.closeErr
}
