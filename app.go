package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"text/tabwriter"

	"hotmic/internal/audio"
	"hotmic/internal/bootstrap"
	"hotmic/internal/config"
	"hotmic/internal/domain"
	"hotmic/internal/ui"
)

const appName = "hotmic"

// App is the command-line application root.
type App struct {
	stdout io.Writer
	stderr io.Writer

	listDevices func() ([]audio.DeviceInfo, error)
}

func NewApp(stdout io.Writer, stderr io.Writer) *App {
	return &App{
		stdout:      stdout,
		stderr:      stderr,
		listDevices: audio.NewPortAudioSource().ListDevices,
	}
}

// Run parses args, assembles the services and blocks until the quit hotkey
// or ctx ends the run. It returns the process exit code.
func (a *App) Run(ctx context.Context, args []string) int {
	flags, err := config.ParseFlags(appName, args, a.stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		return 1
	}

	cfg, err := loadConfig(flags)
	if err != nil {
		fmt.Fprintf(a.stderr, "%s: %v\n", appName, err)
		return 1
	}
	slog.SetDefault(newLogger(cfg.Logging, a.stderr))

	if flags.ListDevices {
		if err := a.printDevices(); err != nil {
			fmt.Fprintf(a.stderr, "%s: %v\n", appName, err)
			return 1
		}
		return 0
	}

	services, err := bootstrap.Build(ctx, cfg)
	if err != nil {
		fmt.Fprintf(a.stderr, "%s: %s\n", appName, describeStartupError(err))
		return 1
	}
	defer services.Close()

	fmt.Fprintf(a.stdout, "Press %s to start or stop recording, %s to quit.\n", cfg.Hotkey.Toggle, cfg.Hotkey.Quit)

	// The terminal outlives ctx so the final events, Exit included, are drained.
	uiCtx, stopUI := context.WithCancel(context.WithoutCancel(ctx))
	defer stopUI()
	uiDone := make(chan struct{})
	go func() {
		defer close(uiDone)
		ui.NewTerminal(a.stdout).Run(uiCtx, services.Events, ui.PollInterval)
	}()

	services.Run(ctx)
	<-uiDone
	return 0
}

func (a *App) printDevices() error {
	devices, err := a.listDevices()
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(a.stdout, "no input devices found")
		return nil
	}

	w := tabwriter.NewWriter(a.stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tNAME\tHOST API\tCHANNELS\tRATE\t")
	for _, d := range devices {
		marker := ""
		if d.Default {
			marker = "*"
		}
		fmt.Fprintf(w, "%d%s\t%s\t%s\t%d\t%.0f\t\n", d.Index, marker, d.Name, d.HostAPI, d.Channels, d.SampleRate)
	}
	return w.Flush()
}

func loadConfig(flags config.Flags) (config.Config, error) {
	cfg, err := config.Load(flags.ConfigPath)
	if err != nil {
		return config.Config{}, err
	}
	flags.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		return config.Config{}, fmt.Errorf("invalid command-line option: %w", err)
	}
	return cfg, nil
}

func newLogger(cfg config.LoggingConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func describeStartupError(err error) string {
	var deviceErr *domain.DeviceError
	if errors.As(err, &deviceErr) {
		return fmt.Sprintf("%v (run with -list-devices to see available inputs)", err)
	}
	return err.Error()
}
