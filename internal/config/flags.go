package config

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"strings"
)

// Flags holds parsed command-line values. Only flags the user actually
// passed override the loaded configuration.
type Flags struct {
	ConfigPath  string
	ListDevices bool

	values map[string]string
	set    map[string]bool
}

// ParseFlags parses command-line arguments without touching the global FlagSet.
func ParseFlags(name string, args []string, output io.Writer) (Flags, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	if output != nil {
		fs.SetOutput(output)
	}

	f := Flags{values: map[string]string{}, set: map[string]bool{}}
	fs.StringVar(&f.ConfigPath, "config", "", "path to YAML config file")
	fs.BoolVar(&f.ListDevices, "list-devices", false, "show input devices and exit")

	bindChecked := func(key string, usage string, check func(string) error) {
		fs.Func(key, usage, func(v string) error {
			if check != nil {
				if err := check(strings.TrimSpace(v)); err != nil {
					return err
				}
			}
			f.values[key] = v
			f.set[key] = true
			return nil
		})
	}
	bind := func(key string, usage string) { bindChecked(key, usage, nil) }
	bind("device", "input device (index, name substring, or default)")
	bindChecked("rate", "sample rate in Hz (0 = device default)", checkRate)
	bind("backend", "audio backend: portaudio or ffmpeg")
	bind("engine", "recognition engine websocket URL")
	bind("toggle", "toggle recording hotkey, e.g. ctrl+shift+s")
	bind("quit", "quit hotkey, e.g. ctrl+shift+q")
	bind("dump", "directory for per-recording WAV dumps")
	bind("rules", "transcript rewrite rules file")
	bind("metrics", "listen address for the Prometheus endpoint")
	bind("log-level", "log level: debug, info, warn, error")

	if err := fs.Parse(args); err != nil {
		return Flags{}, err
	}
	return f, nil
}

// Apply writes explicitly set flags into cfg.
func (f Flags) Apply(cfg *Config) {
	if v, ok := f.lookup("device"); ok {
		cfg.Audio.Device = v
	}
	if v, ok := f.lookup("rate"); ok {
		cfg.Audio.SampleRate, _ = strconv.Atoi(v)
	}
	if v, ok := f.lookup("backend"); ok {
		cfg.Audio.Backend = v
	}
	if v, ok := f.lookup("engine"); ok {
		cfg.Engine.URL = v
	}
	if v, ok := f.lookup("toggle"); ok {
		cfg.Hotkey.Toggle = v
	}
	if v, ok := f.lookup("quit"); ok {
		cfg.Hotkey.Quit = v
	}
	if v, ok := f.lookup("dump"); ok {
		cfg.Record.DumpDir = v
	}
	if v, ok := f.lookup("rules"); ok {
		cfg.Rules.Path = v
	}
	if v, ok := f.lookup("metrics"); ok {
		cfg.Metrics.Listen = v
	}
	if v, ok := f.lookup("log-level"); ok {
		cfg.Logging.Level = v
	}
}

func (f Flags) lookup(name string) (string, bool) {
	if !f.set[name] {
		return "", false
	}
	return strings.TrimSpace(f.values[name]), true
}

func checkRate(value string) error {
	rate, err := strconv.Atoi(value)
	if err != nil || rate < 0 {
		return fmt.Errorf("sample rate must be a non-negative integer, got %q", value)
	}
	return nil
}
